package merge

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Conflict marker prefixes. Markers always start at column 0.
const (
	markerLeft  = "<<<<<<<"
	markerSep   = "======="
	markerRight = ">>>>>>>"
)

// ConflictRegion is one contested span of a text merge.
type ConflictRegion struct {
	LeftID  string
	RightID string

	// Left and Right hold each side's lines, newline terminated.
	Left  []string
	Right []string

	// BaseStart and BaseEnd bound the contested base lines [start, end).
	// Regions recovered from a side-car file carry -1 for both.
	BaseStart int
	BaseEnd   int
}

// Outcome is the result of a three-way text merge. Content holds the merged
// text with conflict markers around each region.
type Outcome struct {
	Content   string
	Conflicts int
	Regions   []ConflictRegion
}

// Clean reports whether the merge finished without conflicts.
func (o Outcome) Clean() bool {
	return o.Conflicts == 0
}

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start, end int
	lines      []string
	right      bool
}

// ThreeWay merges left and right, both derived from base, line by line.
//
// Changes on one side only are taken. Identical changes on both sides are
// taken once. Changes whose base ranges overlap, or insertions at the same
// base position, become a conflict region unless both sides agree.
// Adjacent edits that do not overlap merge cleanly.
func ThreeWay(base, left, right, leftID, rightID string) Outcome {
	if left == right {
		return Outcome{Content: left}
	}
	if left == base {
		return Outcome{Content: right}
	}
	if right == base {
		return Outcome{Content: left}
	}

	baseLines := splitLines(base)
	hunks := append(diffHunks(base, left, false), diffHunks(base, right, true)...)
	sort.SliceStable(hunks, func(i, j int) bool {
		if hunks[i].start != hunks[j].start {
			return hunks[i].start < hunks[j].start
		}
		return hunks[i].end < hunks[j].end
	})

	var (
		out     strings.Builder
		outcome Outcome
		pos     int
	)
	for i := 0; i < len(hunks); {
		gs, ge := hunks[i].start, hunks[i].end
		j := i + 1
		for j < len(hunks) {
			h := hunks[j]
			overlaps := h.start < ge
			sameInsert := h.start == h.end && gs == ge && h.start == gs
			if !overlaps && !sameInsert {
				break
			}
			if h.end > ge {
				ge = h.end
			}
			j++
		}
		group := hunks[i:j]
		i = j

		writeLines(&out, baseLines[pos:gs])
		pos = ge

		leftLines, hasLeft := applyHunks(baseLines, gs, ge, group, false)
		rightLines, hasRight := applyHunks(baseLines, gs, ge, group, true)
		switch {
		case !hasRight:
			writeLines(&out, leftLines)
		case !hasLeft:
			writeLines(&out, rightLines)
		case equalLines(leftLines, rightLines):
			writeLines(&out, leftLines)
		default:
			region := ConflictRegion{
				LeftID:    leftID,
				RightID:   rightID,
				Left:      terminate(leftLines),
				Right:     terminate(rightLines),
				BaseStart: gs,
				BaseEnd:   ge,
			}
			writeRegion(&out, region)
			outcome.Regions = append(outcome.Regions, region)
			outcome.Conflicts++
		}
	}
	writeLines(&out, baseLines[pos:])

	outcome.Content = out.String()
	return outcome
}

// diffHunks returns the line hunks turning base into other.
func diffHunks(base, other string, right bool) []hunk {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	a, b, _ := dmp.DiffLinesToRunes(base, other)
	diffs := dmp.DiffMainRunes(a, b, false)
	otherLines := splitLines(other)

	var (
		hunks    []hunk
		cur      *hunk
		basePos  int
		otherPos int
	)
	flush := func() {
		if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
	}
	open := func() {
		if cur == nil {
			cur = &hunk{start: basePos, end: basePos, right: right}
		}
	}

	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			basePos += n
			otherPos += n
		case diffmatchpatch.DiffDelete:
			open()
			basePos += n
			cur.end = basePos
		case diffmatchpatch.DiffInsert:
			open()
			cur.lines = append(cur.lines, otherLines[otherPos:otherPos+n]...)
			otherPos += n
		}
	}
	flush()
	return hunks
}

// applyHunks renders base[gs:ge] with one side's hunks from group applied.
// The flag reports whether that side changed anything in the group.
func applyHunks(base []string, gs, ge int, group []hunk, right bool) ([]string, bool) {
	var (
		out     []string
		pos     = gs
		changed bool
	)
	for _, h := range group {
		if h.right != right {
			continue
		}
		changed = true
		out = append(out, base[pos:h.start]...)
		out = append(out, h.lines...)
		pos = h.end
	}
	if !changed {
		return base[gs:ge], false
	}
	return append(out, base[pos:ge]...), true
}

func writeRegion(out *strings.Builder, r ConflictRegion) {
	if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
		out.WriteByte('\n')
	}
	out.WriteString(markerLeft + " " + r.LeftID + "\n")
	writeLines(out, r.Left)
	out.WriteString(markerSep + "\n")
	writeLines(out, r.Right)
	out.WriteString(markerRight + " " + r.RightID + "\n")
}

func writeLines(out *strings.Builder, lines []string) {
	for _, l := range lines {
		out.WriteString(l)
	}
}

// terminate copies lines, adding a newline to the last one if missing, so
// the closing marker starts on its own line.
func terminate(lines []string) []string {
	out := append([]string(nil), lines...)
	if n := len(out); n > 0 && !strings.HasSuffix(out[n-1], "\n") {
		out[n-1] += "\n"
	}
	return out
}

// splitLines splits s after every newline. A final line without a newline
// is kept as is.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
