package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ConflictSuffix is appended to a target path to name its side-car file.
const ConflictSuffix = ".stratum-conflict"

// Side selects one half of every conflict region.
type Side int

const (
	// Left is the lower layer or the local history ("ours").
	Left Side = iota
	// Right is the higher layer or the remote history ("theirs").
	Right
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case Left:
		return "ours"
	case Right:
		return "theirs"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// ParseSide parses "ours"/"left" or "theirs"/"right".
func ParseSide(name string) (Side, error) {
	switch strings.ToLower(name) {
	case "ours", "left":
		return Left, nil
	case "theirs", "right":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSide, name)
	}
}

// ConflictFile is the marker-annotated rendering of a conflicted merge for
// one target path.
type ConflictFile struct {
	Path    string
	Regions []ConflictRegion
	Text    string
}

// NewConflictFile wraps a conflicted outcome for path.
func NewConflictFile(path string, o Outcome) *ConflictFile {
	return &ConflictFile{
		Path:    path,
		Regions: o.Regions,
		Text:    o.Content,
	}
}

// SidecarPath returns the side-car file name for path.
func SidecarPath(path string) string {
	return path + ConflictSuffix
}

// IsSidecar reports whether name is a side-car file.
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, ConflictSuffix)
}

// WriteConflictFile writes the side-car for path through a temporary file
// and rename. The target file itself is never touched.
func WriteConflictFile(fs afero.Fs, path string, cf *ConflictFile) error {
	sidecar := SidecarPath(path)
	if err := fs.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		return fmt.Errorf("create conflict dir: %w", err)
	}

	tmp := sidecar + ".tmp"
	if err := afero.WriteFile(fs, tmp, []byte(cf.Text), 0o644); err != nil {
		return fmt.Errorf("write conflict file: %w", err)
	}
	if err := fs.Rename(tmp, sidecar); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("rename conflict file: %w", err)
	}
	return nil
}

// ReadConflictFile loads and parses the side-car for path.
func ReadConflictFile(fs afero.Fs, path string) (*ConflictFile, error) {
	data, err := afero.ReadFile(fs, SidecarPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoConflictFile, path)
		}
		return nil, fmt.Errorf("read conflict file: %w", err)
	}
	cf, err := ParseConflictFile(string(data))
	if err != nil {
		return nil, err
	}
	cf.Path = path
	return cf, nil
}

// RemoveConflictFile deletes the side-car for path. A missing side-car is
// not an error.
func RemoveConflictFile(fs afero.Fs, path string) error {
	err := fs.Remove(SidecarPath(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove conflict file: %w", err)
	}
	return nil
}

// ParseConflictFile recovers the regions of a marker-annotated text.
// Unbalanced or nested markers yield a *MalformedConflictError.
func ParseConflictFile(text string) (*ConflictFile, error) {
	cf := &ConflictFile{Text: text}
	err := scanConflicts(text, func(string) {}, func(r ConflictRegion) {
		cf.Regions = append(cf.Regions, r)
	})
	if err != nil {
		return nil, err
	}
	return cf, nil
}

// Resolve renders the text with every region replaced by one side.
func (cf *ConflictFile) Resolve(side Side) (string, error) {
	if side != Left && side != Right {
		return "", fmt.Errorf("%w: %v", ErrUnknownSide, side)
	}

	var out strings.Builder
	err := scanConflicts(cf.Text, func(line string) {
		out.WriteString(line)
	}, func(r ConflictRegion) {
		lines := r.Left
		if side == Right {
			lines = r.Right
		}
		writeLines(&out, lines)
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// scanConflicts walks text, passing plain lines to plain and every
// complete region to region. A separator line only splits a region
// between its start marker and its first separator; elsewhere it is text.
func scanConflicts(text string, plain func(string), region func(ConflictRegion)) error {
	const (
		outside = iota
		inLeft
		inRight
	)

	state := outside
	var (
		cur   ConflictRegion
		start int
	)
	for i, line := range splitLines(text) {
		lineNo := i + 1
		bare := strings.TrimRight(line, "\r\n")

		switch {
		case isMarker(bare, markerLeft):
			if state != outside {
				return &MalformedConflictError{Line: lineNo, Reason: "nested conflict start marker"}
			}
			state = inLeft
			start = lineNo
			cur = ConflictRegion{LeftID: markerID(bare), BaseStart: -1, BaseEnd: -1}

		case bare == markerSep && state == inLeft:
			state = inRight

		case isMarker(bare, markerRight):
			if state != inRight {
				return &MalformedConflictError{Line: lineNo, Reason: "end marker without a matching separator"}
			}
			cur.RightID = markerID(bare)
			region(cur)
			state = outside

		default:
			switch state {
			case inLeft:
				cur.Left = append(cur.Left, line)
			case inRight:
				cur.Right = append(cur.Right, line)
			default:
				plain(line)
			}
		}
	}

	if state != outside {
		return &MalformedConflictError{Line: start, Reason: "unterminated conflict region"}
	}
	return nil
}

func isMarker(line, marker string) bool {
	return line == marker || strings.HasPrefix(line, marker+" ")
}

func markerID(line string) string {
	return strings.TrimPrefix(line[len(markerLeft):], " ")
}
