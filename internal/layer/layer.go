// Package layer defines the nine configuration layers, their precedence and
// the refs that hold each layer's history.
//
// Layers are ordered from GlobalBase (lowest) to WorkspaceActive (highest).
// Every layer except WorkspaceActive is a merge source; WorkspaceActive
// records the result of the last merge.
package layer

import (
	"fmt"
	"strings"
)

// Layer is one level of the configuration hierarchy.
type Layer uint8

const (
	// GlobalBase holds settings shared by every context.
	GlobalBase Layer = iota + 1
	// ModeBase holds settings for one mode.
	ModeBase
	// ModeScope holds settings for a mode within a scope.
	ModeScope
	// ModeScopeProject holds settings for a mode within a scope and project.
	ModeScopeProject
	// ModeProject holds settings for a mode within a project.
	ModeProject
	// ScopeBase holds settings for one scope.
	ScopeBase
	// ProjectBase holds settings for one project.
	ProjectBase
	// UserLocal holds the user's machine-local settings.
	UserLocal
	// WorkspaceActive holds the merged workspace. It is never a merge source.
	WorkspaceActive
)

// All lists every layer in precedence order.
var All = []Layer{
	GlobalBase,
	ModeBase,
	ModeScope,
	ModeScopeProject,
	ModeProject,
	ScopeBase,
	ProjectBase,
	UserLocal,
	WorkspaceActive,
}

var layerNames = map[Layer]string{
	GlobalBase:       "GlobalBase",
	ModeBase:         "ModeBase",
	ModeScope:        "ModeScope",
	ModeScopeProject: "ModeScopeProject",
	ModeProject:      "ModeProject",
	ScopeBase:        "ScopeBase",
	ProjectBase:      "ProjectBase",
	UserLocal:        "UserLocal",
	WorkspaceActive:  "WorkspaceActive",
}

// String returns the layer name.
func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Layer(%d)", uint8(l))
}

// Precedence returns 1 for the lowest layer through 9 for the highest.
func (l Layer) Precedence() int {
	return int(l)
}

// Valid reports whether l is one of the nine layers.
func (l Layer) Valid() bool {
	return l >= GlobalBase && l <= WorkspaceActive
}

// IsSource reports whether l contributes content to a merge.
func (l Layer) IsSource() bool {
	return l.Valid() && l != WorkspaceActive
}

// Parse returns the layer with the given name, ignoring case and dashes.
func Parse(name string) (Layer, error) {
	want := strings.ReplaceAll(strings.ToLower(name), "-", "")
	for _, l := range All {
		if strings.ToLower(l.String()) == want {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// MarshalText implements encoding.TextMarshaler.
func (l Layer) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layer) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// requirement says whether a layer needs, rejects or ignores a parameter.
type requirement uint8

const (
	forbidden requirement = iota
	required
	optional
)

type params struct {
	mode, scope, project requirement
}

var requirements = map[Layer]params{
	GlobalBase:       {forbidden, forbidden, forbidden},
	ModeBase:         {required, forbidden, forbidden},
	ModeScope:        {required, required, forbidden},
	ModeScopeProject: {required, required, required},
	ModeProject:      {required, forbidden, required},
	ScopeBase:        {forbidden, required, forbidden},
	ProjectBase:      {forbidden, forbidden, required},
	UserLocal:        {forbidden, forbidden, forbidden},
	WorkspaceActive:  {optional, optional, optional},
}
