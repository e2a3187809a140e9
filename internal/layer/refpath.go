package layer

import (
	"fmt"
	"strings"
)

// RefPrefix is the namespace holding every layer ref.
const RefPrefix = "refs/stratum/layers/"

// leaf terminates every layer ref so a leaf never collides with a prefix
// that holds nested refs.
const leaf = "_"

// Ref binds a layer to its concrete ref path.
type Ref struct {
	Layer Layer  `json:"layer"`
	Path  string `json:"ref"`
}

// String returns the ref path.
func (r Ref) String() string {
	return r.Path
}

// IsZero reports whether r is unset.
func (r Ref) IsZero() bool {
	return r.Layer == 0 && r.Path == ""
}

// RefPath builds the ref path for l from params. Parameters the layer
// requires must be set and parameters it forbids must be empty; values are
// checked as git ref components.
func RefPath(l Layer, params Context) (string, error) {
	req, ok := requirements[l]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownLayer, uint8(l))
	}

	checks := []struct {
		name  string
		value string
		req   requirement
	}{
		{"mode", params.Mode, req.mode},
		{"scope", params.Scope, req.scope},
		{"project", params.Project, req.project},
	}
	for _, c := range checks {
		switch {
		case c.req == required && c.value == "":
			return "", &ParameterError{Layer: l, Param: c.name, Reason: "required"}
		case c.req == forbidden && c.value != "":
			return "", &ParameterError{Layer: l, Param: c.name, Value: c.value, Reason: "not accepted by this layer"}
		case c.req == required:
			if err := ValidateComponent(c.value); err != nil {
				return "", &ParameterError{Layer: l, Param: c.name, Value: c.value, Reason: err.Error()}
			}
		}
	}

	var parts []string
	switch l {
	case GlobalBase:
		parts = []string{"global"}
	case ModeBase:
		parts = []string{"mode", params.Mode}
	case ModeScope:
		parts = []string{"mode", params.Mode, "scope", params.Scope}
	case ModeScopeProject:
		parts = []string{"mode", params.Mode, "scope", params.Scope, "project", params.Project}
	case ModeProject:
		parts = []string{"mode", params.Mode, "project", params.Project}
	case ScopeBase:
		parts = []string{"scope", params.Scope}
	case ProjectBase:
		parts = []string{"project", params.Project}
	case UserLocal:
		parts = []string{"local"}
	case WorkspaceActive:
		parts = []string{"workspace"}
	}
	return RefPrefix + strings.Join(append(parts, leaf), "/"), nil
}

// NewRef returns the Ref for l under params.
func NewRef(l Layer, params Context) (Ref, error) {
	path, err := RefPath(l, params)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Layer: l, Path: path}, nil
}

// ParseRef recovers the layer and parameters encoded in a layer ref path.
func ParseRef(path string) (Ref, Context, error) {
	rest, ok := strings.CutPrefix(path, RefPrefix)
	if !ok {
		return Ref{}, Context{}, fmt.Errorf("%w: %s", ErrNotLayerRef, path)
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[len(parts)-1] != leaf {
		return Ref{}, Context{}, fmt.Errorf("%w: %s", ErrNotLayerRef, path)
	}
	parts = parts[:len(parts)-1]

	var (
		l   Layer
		ctx Context
	)
	switch {
	case len(parts) == 1 && parts[0] == "global":
		l = GlobalBase
	case len(parts) == 1 && parts[0] == "local":
		l = UserLocal
	case len(parts) == 1 && parts[0] == "workspace":
		l = WorkspaceActive
	case len(parts) == 2 && parts[0] == "mode":
		l, ctx = ModeBase, Context{Mode: parts[1]}
	case len(parts) == 2 && parts[0] == "scope":
		l, ctx = ScopeBase, Context{Scope: parts[1]}
	case len(parts) == 2 && parts[0] == "project":
		l, ctx = ProjectBase, Context{Project: parts[1]}
	case len(parts) == 4 && parts[0] == "mode" && parts[2] == "scope":
		l, ctx = ModeScope, Context{Mode: parts[1], Scope: parts[3]}
	case len(parts) == 4 && parts[0] == "mode" && parts[2] == "project":
		l, ctx = ModeProject, Context{Mode: parts[1], Project: parts[3]}
	case len(parts) == 6 && parts[0] == "mode" && parts[2] == "scope" && parts[4] == "project":
		l, ctx = ModeScopeProject, Context{Mode: parts[1], Scope: parts[3], Project: parts[5]}
	default:
		return Ref{}, Context{}, fmt.Errorf("%w: %s", ErrNotLayerRef, path)
	}

	ref, err := NewRef(l, ctx)
	if err != nil {
		return Ref{}, Context{}, err
	}
	return ref, ctx, nil
}

// ValidateComponent checks that s can be used as one component of a git
// ref name.
func ValidateComponent(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("empty name")
	case s == leaf:
		return fmt.Errorf("%q is reserved", leaf)
	case s == "@":
		return fmt.Errorf("%q is not a valid ref component", s)
	case strings.HasPrefix(s, "."):
		return fmt.Errorf("must not start with '.'")
	case strings.HasSuffix(s, "."):
		return fmt.Errorf("must not end with '.'")
	case strings.HasSuffix(s, ".lock"):
		return fmt.Errorf("must not end with \".lock\"")
	case strings.Contains(s, ".."):
		return fmt.Errorf("must not contain \"..\"")
	case strings.Contains(s, "@{"):
		return fmt.Errorf("must not contain \"@{\"")
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("must not contain control characters")
		}
		if strings.ContainsRune(" ~^:?*[\\/", r) {
			return fmt.Errorf("must not contain %q", r)
		}
	}
	return nil
}
