package layer

import (
	"fmt"
	"strings"
)

// Context is the active mode, scope and project. Empty fields are unset.
// A Context is a plain value; copies never share state.
type Context struct {
	Mode    string
	Scope   string
	Project string
}

// NewContext validates each set field as a ref component.
func NewContext(mode, scope, project string) (Context, error) {
	c := Context{Mode: mode, Scope: scope, Project: project}
	if err := c.Validate(); err != nil {
		return Context{}, err
	}
	return c, nil
}

// Validate checks every set field as a ref component.
func (c Context) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"mode", c.Mode},
		{"scope", c.Scope},
		{"project", c.Project},
	} {
		if f.value == "" {
			continue
		}
		if err := ValidateComponent(f.value); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidParameter, f.name, f.value, err)
		}
	}
	return nil
}

// For returns the parameters of c that l accepts. Forbidden parameters are
// dropped; required ones are kept even when empty.
func (c Context) For(l Layer) Context {
	req := requirements[l]
	out := c
	if req.mode == forbidden {
		out.Mode = ""
	}
	if req.scope == forbidden {
		out.Scope = ""
	}
	if req.project == forbidden {
		out.Project = ""
	}
	return out
}

// Satisfies reports whether c sets every parameter l requires.
func (c Context) Satisfies(l Layer) bool {
	req, ok := requirements[l]
	if !ok {
		return false
	}
	return (req.mode != required || c.Mode != "") &&
		(req.scope != required || c.Scope != "") &&
		(req.project != required || c.Project != "")
}

// Ref returns the ref of l under c, ignoring parameters l forbids.
func (c Context) Ref(l Layer) (Ref, error) {
	return NewRef(l, c.For(l))
}

// Stack returns the source layers active under c, lowest precedence first.
func (c Context) Stack() ([]Ref, error) {
	var refs []Ref
	for _, l := range All {
		if !l.IsSource() || !c.Satisfies(l) {
			continue
		}
		ref, err := c.Ref(l)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Workspace returns the WorkspaceActive ref.
func (c Context) Workspace() Ref {
	ref, _ := NewRef(WorkspaceActive, Context{})
	return ref
}

// String renders c as mode=..,scope=..,project=.. listing set fields only.
func (c Context) String() string {
	var parts []string
	if c.Mode != "" {
		parts = append(parts, "mode="+c.Mode)
	}
	if c.Scope != "" {
		parts = append(parts, "scope="+c.Scope)
	}
	if c.Project != "" {
		parts = append(parts, "project="+c.Project)
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, ",")
}
