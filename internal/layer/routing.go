package layer

// Routing is the set of target flags a command was invoked with. Mode and
// Scope carry names; Project, Global and Local are switches.
type Routing struct {
	Mode    string
	Scope   string
	Project bool
	Global  bool
	Local   bool
}

// flags lists the routing flags that are set, in a fixed order.
func (r Routing) flags() []string {
	var out []string
	if r.Global {
		out = append(out, "--global")
	}
	if r.Local {
		out = append(out, "--local")
	}
	if r.Mode != "" {
		out = append(out, "--mode")
	}
	if r.Scope != "" {
		out = append(out, "--scope")
	}
	if r.Project {
		out = append(out, "--project")
	}
	return out
}

// FromFlags selects the target layer for a write.
//
// --global and --local stand alone. Mode combines with scope and project;
// scope with project requires a mode. With no flags, or only --project,
// writes go to ProjectBase.
func FromFlags(r Routing) (Layer, error) {
	mode, scope := r.Mode != "", r.Scope != ""

	if r.Global || r.Local {
		if r.Global && !r.Local && !mode && !scope && !r.Project {
			return GlobalBase, nil
		}
		if r.Local && !r.Global && !mode && !scope && !r.Project {
			return UserLocal, nil
		}
		return 0, &AmbiguousRoutingError{Flags: r.flags()}
	}

	switch {
	case mode && scope && r.Project:
		return ModeScopeProject, nil
	case mode && scope:
		return ModeScope, nil
	case mode && r.Project:
		return ModeProject, nil
	case mode:
		return ModeBase, nil
	case scope && r.Project:
		return 0, &NoMatchingLayerError{Flags: r.flags()}
	case scope:
		return ScopeBase, nil
	default:
		return ProjectBase, nil
	}
}

// Route selects the target layer for r and builds its ref. Mode and scope
// come from the flags; the project name comes from ctx.
func Route(r Routing, ctx Context) (Ref, error) {
	l, err := FromFlags(r)
	if err != nil {
		return Ref{}, err
	}
	params := Context{Mode: r.Mode, Scope: r.Scope, Project: ctx.Project}
	return NewRef(l, params.For(l))
}
