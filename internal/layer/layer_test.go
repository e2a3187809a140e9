package layer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayer_Precedence(t *testing.T) {
	for i, l := range All {
		assert.Equal(t, i+1, l.Precedence(), l.String())
	}
	assert.False(t, WorkspaceActive.IsSource())
	assert.True(t, UserLocal.IsSource())
	assert.False(t, Layer(0).IsSource())
	assert.Equal(t, "Layer(42)", Layer(42).String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		want    Layer
		wantErr bool
	}{
		{"GlobalBase", GlobalBase, false},
		{"modescopeproject", ModeScopeProject, false},
		{"user-local", UserLocal, false},
		{"workspaceactive", WorkspaceActive, false},
		{"nope", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLayer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRef_JSON(t *testing.T) {
	ref, err := NewRef(ModeBase, Context{Mode: "claude"})
	require.NoError(t, err)

	data, err := json.Marshal(ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"layer":"ModeBase","ref":"refs/stratum/layers/mode/claude/_"}`, string(data))

	var back Ref
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ref, back)
}

func TestRefPath(t *testing.T) {
	full := Context{Mode: "claude", Scope: "python", Project: "api"}
	tests := []struct {
		layer  Layer
		params Context
		want   string
	}{
		{GlobalBase, Context{}, "refs/stratum/layers/global/_"},
		{ModeBase, Context{Mode: "claude"}, "refs/stratum/layers/mode/claude/_"},
		{ModeScope, Context{Mode: "claude", Scope: "python"}, "refs/stratum/layers/mode/claude/scope/python/_"},
		{ModeScopeProject, full, "refs/stratum/layers/mode/claude/scope/python/project/api/_"},
		{ModeProject, Context{Mode: "claude", Project: "api"}, "refs/stratum/layers/mode/claude/project/api/_"},
		{ScopeBase, Context{Scope: "python"}, "refs/stratum/layers/scope/python/_"},
		{ProjectBase, Context{Project: "api"}, "refs/stratum/layers/project/api/_"},
		{UserLocal, Context{}, "refs/stratum/layers/local/_"},
		{WorkspaceActive, full, "refs/stratum/layers/workspace/_"},
		{WorkspaceActive, Context{}, "refs/stratum/layers/workspace/_"},
	}
	for _, tt := range tests {
		t.Run(tt.layer.String(), func(t *testing.T) {
			got, err := RefPath(tt.layer, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			ref, ctx, err := ParseRef(got)
			require.NoError(t, err)
			assert.Equal(t, tt.layer, ref.Layer)
			if tt.layer != WorkspaceActive {
				assert.Equal(t, tt.params, ctx)
			}
		})
	}
}

func TestRefPath_ParameterErrors(t *testing.T) {
	tests := []struct {
		name      string
		layer     Layer
		params    Context
		wantParam string
	}{
		{"mode missing", ModeBase, Context{}, "mode"},
		{"scope forbidden on mode base", ModeBase, Context{Mode: "m", Scope: "s"}, "scope"},
		{"project forbidden on global", GlobalBase, Context{Project: "p"}, "project"},
		{"project missing", ModeScopeProject, Context{Mode: "m", Scope: "s"}, "project"},
		{"mode forbidden on scope", ScopeBase, Context{Mode: "m", Scope: "s"}, "mode"},
		{"bad characters", ModeBase, Context{Mode: "a b"}, "mode"},
		{"double dot", ProjectBase, Context{Project: "a..b"}, "project"},
		{"lock suffix", ScopeBase, Context{Scope: "x.lock"}, "scope"},
		{"slash", ModeBase, Context{Mode: "a/b"}, "mode"},
		{"leaf marker", ModeBase, Context{Mode: "_"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RefPath(tt.layer, tt.params)

			var perr *ParameterError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantParam, perr.Param)
			assert.Equal(t, tt.layer, perr.Layer)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestValidateComponent(t *testing.T) {
	valid := []string{"claude", "python-3", "api_v2", "a.b", "ünïcode"}
	for _, s := range valid {
		assert.NoError(t, ValidateComponent(s), s)
	}

	invalid := []string{"", ".hidden", "trail.", "x.lock", "a..b", "at@{x", "@", "tab\there", "col:on", "star*", "q?", "br[ack", "back\\slash", "til~de", "car^et"}
	for _, s := range invalid {
		assert.Error(t, ValidateComponent(s), s)
	}
}

func TestParseRef_Rejects(t *testing.T) {
	for _, path := range []string{
		"refs/heads/main",
		"refs/stratum/layers/global",
		"refs/stratum/layers/mode/_",
		"refs/stratum/layers/mode/m/other/x/_",
		"refs/stratum/layers/bogus/_",
	} {
		_, _, err := ParseRef(path)
		assert.Error(t, err, path)
	}
}

func TestContext_Stack(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want []Layer
	}{
		{"empty", Context{}, []Layer{GlobalBase, UserLocal}},
		{"mode only", Context{Mode: "m"}, []Layer{GlobalBase, ModeBase, UserLocal}},
		{"project only", Context{Project: "p"}, []Layer{GlobalBase, ProjectBase, UserLocal}},
		{
			"mode and project",
			Context{Mode: "m", Project: "p"},
			[]Layer{GlobalBase, ModeBase, ModeProject, ProjectBase, UserLocal},
		},
		{
			"everything",
			Context{Mode: "m", Scope: "s", Project: "p"},
			[]Layer{GlobalBase, ModeBase, ModeScope, ModeScopeProject, ModeProject, ScopeBase, ProjectBase, UserLocal},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := tt.ctx.Stack()
			require.NoError(t, err)

			var got []Layer
			for _, r := range refs {
				got = append(got, r.Layer)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContext_StackRefs(t *testing.T) {
	refs, err := Context{Mode: "m", Scope: "s", Project: "p"}.Stack()
	require.NoError(t, err)
	require.Len(t, refs, 8)
	assert.Equal(t, "refs/stratum/layers/global/_", refs[0].Path)
	assert.Equal(t, "refs/stratum/layers/scope/s/_", refs[5].Path)
	assert.Equal(t, "refs/stratum/layers/local/_", refs[7].Path)
}

func TestContext_Validate(t *testing.T) {
	_, err := NewContext("ok", "bad scope", "")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	ctx, err := NewContext("m", "", "p")
	require.NoError(t, err)
	assert.Equal(t, "mode=m,project=p", ctx.String())
	assert.Equal(t, "(none)", Context{}.String())
}
