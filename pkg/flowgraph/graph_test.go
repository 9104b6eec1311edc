package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode_Panics(t *testing.T) {
	tests := []struct {
		name string
		id   string
		fn   NodeFunc[Counter]
		want string
	}{
		{"empty id", "", increment, "flowgraph: node ID cannot be empty"},
		{"reserved END", "END", increment, "flowgraph: node ID cannot be reserved word 'END'"},
		{"reserved __end__", "__end__", increment, "flowgraph: node ID cannot be reserved word 'END'"},
		{"reserved lowercase", "end", increment, "flowgraph: node ID cannot be reserved word 'END'"},
		{"whitespace", "my node", increment, "flowgraph: node ID cannot contain whitespace"},
		{"nil fn", "a", nil, "flowgraph: node function cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PanicsWithValue(t, tt.want, func() {
				NewGraph[Counter]().AddNode(tt.id, tt.fn)
			})
		})
	}
}

func TestAddNode_DuplicatePanics(t *testing.T) {
	g := NewGraph[Counter]().AddNode("a", increment)
	assert.PanicsWithValue(t, "flowgraph: duplicate node ID: a", func() {
		g.AddNode("a", increment)
	})
}

func TestAddConditionalEdge_NilRouterPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewGraph[Counter]().AddConditionalEdge("a", nil)
	})
}

func TestCompile_Valid(t *testing.T) {
	var calls []string
	compiled, err := tripGraph(&calls).Compile()
	require.NoError(t, err)

	assert.Equal(t, "plan", compiled.EntryPoint())
	assert.Equal(t, []string{"plan", "review", "summarize", "visit"}, compiled.NodeIDs())
	assert.Equal(t, []string{"review"}, compiled.Successors("plan"))
	assert.True(t, compiled.IsConditional("visit"))
	assert.False(t, compiled.IsConditional("plan"))
	assert.True(t, compiled.IsInterrupt("review"))
	assert.False(t, compiled.IsInterrupt("visit"))
	assert.Equal(t, []string{"review"}, compiled.Interrupts())
	assert.Nil(t, compiled.Successors(END))
	assert.True(t, compiled.HasNode("visit"))
	assert.False(t, compiled.HasNode("missing"))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		graph   *Graph[Counter]
		wantErr error
		mention string
	}{
		{
			name:    "no entry point",
			graph:   NewGraph[Counter]().AddNode("a", increment).AddEdge("a", END),
			wantErr: ErrNoEntryPoint,
		},
		{
			name:    "entry not found",
			graph:   NewGraph[Counter]().AddNode("a", increment).AddEdge("a", END).SetEntry("ghost"),
			wantErr: ErrEntryNotFound,
			mention: "ghost",
		},
		{
			name:    "missing edge target",
			graph:   NewGraph[Counter]().AddNode("a", increment).AddEdge("a", "ghost").SetEntry("a"),
			wantErr: ErrNodeNotFound,
			mention: "ghost",
		},
		{
			name: "missing edge source",
			graph: NewGraph[Counter]().AddNode("a", increment).
				AddEdge("ghost", "a").AddEdge("a", END).SetEntry("a"),
			wantErr: ErrNodeNotFound,
			mention: "ghost",
		},
		{
			name: "missing interrupt",
			graph: NewGraph[Counter]().AddNode("a", increment).
				AddEdge("a", END).InterruptBefore("ghost").SetEntry("a"),
			wantErr: ErrNodeNotFound,
			mention: "interrupt 'ghost'",
		},
		{
			name: "no path to end",
			graph: NewGraph[Counter]().AddNode("a", increment).AddNode("b", increment).
				AddEdge("a", "b").SetEntry("a"),
			wantErr: ErrNoPathToEnd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.graph.Compile()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.mention != "" {
				assert.Contains(t, err.Error(), tt.mention)
			}
		})
	}
}

func TestCompile_MultipleErrorsJoined(t *testing.T) {
	_, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", "missing1").
		AddEdge("missing2", END).
		Compile()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Contains(t, err.Error(), "missing1")
	assert.Contains(t, err.Error(), "missing2")
}

func TestCompile_IsolatedFromBuilder(t *testing.T) {
	g := NewGraph[Counter]().AddNode("a", increment).AddEdge("a", END).SetEntry("a")
	first, err := g.Compile()
	require.NoError(t, err)

	g.AddNode("b", increment)
	second, err := g.Compile()
	require.NoError(t, err)

	assert.Len(t, first.NodeIDs(), 1)
	assert.Len(t, second.NodeIDs(), 2)
}
