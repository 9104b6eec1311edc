package planner

import (
	"github.com/randalmurphal/taskguide/pkg/flowgraph"
)

// buildGraph wires the conversation workflow:
//
//	classify -> plan -> [review] -> recommend <-> tools
//	                                recommend -> evaluate -> plan (low scores)
//	                                             evaluate -> synthesize -> reflect -> END
//	classify -> simple <-> tools
//	simple -> END
//
// Execution suspends before review until the user answers.
func buildGraph(w *workflow) (*flowgraph.CompiledGraph[ConversationState], error) {
	return flowgraph.NewGraph[ConversationState]().
		AddNode(NodeClassify, abandonOnCancel(w.classify)).
		AddNode(NodePlan, abandonOnCancel(w.plan)).
		AddNode(NodeReview, abandonOnCancel(w.review)).
		AddNode(NodeRecommend, abandonOnCancel(w.recommend)).
		AddNode(NodeTools, abandonOnCancel(w.runTool)).
		AddNode(NodeEvaluate, abandonOnCancel(w.evaluate)).
		AddNode(NodeSynthesize, abandonOnCancel(w.synthesize)).
		AddNode(NodeReflect, abandonOnCancel(w.reflect)).
		AddNode(NodeSimple, abandonOnCancel(w.simple)).
		AddConditionalEdge(NodeClassify, routeClassify).
		AddEdge(NodePlan, NodeReview).
		AddConditionalEdge(NodeReview, routeReview).
		AddConditionalEdge(NodeRecommend, routeRecommend).
		AddConditionalEdge(NodeTools, routeTools).
		AddConditionalEdge(NodeEvaluate, routeEvaluate).
		AddEdge(NodeSynthesize, NodeReflect).
		AddEdge(NodeReflect, flowgraph.END).
		AddConditionalEdge(NodeSimple, routeSimple).
		InterruptBefore(NodeReview).
		SetEntry(NodeClassify).
		Compile()
}

// abandonOnCancel drops a node's result once the caller has gone away.
// Nodes degrade to fallbacks when a call fails, and a fallback produced
// by a cancelled request must not be checkpointed as progress.
func abandonOnCancel(fn flowgraph.NodeFunc[ConversationState]) flowgraph.NodeFunc[ConversationState] {
	return func(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
		next, err := fn(ctx, s)
		if cause := ctx.Err(); cause != nil {
			return s, cause
		}
		return next, err
	}
}

func routeClassify(_ flowgraph.Context, s ConversationState) string {
	if s.IsComplex {
		return NodePlan
	}
	return NodeSimple
}

func routeReview(_ flowgraph.Context, s ConversationState) string {
	if s.Error != "" {
		return flowgraph.END
	}
	return NodeRecommend
}

func routeRecommend(_ flowgraph.Context, s ConversationState) string {
	switch {
	case s.PendingToolCall != nil:
		return NodeTools
	case s.AllTasksDone():
		return NodeEvaluate
	default:
		return NodeRecommend
	}
}

func routeTools(_ flowgraph.Context, s ConversationState) string {
	if s.IsComplex {
		return NodeRecommend
	}
	return NodeSimple
}

func routeEvaluate(_ flowgraph.Context, s ConversationState) string {
	if s.Replanning {
		return NodePlan
	}
	return NodeSynthesize
}

func routeSimple(_ flowgraph.Context, s ConversationState) string {
	if s.PendingToolCall != nil {
		return NodeTools
	}
	return flowgraph.END
}
