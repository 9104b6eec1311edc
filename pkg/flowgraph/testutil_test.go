package flowgraph

import (
	"context"
)

// Counter is a minimal state for arithmetic flows.
type Counter struct {
	Value int
}

// Trip is a state with a loop cursor and a review gate, shaped like a
// small planning conversation.
type Trip struct {
	Stops    []string `json:"stops"`
	Index    int      `json:"index"`
	Visited  []string `json:"visited"`
	Feedback string   `json:"feedback"`
	Approved bool     `json:"approved"`
	Summary  string   `json:"summary"`
}

func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

func passthrough[S any](ctx Context, s S) (S, error) {
	return s, nil
}

// recordNode appends its name to calls every time it runs.
func recordNode[S any](name string, calls *[]string) NodeFunc[S] {
	return func(ctx Context, s S) (S, error) {
		*calls = append(*calls, name)
		return s, nil
	}
}

func testCtx() Context {
	return NewContext(context.Background())
}

// tripGraph builds: plan -> review (interrupt) -> visit (loop) -> summarize -> END.
// review routes to END when feedback is "cancel".
func tripGraph(calls *[]string) *Graph[Trip] {
	plan := func(ctx Context, s Trip) (Trip, error) {
		*calls = append(*calls, "plan")
		s.Stops = []string{"a", "b", "c"}
		s.Index = 0
		return s, nil
	}
	review := func(ctx Context, s Trip) (Trip, error) {
		*calls = append(*calls, "review")
		s.Approved = s.Feedback == "approve"
		return s, nil
	}
	visit := func(ctx Context, s Trip) (Trip, error) {
		*calls = append(*calls, "visit")
		s.Visited = append(append([]string(nil), s.Visited...), s.Stops[s.Index])
		s.Index++
		return s, nil
	}
	summarize := func(ctx Context, s Trip) (Trip, error) {
		*calls = append(*calls, "summarize")
		s.Summary = "visited " + string(rune('0'+len(s.Visited)))
		return s, nil
	}

	return NewGraph[Trip]().
		AddNode("plan", plan).
		AddNode("review", review).
		AddNode("visit", visit).
		AddNode("summarize", summarize).
		AddEdge("plan", "review").
		AddConditionalEdge("review", func(ctx Context, s Trip) string {
			if s.Feedback == "cancel" {
				return END
			}
			return "visit"
		}).
		AddConditionalEdge("visit", func(ctx Context, s Trip) string {
			if s.Index < len(s.Stops) {
				return "visit"
			}
			return "summarize"
		}).
		AddEdge("summarize", END).
		InterruptBefore("review").
		SetEntry("plan")
}
