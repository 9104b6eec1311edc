// Package planner is the conversational task-planning workflow.
//
// A query is classified first. Simple questions get a direct answer from
// a short, bounded tool loop. Project-sized goals are decomposed into
// sub-tasks and the plan is shown to the user; execution suspends until
// they approve, modify or cancel it. Each approved sub-task then runs its
// own reasoning loop that may call tools (catalog search, web search,
// calculators) up to a fixed number of times before a recommendation is
// recorded. Candidates are scored once all sub-tasks are done; weak
// results trigger a bounded replan, good ones go on to the final guide
// and a profile update.
//
// The workflow runs on flowgraph, which checkpoints the ConversationState
// after every step. Engine is the entry point:
//
//	engine, err := planner.NewEngine(client, store,
//	    planner.WithSettings(settings),
//	    planner.WithTools(registry),
//	    planner.WithProfiles(profiles))
//
//	reply, err := engine.StartConversation(ctx, "make a product video", "user-1", "")
//	if reply.Status == planner.StatusPendingApproval {
//	    reply, err = engine.SubmitFeedback(ctx, reply.ThreadID, planner.Feedback{Text: "looks good"})
//	}
package planner
