package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/taskguide/pkg/planner/retrieval"
)

const classifySystemPrompt = `You decide whether a request needs a multi-step plan.

A request is SIMPLE when one answer settles it: a price, a definition, a comparison of two named tools, a quick how-to.
A request is COMPLEX when it describes a project with several stages that each need a different tool, e.g. producing a video from script to upload.

Answer with JSON only:
{"is_complex": true, "reason": "one sentence"}`

const planSystemPrompt = `You break a user's goal into sub-tasks that each map to one category of AI tool.

Rules:
1. Each sub-task must be doable on its own.
2. Produce between %d and %d sub-tasks, in the order they should be done.
3. Give every sub-task exactly one category from this list:
   text-generation, image-generation, video-generation, audio-generation,
   code-generation, productivity, design, research

Answer with JSON only:
{
  "analysis": "short analysis of the request",
  "subtasks": [
    {"id": "task_1", "description": "concrete task", "category": "text-generation"}
  ]
}`

const interpretSystemPrompt = `The assistant proposed a plan and the user replied. Classify the reply.

- approve: the user wants to go ahead ("ok", "go", "sounds good", "yes please").
- modify: the user wants changes ("drop the second step", "free tools only", "add a thumbnail step").
- cancel: the user wants to stop ("cancel", "never mind", "stop", "no thanks").

Answer with JSON only:
{"intent": "approve|modify|cancel", "feedback": "the requested change, empty unless modify"}`

const reviseSystemPrompt = `Revise the plan to follow the user's feedback.

Rules:
1. Remove, change or add sub-tasks as the feedback asks. Removed sub-tasks disappear entirely.
2. Keep the same fields: id, description, category.
3. Keep between %d and %d sub-tasks.

Answer with a JSON array only:
[{"id": "task_1", "description": "...", "category": "..."}]`

const recommendSystemPrompt = `You recommend the best AI tool for one sub-task. Work step by step and call tools when you need facts.

Tools:
- retrieve_docs: search the tool catalog. Call it first, with a query rewritten as tool keywords ("video generation Runway Sora"), not the raw task text.
- web_search: search the web when the catalog had no good match.
- check_tool_freshness, get_current_time: check how current a tool's information is.
- calculate_subscription_cost: only when the user asked about cost.

Do not repeat a call with the same arguments. As soon as you have a good match, stop calling tools and answer in this format:

## Recommended tool: <name>
- Why: fit for this task
- Price: pricing details
- Getting started: two or three steps
- Alternatives: one or two other options`

const answerSystemPrompt = `You answer a user's question about AI tools directly and briefly.
Use the reference material when it is relevant and say so when it is not enough.
Call a tool only when the material lacks a fact you need (a price, a date, a calculation).`

const synthesizeSystemPrompt = `You write a practical workflow guide from a plan and the tool recommended for each step.

Structure:
# <title for the user's goal>
A two-sentence overview.
Then one section per sub-task, in order:
## Step N: <sub-task>
- Tool: name and link if known
- Why this tool
- Price
- How to use it: a numbered walkthrough
Finish with a short "Tips" section that connects the steps.

Use only tools named in the recommendations or the reference material.`

const reflectSystemPrompt = `You extract a user's preferences about AI tools from a conversation.

Fields:
- preferred_categories: tool categories the user showed interest in
- price_preference: "free", "paid ok" or "any", empty if not stated
- interests: kinds of projects or content the user works on
- skill_level: "beginner", "intermediate" or "advanced", empty if unclear
- notes: anything else worth remembering

Only record what the conversation states. Answer with JSON only:
{"preferred_categories": [], "price_preference": "", "interests": [], "skill_level": "", "notes": ""}`

func profileText(s ConversationState) string {
	if s.Profile == nil {
		return "no stored preferences"
	}
	return s.Profile.Summary()
}

func classifyPrompt(s ConversationState) string {
	return fmt.Sprintf("## Request\n%s\n\n## User profile\n%s", s.Query, profileText(s))
}

func planPrompt(s ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Request\n%s\n\n## User profile\n%s\n", s.Query, profileText(s))
	if s.RetryCount > 0 && len(s.Evaluations) > 0 {
		b.WriteString("\n## Previous attempt\nThe previous plan found only weak tool matches:\n")
		for _, e := range s.Evaluations {
			fmt.Fprintf(&b, "- %s: best tool %q scored %.2f\n", e.Description, e.TopTool, e.TopScore)
		}
		b.WriteString("Try a different decomposition or different categories. Do not repeat the previous plan.\n")
	}
	b.WriteString("\nBreak the request into sub-tasks. Answer with JSON only.")
	return b.String()
}

func planSummary(plan []SubTask) string {
	var b strings.Builder
	for i, t := range plan {
		fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, t.Description, t.Category)
	}
	return strings.TrimRight(b.String(), "\n")
}

func interpretPrompt(s ConversationState, reply string) string {
	return fmt.Sprintf("## Current plan\n%s\n\n## User reply\n%s", planSummary(s.Plan), reply)
}

func revisePrompt(s ConversationState, feedback string) string {
	current, _ := json.Marshal(s.Plan)
	return fmt.Sprintf("## Current plan\n%s\n\n## Feedback\n%s\n\nReturn the revised plan as a JSON array.", current, feedback)
}

func evidenceText(results []retrieval.Result, contentLimit int) string {
	if len(results) == 0 {
		return "none"
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s", i+1, r.Name)
		var meta []string
		if r.Category != "" {
			meta = append(meta, r.Category)
		}
		if r.Pricing != "" {
			meta = append(meta, r.Pricing)
		}
		if r.URL != "" {
			meta = append(meta, r.URL)
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
		}
		if c := clip(r.Content, contentLimit); c != "" {
			fmt.Fprintf(&b, ": %s", c)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func recommendPrompt(s ConversationState, task SubTask, window int) string {
	return fmt.Sprintf("## Sub-task\n%s (category: %s)\n\n## Earlier search results\n%s\n\n## User profile\n%s\n\nFind the best tool for this sub-task. Call tools if you need to; answer once you have enough.",
		task.Description, task.Category, evidenceText(s.evidenceWindow(window), 200), profileText(s))
}

func answerPrompt(s ConversationState, n int) string {
	return fmt.Sprintf("## Question\n%s\n\n## Reference material\n%s\n\n## User profile\n%s",
		s.Query, evidenceText(s.evidenceWindow(n), 400), profileText(s))
}

func synthesizePrompt(s ConversationState, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Goal\n%s\n\n## Plan and recommendations\n", s.Query)
	for i, t := range s.Plan {
		fmt.Fprintf(&b, "### Step %d: %s [%s]\n%s\n\n", i+1, t.Description, t.Category, s.Recommendations[t.ID])
	}
	fmt.Fprintf(&b, "## Reference material\n%s\n\n## User profile\n%s\n\nWrite the guide.",
		evidenceText(s.evidenceWindow(n), 300), profileText(s))
	return b.String()
}

func reflectPrompt(s ConversationState) string {
	var b strings.Builder
	b.WriteString("## Conversation\n")
	for _, m := range s.Messages {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, clip(m.Content, 500))
	}
	fmt.Fprintf(&b, "\n## Existing profile\n%s\n\nExtract the preferences as JSON.", profileText(s))
	return b.String()
}

// clip shortens s to n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// ReviewMessage is shown with a plan awaiting approval.
func ReviewMessage(plan []SubTask) string {
	return "Here is the plan I put together:\n\n" + planSummary(plan) +
		"\n\nShall I proceed? Reply approve, modify (with what to change) or cancel."
}

const cancelMessage = "The task was cancelled. Ask me anything else whenever you like."

const interruptedMessage = "The request was interrupted before it finished. Submit feedback on this thread to continue where it stopped."

const failureMessage = "Something went wrong while working on your request. Please rephrase it and try again."

func fallbackRecommendation(task SubTask, cands []ToolCandidate, calls int) string {
	if len(cands) == 0 {
		return fmt.Sprintf("No confident recommendation for %q after %d tool calls. Try searching for %s tools directly.",
			task.Description, calls, task.Category)
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Similarity > best.Similarity {
			best = c
		}
	}
	out := fmt.Sprintf("## Recommended tool: %s\n- Why: closest catalog match found for %q", best.Name, task.Description)
	if best.Pricing != "" {
		out += "\n- Price: " + best.Pricing
	}
	if best.URL != "" {
		out += "\n- Link: " + best.URL
	}
	return out
}

// RenderGuide builds the workflow guide without the reasoning service.
func RenderGuide(s ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow guide: %s\n", s.Query)
	if s.Analysis != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Analysis)
	}
	for i, t := range s.Plan {
		fmt.Fprintf(&b, "\n## Step %d: %s\n", i+1, t.Description)
		rec := strings.TrimSpace(s.Recommendations[t.ID])
		if rec == "" {
			rec = "No recommendation was produced for this step."
		}
		b.WriteString(rec)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func fallbackAnswer(s ConversationState, n int) string {
	ev := s.evidenceWindow(n)
	if len(ev) == 0 {
		return "I could not find an answer to that right now. Please try rephrasing the question."
	}
	return "Here is what I found that may help:\n" + evidenceText(ev, 300)
}
