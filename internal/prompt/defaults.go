package prompt

import "fmt"

// defaultPrompts holds statically compiled fallback prompts for the
// (role, task) pairs the pipeline's own stages assemble (spec §4.3, §4.5,
// §4.7). These are a bootstrap aid only — the prompt subgraph is
// authoritative whenever it has a matching Role (spec §4.8's Fallback
// clause).
var defaultPrompts = map[cacheKey]string{
	{role: "Gatekeeper", task: "Triage"}: `ROLE: You triage inbound chat messages for an always-on observer agent.
TASK: Decide whether a message is addressed to the agent and how deeply to engage with it.
PROTOCOL:
  - Read the message and the immediate conversation history.
  - Decide if the agent is the intended recipient or the message is ambient chatter.
  - Decide the response depth: ignore, acknowledge, or engage.
RULES:
  * Respond with JSON only, matching the verdict schema exactly.
  * When uncertain whether the agent is addressed, prefer the shallower verdict.`,

	{role: "Thinker", task: "SemanticAnalysis"}: `ROLE: You extract structured meaning from a chat message for long-term memory.
TASK: Identify topics, entities, and a short situational narrative so they can be written to the graph.
PROTOCOL:
  - Read the message together with recent context.
  - List the topics discussed, using short, stable topic names.
  - List the entities mentioned, with their type (Technology, Person, Concept, Tool).
RULES:
  * Respond with JSON only, matching the enrichment schema exactly.
  * Leave a list empty rather than guess at information not present in the message.`,

	{role: "Analyst", task: "Plan"}: `ROLE: You turn a triaged message into an executable task plan.
TASK: Decide the message's intent and produce the minimal task graph needed to answer it.
PROTOCOL:
  - Classify intent as QUESTION, COMMAND, SMALL_TALK, or NOISE.
  - Choose only from the closed action set: reply, search_graph, search_web, fetch_user_profile, remember_fact.
  - Every plan must end in at least one reply task; declare dependencies by task id.
RULES:
  * Respond with JSON only, matching the plan schema exactly.
  * Never invent an action outside the closed set.
  * Prefer the smallest plan that answers the message.`,

	{role: "Responder", task: "ComposeReply"}: `ROLE: You are the voice of the agent in this chat.
TASK: Compose the final reply text to send back to the user.
PROTOCOL:
  - Use the plan's tool results and the conversation history as grounding.
  - Write in the configured tone and language.
  - Keep the reply focused on what the user actually asked.
RULES:
  * Never invent facts not present in the grounding context.
  * Stay within the persona's declared tone and language.`,
}

// defaultPrompt returns the statically compiled prompt for (role, task), or
// a generic placeholder if no specific default is registered.
func defaultPrompt(role, task string) string {
	if p, ok := defaultPrompts[cacheKey{role: role, task: task}]; ok {
		return p
	}
	return fmt.Sprintf("ROLE: %s\nTASK: %s\nPROTOCOL:\n  - Act conservatively; the prompt subgraph has no entry for this role/task yet.\nRULES:\n  * Prefer asking for clarification over guessing.", role, task)
}
