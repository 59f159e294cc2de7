package compaction

// summarySystemPrompt instructs the summarization call. The sections mirror
// what the agent needs to resume mid-task: intent, state, and next step.
const summarySystemPrompt = `You summarize a conversation between a user and a coding agent so the agent can continue with the original messages removed.

Write a structured summary with these sections, using "None" where a section is empty:

1. Primary request and intent — what the user is trying to accomplish, with any stated constraints.
2. Key technical context — APIs, file paths, commands, and decisions already established.
3. Work completed — files created or modified and what was verified.
4. Errors and fixes — problems hit and how they were resolved.
5. Pending work — tasks discussed but not finished.
6. Current state and next step — exactly where things stand and what the agent should do first when resuming.

Be specific: keep exact identifiers, paths, and error text the agent will need. Do not add commentary about the summarization itself.`

// summaryRequestText is the final user message of the summarization call.
const summaryRequestText = `Summarize the conversation above following your instructions. Output only the summary.`
