// Package llm defines the chat-completion contract used by the agent runner:
// role-tagged messages in, one assistant message (text and/or tool calls)
// out. Provider adapters live in sub-packages.
package llm
