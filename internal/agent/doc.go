// Package agent runs Swarm-style conversations: an active agent answers with
// its own instructions, and may hand the conversation to another agent through
// a transfer_to_<name> tool call.
package agent
