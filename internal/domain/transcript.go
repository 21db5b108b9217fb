package domain

// FilterTranscript returns the human-readable view of a conversation:
// tool-role messages and assistant messages that only carry tool calls are
// dropped. Router and decider prompts use this view, as do the history
// surfaces returned to callers. Handler prompts keep the unfiltered list.
func FilterTranscript(messages []Message) []Message {
	filtered := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleTool || m.HasToolCalls() {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// TrimToEarliestUserMessage drops leading non-user messages so handler
// prompts always open with the user's first message of the window.
func TrimToEarliestUserMessage(messages []Message) []Message {
	for i, m := range messages {
		if m.Role == RoleUser {
			return messages[i:]
		}
	}
	return messages
}
