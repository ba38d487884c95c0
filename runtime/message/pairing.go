package message

import "fmt"

// SyntheticCallID returns the deterministic tool call id assigned to the
// partIndex-th part of the message at position seq when the provider did not
// supply one.
func SyntheticCallID(seq, partIndex int) string {
	return fmt.Sprintf("call_%d_%d", seq, partIndex)
}

// LinkToolResults rewrites the ids of synthetic tool results in m so they
// reference the oldest unanswered tool call with the same name in history.
// Linked results stay flagged with ExtraSyntheticID; results with no matching
// call keep their synthetic id. Results that lack a tool name inherit the
// name of the call they answer. m is modified in place and returned.
func LinkToolResults(history []*Message, m *Message) *Message {
	if m == nil {
		return m
	}
	fillResultNames(history, m)
	if !hasSyntheticResult(m) {
		return m
	}
	type pendingCall struct {
		id   string
		name string
	}
	answered := make(map[string]bool)
	for _, h := range history {
		for _, p := range h.Parts {
			if r, ok := p.(ToolResultPart); ok {
				answered[r.ToolCallID] = true
			}
		}
	}
	for _, p := range m.Parts {
		if r, ok := p.(ToolResultPart); ok && !ExtraBool(r, ExtraSyntheticID) {
			answered[r.ToolCallID] = true
		}
	}
	var pending []pendingCall
	for _, h := range history {
		for _, p := range h.Parts {
			if c, ok := p.(ToolCallPart); ok && !answered[c.ID] {
				pending = append(pending, pendingCall{id: c.ID, name: c.Name})
			}
		}
	}
	for i, p := range m.Parts {
		r, ok := p.(ToolResultPart)
		if !ok || !ExtraBool(r, ExtraSyntheticID) {
			continue
		}
		for j, c := range pending {
			if c.name != r.Name {
				continue
			}
			r.ToolCallID = c.id
			m.Parts[i] = r
			pending = append(pending[:j], pending[j+1:]...)
			break
		}
	}
	return m
}

func fillResultNames(history []*Message, m *Message) {
	var names map[string]string
	for i, p := range m.Parts {
		r, ok := p.(ToolResultPart)
		if !ok || r.Name != "" || ExtraBool(r, ExtraSyntheticID) {
			continue
		}
		if names == nil {
			names = make(map[string]string)
			for _, h := range history {
				for _, hp := range h.Parts {
					if c, ok := hp.(ToolCallPart); ok {
						names[c.ID] = c.Name
					}
				}
			}
		}
		if name := names[r.ToolCallID]; name != "" {
			r.Name = name
			m.Parts[i] = r
		}
	}
}

func hasSyntheticResult(m *Message) bool {
	for _, p := range m.Parts {
		if r, ok := p.(ToolResultPart); ok && ExtraBool(r, ExtraSyntheticID) {
			return true
		}
	}
	return false
}

// ToolCallIDs returns the ids of every tool call part in msgs.
func ToolCallIDs(msgs []*Message) map[string]bool {
	ids := make(map[string]bool)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if c, ok := p.(ToolCallPart); ok {
				ids[c.ID] = true
			}
		}
	}
	return ids
}

// ToolResultIDs returns the tool call ids referenced by every tool result
// part in msgs.
func ToolResultIDs(msgs []*Message) map[string]bool {
	ids := make(map[string]bool)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if r, ok := p.(ToolResultPart); ok {
				ids[r.ToolCallID] = true
			}
		}
	}
	return ids
}
