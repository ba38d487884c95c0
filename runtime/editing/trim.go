package editing

import (
	"context"

	"goa.design/acontext/runtime/message"
)

// middleOut removes whole messages starting from the middle of the region
// and alternating outward, older side first, until the region fits
// token_reduce_to. The first and last messages are never removed.
func (r *region) middleOut(ctx context.Context, params MiddleOutParams) {
	n := len(r.msgs)
	if n <= 2 {
		return
	}
	costs, total := r.messageCosts(ctx)
	if total <= params.TokenReduceTo {
		return
	}
	drop := make(map[int]bool)
	for _, i := range middleOrder(n) {
		if total <= params.TokenReduceTo {
			break
		}
		drop[i] = true
		total -= costs[i]
	}
	r.remove(drop, true)
}

// middleOrder returns the removable indexes of a region of n messages in
// removal order: the middle first, then alternating older and newer
// neighbors.
func middleOrder(n int) []int {
	mid := (n - 1) / 2
	order := make([]int, 0, n-2)
	for d := 0; len(order) < n-2; d++ {
		if i := mid - d; i >= 1 && i <= n-2 {
			order = append(order, i)
		}
		if d == 0 {
			continue
		}
		if i := mid + d; i >= 1 && i <= n-2 {
			order = append(order, i)
		}
	}
	return order
}

// tokenLimit drops the oldest messages until the region fits limit_tokens.
func (r *region) tokenLimit(ctx context.Context, params TokenLimitParams) {
	costs, total := r.messageCosts(ctx)
	drop := make(map[int]bool)
	for i := 0; i < len(r.msgs) && total > params.LimitTokens; i++ {
		drop[i] = true
		total -= costs[i]
	}
	r.remove(drop, false)
}

// remove drops the messages at the given indexes, then drops tool calls and
// tool results left without their counterpart by the removal. A message
// emptied that way is dropped too, unless keepEnds is set and it is the
// first or last message, in which case it keeps a text placeholder.
func (r *region) remove(drop map[int]bool, keepEnds bool) {
	if len(drop) == 0 {
		return
	}
	calls, results := make(map[string]bool), make(map[string]bool)
	kept := make([]*message.Message, 0, len(r.msgs)-len(drop))
	ends := make(map[*message.Message]bool, 2)
	for i, m := range r.msgs {
		if !drop[i] {
			kept = append(kept, m)
			if i == 0 || i == len(r.msgs)-1 {
				ends[m] = true
			}
			continue
		}
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.ToolCallPart:
				calls[v.ID] = true
			case message.ToolResultPart:
				results[v.ToolCallID] = true
			}
		}
	}
	out := kept[:0]
	for _, m := range kept {
		parts := make([]message.Part, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case message.ToolCallPart:
				if results[v.ID] {
					continue
				}
			case message.ToolResultPart:
				if calls[v.ToolCallID] {
					continue
				}
			}
			parts = append(parts, part)
		}
		if len(parts) == 0 && len(m.Parts) > 0 {
			if !keepEnds || !ends[m] {
				continue
			}
			parts = append(parts, message.NewTextPart(DefaultToolResultPlaceholder))
		}
		m.Parts = parts
		out = append(out, m)
	}
	r.msgs = out
}
