package editing

import (
	"context"
	"slices"

	"goa.design/acontext/runtime/message"
)

// partRef locates a part inside the region.
type partRef struct {
	msg, part int
}

// removeToolResults replaces the text of old or large tool results with the
// placeholder. Results are ranked newest first. All criteria that are set
// must match for a result to be replaced; with none set nothing changes.
func (r *region) removeToolResults(ctx context.Context, params RemoveToolResultParams) {
	if params.KeepRecentN == nil && params.GtToken == nil {
		return
	}
	names := r.callNames()
	refs := r.refs(message.PartTypeToolResult)
	for rank, ref := range refs {
		res, ok := r.msgs[ref.msg].Parts[ref.part].(message.ToolResultPart)
		if !ok {
			continue
		}
		name := res.Name
		if name == "" {
			name = names[res.ToolCallID]
		}
		if slices.Contains(params.KeepTools, name) {
			continue
		}
		if params.KeepRecentN != nil && rank < *params.KeepRecentN {
			continue
		}
		if params.GtToken != nil && r.partTokens(ctx, res) <= *params.GtToken {
			continue
		}
		res.Text = params.Placeholder
		r.msgs[ref.msg].Parts[ref.part] = res
	}
}

// removeToolCallParams redacts the arguments of old or large tool calls.
// The call id and name are kept so pairing with results stays valid.
func (r *region) removeToolCallParams(ctx context.Context, params RemoveToolCallParamsParams) {
	if params.KeepRecentN == nil && params.GtToken == nil {
		return
	}
	refs := r.refs(message.PartTypeToolCall)
	for rank, ref := range refs {
		call, ok := r.msgs[ref.msg].Parts[ref.part].(message.ToolCallPart)
		if !ok {
			continue
		}
		if call.Arguments == RedactedArguments || slices.Contains(params.KeepTools, call.Name) {
			continue
		}
		if params.KeepRecentN != nil && rank < *params.KeepRecentN {
			continue
		}
		if params.GtToken != nil && r.partTokens(ctx, message.NewTextPart(call.Arguments)) <= *params.GtToken {
			continue
		}
		call.Arguments = RedactedArguments
		r.msgs[ref.msg].Parts[ref.part] = call
	}
}

// refs returns the location of every part of type t, newest first.
func (r *region) refs(t message.PartType) []partRef {
	var refs []partRef
	for i := len(r.msgs) - 1; i >= 0; i-- {
		parts := r.msgs[i].Parts
		for j := len(parts) - 1; j >= 0; j-- {
			if parts[j] != nil && parts[j].Type() == t {
				refs = append(refs, partRef{msg: i, part: j})
			}
		}
	}
	return refs
}

// callNames maps tool call ids to tool names.
func (r *region) callNames() map[string]string {
	names := make(map[string]string)
	for _, m := range r.msgs {
		for _, part := range m.Parts {
			if call, ok := part.(message.ToolCallPart); ok {
				names[call.ID] = call.Name
			}
		}
	}
	return names
}
