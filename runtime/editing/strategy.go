package editing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// StrategyType names an edit strategy.
	StrategyType string

	// Strategy is the wire form of an edit strategy: a type name and its
	// parameters.
	Strategy struct {
		Type   StrategyType   `json:"type" yaml:"type"`
		Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	}

	// RemoveToolResultParams configures remove_tool_result.
	RemoveToolResultParams struct {
		// KeepRecentN keeps the N most recent tool results untouched.
		KeepRecentN *int `json:"keep_recent_n_tool_results,omitempty"`
		// GtToken only replaces results costing more than this many tokens.
		GtToken *int `json:"gt_token,omitempty"`
		// Placeholder replaces the text of removed results.
		Placeholder string `json:"tool_result_placeholder,omitempty"`
		// KeepTools lists tool names whose results are never replaced.
		KeepTools []string `json:"keep_tools,omitempty"`
	}

	// RemoveToolCallParamsParams configures remove_tool_call_params.
	RemoveToolCallParamsParams struct {
		// GtToken only redacts arguments costing more than this many tokens.
		GtToken *int `json:"gt_token,omitempty"`
		// KeepRecentN keeps the arguments of the N most recent calls.
		KeepRecentN *int `json:"keep_recent_n_tool_calls,omitempty"`
		// KeepTools lists tool names whose arguments are never redacted.
		KeepTools []string `json:"keep_tools,omitempty"`
	}

	// MiddleOutParams configures middle_out.
	MiddleOutParams struct {
		TokenReduceTo int `json:"token_reduce_to"`
	}

	// TokenLimitParams configures token_limit.
	TokenLimitParams struct {
		LimitTokens int `json:"limit_tokens"`
	}

	// StrategyValidationError reports an edit strategy that cannot be run.
	// No message is edited when it is returned.
	StrategyValidationError struct {
		// Index is the position of the strategy in the request.
		Index int
		// Type is the strategy type as given.
		Type StrategyType
		// Err describes the problem.
		Err error
	}
)

// Strategy types.
const (
	StrategyRemoveToolResult     StrategyType = "remove_tool_result"
	StrategyRemoveToolCallParams StrategyType = "remove_tool_call_params"
	StrategyMiddleOut            StrategyType = "middle_out"
	StrategyTokenLimit           StrategyType = "token_limit"
)

// DefaultToolResultPlaceholder replaces removed tool result text.
const DefaultToolResultPlaceholder = "Done"

// RedactedArguments replaces redacted tool call arguments. It is a valid JSON
// object so every provider accepts it.
const RedactedArguments = "{}"

// StrategyTypes lists the known strategy types.
var StrategyTypes = []StrategyType{
	StrategyRemoveToolResult,
	StrategyRemoveToolCallParams,
	StrategyMiddleOut,
	StrategyTokenLimit,
}

var paramSchemas = map[StrategyType]string{
	StrategyRemoveToolResult: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"keep_recent_n_tool_results": {"type": "integer", "minimum": 0},
			"gt_token": {"type": "integer", "minimum": 0},
			"tool_result_placeholder": {"type": "string"},
			"keep_tools": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	StrategyRemoveToolCallParams: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"gt_token": {"type": "integer", "minimum": 0},
			"keep_recent_n_tool_calls": {"type": "integer", "minimum": 0},
			"keep_tools": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	StrategyMiddleOut: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["token_reduce_to"],
		"properties": {
			"token_reduce_to": {"type": "integer", "minimum": 0}
		}
	}`,
	StrategyTokenLimit: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["limit_tokens"],
		"properties": {
			"limit_tokens": {"type": "integer", "minimum": 0}
		}
	}`,
}

var compiledSchemas = sync.OnceValues(func() (map[StrategyType]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	out := make(map[StrategyType]*jsonschema.Schema, len(paramSchemas))
	for typ, src := range paramSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", typ, err)
		}
		url := string(typ) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", typ, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", typ, err)
		}
		out[typ] = s
	}
	return out, nil
})

// Error implements error.
func (e *StrategyValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("edit strategy %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("edit strategy %d (%s): %v", e.Index, e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *StrategyValidationError) Unwrap() error { return e.Err }

// IsStrategyValidation reports whether err is or wraps a
// StrategyValidationError.
func IsStrategyValidation(err error) bool {
	var sv *StrategyValidationError
	return errors.As(err, &sv)
}

// Validate checks every strategy against its parameter schema.
func Validate(strategies []Strategy) error {
	_, err := compile(strategies)
	return err
}

// step is a validated strategy ready to run.
type step struct {
	typ    StrategyType
	params any
}

func compile(strategies []Strategy) ([]step, error) {
	schemas, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(strategies))
	for i, s := range strategies {
		schema, ok := schemas[s.Type]
		if !ok {
			return nil, &StrategyValidationError{Index: i, Type: s.Type, Err: fmt.Errorf("unknown strategy type %q", s.Type)}
		}
		params := s.Params
		if params == nil {
			params = map[string]any{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, &StrategyValidationError{Index: i, Type: s.Type, Err: fmt.Errorf("encode params: %w", err)}
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, &StrategyValidationError{Index: i, Type: s.Type, Err: fmt.Errorf("decode params: %w", err)}
		}
		if err := schema.Validate(doc); err != nil {
			return nil, &StrategyValidationError{Index: i, Type: s.Type, Err: err}
		}
		typed, err := decodeParams(s.Type, raw)
		if err != nil {
			return nil, &StrategyValidationError{Index: i, Type: s.Type, Err: err}
		}
		steps = append(steps, step{typ: s.Type, params: typed})
	}
	return order(steps), nil
}

func decodeParams(typ StrategyType, raw []byte) (any, error) {
	var target any
	switch typ {
	case StrategyRemoveToolResult:
		target = &RemoveToolResultParams{}
	case StrategyRemoveToolCallParams:
		target = &RemoveToolCallParamsParams{}
	case StrategyMiddleOut:
		target = &MiddleOutParams{}
	case StrategyTokenLimit:
		target = &TokenLimitParams{}
	default:
		return nil, fmt.Errorf("unknown strategy type %q", typ)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, err
	}
	switch p := target.(type) {
	case *RemoveToolResultParams:
		if p.Placeholder == "" {
			p.Placeholder = DefaultToolResultPlaceholder
		}
		return *p, nil
	case *RemoveToolCallParamsParams:
		return *p, nil
	case *MiddleOutParams:
		return *p, nil
	case *TokenLimitParams:
		return *p, nil
	}
	return nil, fmt.Errorf("unknown strategy type %q", typ)
}

// order moves every token_limit after the other strategies, keeping the
// relative order within both groups.
func order(steps []step) []step {
	out := slices.Clone(steps)
	slices.SortStableFunc(out, func(a, b step) int {
		return rank(a) - rank(b)
	})
	return out
}

func rank(s step) int {
	if s.typ == StrategyTokenLimit {
		return 1
	}
	return 0
}
