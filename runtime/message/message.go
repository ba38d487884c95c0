// Package message defines the canonical, provider-agnostic representation of
// conversational messages. Messages ingested from OpenAI, Anthropic or Gemini
// wire formats are normalized into Message values made of ordered Parts, and
// converters rebuild any provider format from them on demand.
//
// Canonical messages are immutable once created. Code that derives a new view
// of a conversation (for example the editing pipeline) must Clone before it
// changes anything.
package message

import (
	"fmt"
	"time"
)

type (
	// Message is one canonical conversation entry.
	Message struct {
		// ID is the durable message identifier.
		ID string
		// SessionID is the session the message belongs to.
		SessionID string
		// ParentID optionally references the previous message in the session.
		ParentID string
		// Role is either RoleUser or RoleAssistant.
		Role Role
		// Parts is the ordered content of the message. Order is significant
		// and preserved end to end.
		Parts []Part
		// Meta holds system keys (see MetaKeySourceFormat) and the wrapped
		// user metadata (see UserMetaKey).
		Meta map[string]any
		// CreatedAt records when the message was ingested.
		CreatedAt time.Time
	}

	// Role is the canonical author of a message.
	Role string

	// Format identifies a wire format messages can be converted from and to.
	Format string
)

const (
	// RoleUser marks messages authored by the end user or by tools.
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by the model.
	RoleAssistant Role = "assistant"
)

const (
	// FormatAcontext is the canonical JSON shape itself.
	FormatAcontext Format = "acontext"
	// FormatOpenAI is the OpenAI Chat Completions message format.
	FormatOpenAI Format = "openai"
	// FormatAnthropic is the Anthropic Messages format.
	FormatAnthropic Format = "anthropic"
	// FormatGemini is the Gemini Content format.
	FormatGemini Format = "gemini"
)

// Message-level meta keys.
const (
	// MetaKeySourceFormat records which wire format produced the message.
	MetaKeySourceFormat = "source_format"
	// MetaKeySenderName records the optional sender name (OpenAI "name").
	MetaKeySenderName = "name"
	// MetaKeyContentForm records how the provider shaped the message content
	// when the default shape would differ. The only value is ContentFormParts.
	MetaKeyContentForm = "__content_form__"
	// UserMetaKey wraps user supplied metadata so it can never collide with
	// system keys.
	UserMetaKey = "__user_meta__"
)

// ContentFormParts indicates the provider sent content as an array of
// blocks rather than a plain string.
const ContentFormParts = "parts"

// Formats lists every supported wire format.
var Formats = []Format{FormatAcontext, FormatOpenAI, FormatAnthropic, FormatGemini}

// ParseFormat validates s and returns the matching Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ParseRole validates s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q (must be user or assistant)", s)
}

// SourceFormat returns the format the message was ingested from, or the
// empty string when unknown.
func (m *Message) SourceFormat() Format {
	return Format(m.MetaString(MetaKeySourceFormat))
}

// MetaString returns the string value stored under key, or "" when missing
// or not a string.
func (m *Message) MetaString(key string) string {
	if m == nil || m.Meta == nil {
		return ""
	}
	v, _ := m.Meta[key].(string)
	return v
}

// SetMeta stores value under key, allocating Meta when needed.
func (m *Message) SetMeta(key string, value any) {
	if m.Meta == nil {
		m.Meta = make(map[string]any)
	}
	m.Meta[key] = value
}

// UserMeta returns the user supplied metadata, or nil when none was set.
func (m *Message) UserMeta() map[string]any {
	if m == nil || m.Meta == nil {
		return nil
	}
	v, _ := m.Meta[UserMetaKey].(map[string]any)
	return v
}

// WrapUserMeta stores user metadata under UserMetaKey. A nil or empty map
// removes any previous user metadata.
func (m *Message) WrapUserMeta(user map[string]any) {
	if len(user) == 0 {
		delete(m.Meta, UserMetaKey)
		return
	}
	m.SetMeta(UserMetaKey, cloneMap(user))
}

// Validate checks the message role and every part.
func (m *Message) Validate() error {
	if _, err := ParseRole(string(m.Role)); err != nil {
		return err
	}
	for i, p := range m.Parts {
		if p == nil {
			return fmt.Errorf("parts[%d]: nil part", i)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("parts[%d] (%s): %w", i, p.Type(), err)
		}
	}
	return nil
}

// Clone returns a deep copy of m. Parts and meta maps are copied so that the
// clone can be modified without affecting m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Meta = cloneMap(m.Meta)
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = ClonePart(p)
		}
	}
	return &out
}

// CloneAll deep copies a message slice.
func CloneAll(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
