package convert

import (
	"encoding/json"

	"goa.design/acontext/runtime/message"
)

// Canonical is the identity converter for the canonical JSON format.
type Canonical struct{}

// NewCanonical returns the canonical JSON converter.
func NewCanonical() Canonical { return Canonical{} }

// Format implements Converter.
func (Canonical) Format() message.Format { return message.FormatAcontext }

// ToCanonical implements Converter.
func (Canonical) ToCanonical(blob json.RawMessage, _ int) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal(blob, &m); err != nil {
		if message.IsUnsupportedPartType(err) {
			return nil, err
		}
		return nil, message.NewFormatValidationError(message.FormatAcontext, "", "", err)
	}
	return &m, nil
}

// FromCanonical implements Converter.
func (Canonical) FromCanonical(m *message.Message) ([]json.RawMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}
