package message

import (
	"errors"
	"fmt"
)

// ErrUnknownFormat indicates a format name outside Formats.
var ErrUnknownFormat = errors.New("unknown format")

type (
	// FormatValidationError reports a provider blob that does not match the
	// declared wire format.
	FormatValidationError struct {
		Format Format
		// Path locates the offending element, for example "content[2]".
		Path   string
		Reason string
		Err    error
	}

	// UnsupportedPartTypeError reports a content block type a converter
	// does not understand. Ingestion fails rather than dropping the block.
	UnsupportedPartTypeError struct {
		Format Format
		Type   string
	}
)

// NewFormatValidationError builds a FormatValidationError.
func NewFormatValidationError(format Format, path, reason string, err error) *FormatValidationError {
	return &FormatValidationError{Format: format, Path: path, Reason: reason, Err: err}
}

// Error implements error.
func (e *FormatValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s message", e.Format)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FormatValidationError) Unwrap() error { return e.Err }

// Error implements error.
func (e *UnsupportedPartTypeError) Error() string {
	return fmt.Sprintf("unsupported %s part type %q", e.Format, e.Type)
}

// IsFormatValidation reports whether err is (or wraps) a
// FormatValidationError.
func IsFormatValidation(err error) bool {
	var fe *FormatValidationError
	return errors.As(err, &fe)
}

// IsUnsupportedPartType reports whether err is (or wraps) an
// UnsupportedPartTypeError.
func IsUnsupportedPartType(err error) bool {
	var ue *UnsupportedPartTypeError
	return errors.As(err, &ue)
}
