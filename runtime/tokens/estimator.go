package tokens

import (
	"context"
	"encoding/json"
	"math"
	"unicode/utf8"

	"goa.design/acontext/runtime/message"
)

const (
	// DefaultCharsPerToken is the character to token ratio of the estimator.
	// Tokenizers average 3.5 to 4.5 characters per token on English text and
	// code, so 4 overestimates slightly.
	DefaultCharsPerToken = 4.0

	// MediaTokens is the flat cost charged for an image, audio, video or
	// file part.
	MediaTokens = 85
)

// Estimator counts tokens from character counts. It is deterministic and
// never fails.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator returns an Estimator using DefaultCharsPerToken.
func NewEstimator() *Estimator {
	return &Estimator{charsPerToken: DefaultCharsPerToken}
}

// NewEstimatorWithRatio returns an Estimator using the given ratio. Ratios
// that are not positive fall back to DefaultCharsPerToken.
func NewEstimatorWithRatio(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// Count implements Counter. Each part is rounded up independently so the
// total equals the sum of the per part counts.
func (e *Estimator) Count(_ context.Context, parts ...message.Part) (int, error) {
	total := 0
	for _, p := range parts {
		total += e.part(p)
	}
	return total, nil
}

func (e *Estimator) part(p message.Part) int {
	switch v := p.(type) {
	case message.TextPart:
		return e.chars(v.Text)
	case message.ThinkingPart:
		return e.chars(v.Text)
	case message.ToolCallPart:
		return e.chars(v.Name + v.Arguments)
	case message.ToolResultPart:
		return e.chars(v.Name + v.Text)
	case message.ImagePart, message.AudioPart, message.VideoPart:
		return MediaTokens
	case message.FilePart:
		if v.Source.Type == message.SourceText {
			return e.chars(v.Source.Data)
		}
		return MediaTokens
	case message.DataPart:
		raw, err := json.Marshal(v.Extra)
		if err != nil {
			return 0
		}
		return e.chars(v.DataType + string(raw))
	}
	return 0
}

func (e *Estimator) chars(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / e.charsPerToken))
}
