package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/acontext/runtime/message"
)

// ParseDataURL splits a base64 data URL into its media type and payload.
// ok is false for any other URL.
func ParseDataURL(u string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, found = strings.CutSuffix(header, ";base64")
	if !found {
		return "", "", false
	}
	return mediaType, payload, true
}

// DataURL builds a base64 data URL.
func DataURL(mediaType, data string) string {
	return "data:" + mediaType + ";base64," + data
}

// SourceURL renders s as a URL usable by formats that only accept URLs.
func SourceURL(s message.Source) string {
	switch s.Type {
	case message.SourceBase64:
		return DataURL(s.MediaType, s.Data)
	case message.SourceURL:
		return s.URL
	}
	return ""
}

// Placeholder renders a part the destination format cannot carry as text.
func Placeholder(p message.Part) string {
	switch v := p.(type) {
	case message.AudioPart:
		if v.Format != "" {
			return fmt.Sprintf("[audio: %s]", v.Format)
		}
		return "[audio]"
	case message.VideoPart:
		return "[video" + sourceSuffix(v.Source) + "]"
	case message.ImagePart:
		return "[image" + sourceSuffix(v.Source) + "]"
	case message.FilePart:
		if v.Filename != "" {
			return fmt.Sprintf("[file: %s]", v.Filename)
		}
		return "[file" + sourceSuffix(v.Source) + "]"
	case message.DataPart:
		payload := map[string]any{"data_type": v.DataType}
		for k, val := range v.Extra {
			if !message.IsPrivateKey(k) {
				payload[k] = val
			}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "[data: " + v.DataType + "]"
		}
		return string(raw)
	}
	return fmt.Sprintf("[%s]", p.Type())
}

func sourceSuffix(s message.Source) string {
	switch s.Type {
	case message.SourceURL:
		return ": " + s.URL
	case message.SourceFileID:
		return ": " + s.FileID
	}
	return ""
}

// PrefersParts reports whether m must be emitted to f with array content:
// either f sent an array in the first place or the parts are not a single
// plain text.
func PrefersParts(m *message.Message, f message.Format, parts []message.Part) bool {
	if SameSource(m, f) && m.MetaString(message.MetaKeyContentForm) == message.ContentFormParts {
		return true
	}
	if len(parts) != 1 {
		return len(parts) != 0
	}
	t, ok := parts[0].(message.TextPart)
	return !ok || t.IsRefusal || t.CacheControl != nil || len(publicExtra(t.Extra)) > 0
}

// SameSource reports whether m was ingested from f, in which case
// provider-private extras may be re-emitted.
func SameSource(m *message.Message, f message.Format) bool {
	return m.SourceFormat() == f
}

// ArgumentsObject returns arguments as a JSON object suitable for formats
// that carry tool input as structured JSON. Invalid or non-object JSON is
// wrapped under "input".
func ArgumentsObject(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	var v any
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		v = json.RawMessage(trimmed)
	} else {
		v = arguments
	}
	raw, _ := json.Marshal(map[string]any{"input": v})
	return raw
}

func publicExtra(extra map[string]any) map[string]any {
	var out map[string]any
	for k, v := range extra {
		if message.IsPrivateKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

// JSONKind returns the first significant byte of raw, or 0 when raw is
// absent or null.
func JSONKind(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	return raw[0]
}
