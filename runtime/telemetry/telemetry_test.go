package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"goa.design/clue/log"
)

func TestFieldersSkipsNonStringKeys(t *testing.T) {
	fs := fielders("hello", []any{"a", 1, 2, "x", "err", errors.New("boom"), "dangling"})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "hello"},
		log.KV{K: "a", V: 1},
		log.KV{K: "err", V: "boom"},
		log.KV{K: "dangling", V: nil},
	}, fs)
}

func TestKVAttrs(t *testing.T) {
	attrs := kvAttrs([]any{"s", "v", "i", 3, "b", true, "o", []int{1}})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("s", "v"),
		attribute.Int("i", 3),
		attribute.Bool("b", true),
		attribute.String("o", "[1]"),
	}, attrs)
}

func TestClueLoggerWritesToContextOutput(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithFormat(log.FormatJSON))
	NewClueLogger().Info(ctx, "stored", "session_id", "s1")
	require.Contains(t, buf.String(), `"msg":"stored"`)
	require.Contains(t, buf.String(), `"session_id":"s1"`)
}

func TestWithDefaults(t *testing.T) {
	s := Set{}.WithDefaults()
	require.NotNil(t, s.Logger)
	require.NotNil(t, s.Metrics)
	require.NotNil(t, s.Tracer)
	ctx, span := s.Tracer.Start(context.Background(), "x")
	require.NotNil(t, ctx)
	span.End()
}
