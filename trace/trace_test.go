package trace_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/wavemesh/dgram/trace"
)

func TestNopTracer(t *testing.T) {
	t.Parallel()

	span := trace.Nop().SpanStart(trace.OpSend)
	span.Tag("bytes", 12)
	span.End(nil)
	span.End(assert.AnError)
}

func TestLoggingTracerEmitsSpans(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	span := trace.Logging(logger).SpanStart(trace.OpMatch)
	span.Tag("peer", "10.0.0.2:5000")
	span.End(nil)

	out := buf.String()
	assert.Contains(t, out, `"op":"match"`)
	assert.Contains(t, out, `"span":`)
	assert.Contains(t, out, `"peer":"10.0.0.2:5000"`)
}

func TestIDsVary(t *testing.T) {
	t.Parallel()

	seen := map[uint64]bool{}
	for i := 0; i < 64; i++ {
		seen[trace.ID()] = true
	}
	assert.Greater(t, len(seen), 60)
}
