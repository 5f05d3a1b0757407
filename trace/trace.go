// Package trace defines the optional tracing hooks the transport fires
// around send, receive, match and expire events. Absence of a tracer changes
// observability only, never behavior.
package trace

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"
)

// Op names a traced operation.
type Op string

const (
	OpSend    Op = "send"
	OpReceive Op = "receive"
	OpMatch   Op = "match"
	OpExpire  Op = "expire"
)

// Tracer opens spans around transport operations. Implementations must be
// safe for concurrent use and must not block.
type Tracer interface {
	SpanStart(op Op) Span
}

// Span records tags for one operation and is ended exactly once.
type Span interface {
	Tag(key string, value interface{})
	End(err error)
}

// ID generates a random span identifier.
func ID() uint64 {
	return uint64(fastrand.Uint32())<<32 | uint64(fastrand.Uint32())
}

// Nop discards everything.
func Nop() Tracer {
	return nopTracer{}
}

type nopTracer struct{}

func (nopTracer) SpanStart(Op) Span { return nopSpan{} }

type nopSpan struct{}

func (nopSpan) Tag(string, interface{}) {}
func (nopSpan) End(error)               {}

// Logging emits every span as a debug event on logger, keyed by a random
// span identifier so concurrent operations stay distinguishable.
func Logging(logger zerolog.Logger) Tracer {
	return &logTracer{logger: logger}
}

type logTracer struct {
	logger zerolog.Logger
}

func (t *logTracer) SpanStart(op Op) Span {
	return &logSpan{
		logger: t.logger.With().Uint64("span", ID()).Str("op", string(op)).Logger(),
	}
}

type logSpan struct {
	logger zerolog.Logger
}

func (s *logSpan) Tag(key string, value interface{}) {
	s.logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str(key, fmt.Sprint(value))
	})
}

func (s *logSpan) End(err error) {
	s.logger.Debug().Err(err).Msg("Span ended.")
}
