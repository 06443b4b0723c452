package authgate

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/authgate/internal/audit"
)

// AuditEvent is one structured security event emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink
type ChannelSink = internalaudit.ChannelSink
type JSONWriterSink = internalaudit.JSONWriterSink
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink writes audit events through logger, at info for successes and
// warn for failures.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
