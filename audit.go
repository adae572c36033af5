package tradeauth

import (
	"io"

	"github.com/abctrading/tradeauth/internal/audit"
)

// AuditEvent is one security event emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }
