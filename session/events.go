package session

import (
	"context"

	"github.com/sirupsen/logrus"
	"minimal-sessions/common"
)

// EventSink receives session lifecycle events. Emit must not block the
// negotiation for long; sinks that do I/O should buffer.
type EventSink interface {
	Emit(ctx context.Context, ev common.SessionEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev common.SessionEvent)

func (f EventSinkFunc) Emit(ctx context.Context, ev common.SessionEvent) { f(ctx, ev) }

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev common.SessionEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, common.SessionEvent) {}

// LogSink writes every event as one structured log entry.
type LogSink struct {
	Logger logrus.FieldLogger
}

func (s LogSink) Emit(_ context.Context, ev common.SessionEvent) {
	fields := logrus.Fields{
		"event":      string(ev.Type),
		"session_id": ev.SessionID,
	}
	if ev.OwnerID != "" {
		fields["owner_id"] = ev.OwnerID
	}
	if ev.PeerID != "" {
		fields["peer_id"] = ev.PeerID
	}
	if ev.PreviousSessionID != "" {
		fields["previous_session_id"] = ev.PreviousSessionID
	}
	if ev.Type == common.EventSwept {
		fields["removed"] = ev.Removed
	}

	entry := s.Logger.WithFields(fields)
	switch ev.Type {
	case common.EventReconciled, common.EventRotated:
		// Both leave the pairing mismatched until the peer acts.
		entry.Warn("session event")
	case common.EventReused:
		entry.Debug("session event")
	default:
		entry.Info("session event")
	}
}
