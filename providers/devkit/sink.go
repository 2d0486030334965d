package devkit

import (
	"context"
	"sync"

	"github.com/goliatone/go-mailflow/core"
)

type RecordingEscalationSink struct {
	mu     sync.Mutex
	alerts []core.Alert
	err    error
}

func NewRecordingEscalationSink() *RecordingEscalationSink {
	return &RecordingEscalationSink{}
}

// FailWith makes every later Raise return err after recording the alert.
func (s *RecordingEscalationSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingEscalationSink) Raise(_ context.Context, alert core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return s.err
}

func (s *RecordingEscalationSink) Alerts() []core.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Alert(nil), s.alerts...)
}

var _ core.EscalationSink = (*RecordingEscalationSink)(nil)
