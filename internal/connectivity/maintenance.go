package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaintenanceCheckInterval is how often the scheduler evaluates windows
	DefaultMaintenanceCheckInterval = 30 * time.Second

	day = 24 * time.Hour
)

// Window is a daily maintenance window in UTC
type Window struct {
	// Start is the offset of the window start from midnight UTC
	Start    time.Duration
	Duration time.Duration
}

// ParseWindow parses a window from a "HH:MM" start time and a Go duration string
func ParseWindow(start, duration string) (Window, error) {
	t, err := time.Parse("15:04", start)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window start %q: %w", start, err)
	}

	d, err := time.ParseDuration(duration)
	if err != nil {
		return Window{}, fmt.Errorf("invalid window duration %q: %w", duration, err)
	}
	if d <= 0 || d > day {
		return Window{}, fmt.Errorf("window duration must be between 0 and 24h, got %s", d)
	}

	return Window{
		Start:    time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute,
		Duration: d,
	}, nil
}

// Contains reports whether t falls inside the window. Windows may span midnight.
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	for _, start := range []time.Time{midnight.Add(w.Start), midnight.Add(w.Start - day)} {
		if !t.Before(start) && t.Before(start.Add(w.Duration)) {
			return true
		}
	}
	return false
}

// MaintenanceScheduler raises ReasonMaintenance while any configured window is open
type MaintenanceScheduler struct {
	sm       *StateMachine
	windows  func() []Window
	now      func() time.Time
	interval time.Duration
}

// MaintenanceOption configures a MaintenanceScheduler
type MaintenanceOption func(*MaintenanceScheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) MaintenanceOption {
	return func(s *MaintenanceScheduler) {
		s.now = now
	}
}

// WithCheckInterval sets how often windows are evaluated
func WithCheckInterval(d time.Duration) MaintenanceOption {
	return func(s *MaintenanceScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewMaintenanceScheduler creates a scheduler. windows is read on every evaluation.
func NewMaintenanceScheduler(sm *StateMachine, windows func() []Window, opts ...MaintenanceOption) *MaintenanceScheduler {
	s := &MaintenanceScheduler{
		sm:       sm,
		windows:  windows,
		now:      time.Now,
		interval: DefaultMaintenanceCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate raises or clears ReasonMaintenance for the current time and reports
// whether a window is open.
func (s *MaintenanceScheduler) Evaluate() bool {
	now := s.now()
	for _, w := range s.windows() {
		if w.Contains(now) {
			if s.sm.Raise(ReasonMaintenance) {
				slog.Info("Maintenance window opened", "start", w.Start, "duration", w.Duration)
			}
			return true
		}
	}
	if s.sm.Clear(ReasonMaintenance) {
		slog.Info("Maintenance window closed")
	}
	return false
}

// Run evaluates windows until ctx is cancelled. It always returns nil.
func (s *MaintenanceScheduler) Run(ctx context.Context) error {
	s.Evaluate()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Evaluate()
		}
	}
}
