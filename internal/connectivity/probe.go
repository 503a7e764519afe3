package connectivity

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks -source=probe.go Prober

// Prober checks whether an external dependency is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface
type ProberFunc func(ctx context.Context) error

// Probe calls f(ctx)
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// ErrNoProber is returned by a probe that has not been configured
var ErrNoProber = errors.New("no prober configured")

func probe(ctx context.Context, p Prober) error {
	if p == nil {
		return ErrNoProber
	}
	return p.Probe(ctx)
}
