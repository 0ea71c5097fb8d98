// Package engine runs the proxy engine that serves the active profile.
//
// Every engine family implements Engine. The external-process family spawns
// the engine binary against the document written by the assembler; the
// embedded family runs xray-core in-process from the same document.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrSpawn          = errors.New("engine spawn failed")
	ErrVersionProbe   = errors.New("engine version probe failed")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrUnknownEngine  = errors.New("unknown engine type")
)

// Engine is the lifecycle contract of one engine family. Implementations do
// not lock their state transitions; callers serialise access.
type Engine interface {
	Start(ctx context.Context) error
	// Stop is a no-op when the engine is idle.
	Stop() error
	Restart(ctx context.Context) error
	CheckVersion(ctx context.Context) (string, error)
	// PollOutput drains buffered output without blocking.
	PollOutput() (string, bool)
	Running() bool
}

// Observer receives lifecycle events, e.g. for metrics.
type Observer interface {
	EngineStarted(kind string)
	EngineStopped(kind string)
	EngineFailed(kind string)
	EngineOutput(kind string, lines int)
}

type nopObserver struct{}

func (nopObserver) EngineStarted(string)     {}
func (nopObserver) EngineStopped(string)     {}
func (nopObserver) EngineFailed(string)      {}
func (nopObserver) EngineOutput(string, int) {}

// Options are shared by all engine families.
type Options struct {
	Binary       string
	ConfigPath   string
	StopGrace    time.Duration
	OutputBuffer int
	Observer     Observer
}

func (o Options) observer() Observer {
	if o.Observer == nil {
		return nopObserver{}
	}
	return o.Observer
}

// Factory builds an engine for the given options.
type Factory func(Options) Engine

// Registry maps profile types to engine families.
type Registry struct {
	factories map[string]Factory
}

const (
	TypeV2Ray    = "v2ray"
	TypeEmbedded = "xray-embedded"
)

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the external binary and the embedded xray-core.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeV2Ray, func(o Options) Engine { return NewSupervisor(o) })
	r.Register(TypeEmbedded, func(o Options) Engine { return NewEmbedded(o) })
	return r
}

func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

func (r *Registry) New(kind string, opts Options) (Engine, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
	return f(opts), nil
}

// Types lists the registered engine families.
func (r *Registry) Types() []string {
	var kinds []string
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
