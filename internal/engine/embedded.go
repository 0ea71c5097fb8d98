package engine

import (
	"context"
	"fmt"

	"v2neko/internal/logger"
	"v2neko/internal/xray"

	"github.com/xtls/xray-core/core"
	"go.uber.org/zap"
)

// Embedded runs xray-core inside this process from the document at the
// configured path. Its output is limited to lifecycle messages.
type Embedded struct {
	configPath string
	obs        Observer
	log        *zap.SugaredLogger

	instance *core.Instance
	output   *outputQueue
	size     int
}

func NewEmbedded(opts Options) *Embedded {
	return &Embedded{
		configPath: opts.ConfigPath,
		obs:        opts.observer(),
		log:        logger.Named("embedded"),
		size:       opts.OutputBuffer,
	}
}

func (e *Embedded) Start(ctx context.Context) error {
	if e.instance != nil {
		return ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := xray.ReadDocument(e.configPath)
	if err != nil {
		e.obs.EngineFailed(TypeEmbedded)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	instance, err := xray.StartInstance(doc)
	if err != nil {
		e.obs.EngineFailed(TypeEmbedded)
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	e.instance = instance
	e.output = newOutputQueue(e.size)
	e.output.push(fmt.Sprintf("Xray %s started in-process with %d outbound(s)", core.Version(), len(doc.Outbounds)))
	e.obs.EngineStarted(TypeEmbedded)
	e.log.Infof("Embedded engine started from %s", e.configPath)
	return nil
}

func (e *Embedded) Stop() error {
	if e.instance == nil {
		return nil
	}
	instance := e.instance
	e.instance, e.output = nil, nil
	if err := instance.Close(); err != nil {
		return fmt.Errorf("close embedded engine: %w", err)
	}
	e.obs.EngineStopped(TypeEmbedded)
	return nil
}

func (e *Embedded) Restart(ctx context.Context) error {
	if err := e.Stop(); err != nil {
		return err
	}
	return e.Start(ctx)
}

func (e *Embedded) CheckVersion(context.Context) (string, error) {
	return "Xray " + core.Version() + " (embedded)", nil
}

func (e *Embedded) PollOutput() (string, bool) {
	if e.output == nil {
		return "", false
	}
	text, n := e.output.drain()
	if n == 0 {
		return "", false
	}
	e.obs.EngineOutput(TypeEmbedded, n)
	return text, true
}

func (e *Embedded) Running() bool {
	return e.instance != nil
}
