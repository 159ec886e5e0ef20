package main

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/dial-tester/internal/config"
	"github.com/sweeney/dial-tester/internal/dial"
	"github.com/sweeney/dial-tester/internal/line"
	"github.com/sweeney/dial-tester/internal/sampler"
	"github.com/sweeney/dial-tester/internal/worker"
)

// controller drives the sampling loop either in-process or through the
// worker transport.
type controller interface {
	// Run serves the controller until ctx is done. Start and SetDebounce
	// need Run to be active.
	Run(ctx context.Context) error
	// Start begins sampling. Callers pass a ctx that lives as long as Run's.
	Start(ctx context.Context) (dial.Advisory, error)
	SetDebounce(ctx context.Context, ms int) (int, error)
}

func newController(cfg config.Config, reader line.Reader, clock sampler.Clock, obs sampler.Observer, logger *slog.Logger) controller {
	opts := sampler.Options{
		Poll:           cfg.Poll(),
		SignalThrottle: cfg.SignalThrottle(),
		Logger:         logger,
	}
	if cfg.Sampler.Host == config.HostWorker {
		h, w := worker.New(reader, obs, worker.Config{
			Clock:   clock,
			Sampler: opts,
			Timeout: worker.Options{Timeout: cfg.RequestTimeout(), Logger: logger},
		})
		return &workerController{host: h, worker: w}
	}
	loop := sampler.New(dial.NewEngine(), sampler.Direct(reader), clock, obs, opts)
	return &directController{loop: loop}
}

type directController struct {
	loop *sampler.Loop
}

func (c *directController) Run(ctx context.Context) error {
	<-ctx.Done()
	c.loop.Stop()
	c.loop.Wait()
	return nil
}

// Start launches the loop. It stops when ctx is done.
func (c *directController) Start(ctx context.Context) (dial.Advisory, error) {
	return c.loop.Start(ctx)
}

func (c *directController) SetDebounce(_ context.Context, ms int) (int, error) {
	c.loop.SetDebounce(ms)
	return c.loop.Debounce(), nil
}

type workerController struct {
	host   *worker.Host
	worker *worker.Worker
}

func (c *workerController) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(c.host.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(c.worker.Run(gctx)) })
	return g.Wait()
}

func (c *workerController) Start(ctx context.Context) (dial.Advisory, error) {
	return c.host.Start(ctx)
}

func (c *workerController) SetDebounce(ctx context.Context, ms int) (int, error) {
	return c.host.SetDebounce(ctx, ms)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
