// Package app runs the long-lived components of a service and shuts them down together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Component is a blocking Start paired with a Stop that makes Start return.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type named struct {
	name string
	Component
}

type closer struct {
	name string
	fn   func() error
}

// App owns the components and resources of one process.
type App struct {
	log        *slog.Logger
	shutdown   time.Duration
	components []named
	closers    []closer
}

// New creates an App that gives components shutdown to stop.
func New(log *slog.Logger, shutdown time.Duration) *App {
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return &App{log: log, shutdown: shutdown}
}

// Add registers a component. Components stop in reverse order of registration.
func (a *App) Add(name string, c Component) {
	a.components = append(a.components, named{name: name, Component: c})
}

// OnClose registers a resource released after every component stopped, in reverse order.
func (a *App) OnClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts every component and blocks until ctx is cancelled or one component fails.
// It then stops the rest and releases resources.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.components {
		c := c
		g.Go(func() error {
			if err := c.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.stop()
		return nil
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdown)
	defer cancel()
	for i := len(a.components) - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			a.log.Error("stop component failed", slog.String("component", c.name), "error", err)
			continue
		}
		a.log.Info("component stopped", slog.String("component", c.name))
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn("close resource failed", slog.String("resource", c.name), "error", err)
		}
	}
}
