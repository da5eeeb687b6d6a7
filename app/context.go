// Package app wires the engine's long-lived pieces together and owns their
// shutdown order.
package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/config"
	"github.com/presift/presift/control"
	"github.com/presift/presift/events"
	"github.com/presift/presift/monitor"
)

// Context bundles the engine's components for one process.
type Context struct {
	Config  *config.Config
	Client  *apiclient.Client
	Hub     *control.Hub
	Events  *events.Coalescer
	Monitor *monitor.Monitor
	Control *control.Server

	Ctx    context.Context
	Cancel context.CancelFunc

	cleanup sync.Once
}

// New builds the full component graph from a loaded configuration.
func New(parentCtx context.Context, cfg *config.Config) *Context {
	ctx, cancel := context.WithCancel(parentCtx)

	client := apiclient.New(cfg.Service.BaseURL, cfg.RequestTimeout(), cfg.CleanTimeout())
	hub := control.NewHub()
	coalescer := events.New(hub)
	m := monitor.New(cfg, client, coalescer)

	return &Context{
		Config:  cfg,
		Client:  client,
		Hub:     hub,
		Events:  coalescer,
		Monitor: m,
		Control: control.NewServer(m, hub),
		Ctx:     ctx,
		Cancel:  cancel,
	}
}

// PerformCleanup tears everything down in dependency order. Safe to call from
// multiple exit paths; only the first call does work.
func (a *Context) PerformCleanup() {
	a.cleanup.Do(func() {
		log.Println("Starting shutdown...")

		if a.Control != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Control.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error shutting down control server: %v", err)
			}
			cancel()
		}

		// Watchers drain their buffers, then the accumulator flushes.
		a.Monitor.Stop()

		// Flush any buffered notifications last so shutdown events get out.
		a.Events.Close()

		log.Println("Graceful shutdown completed")
	})
}

// SetupSignalHandling cancels the context on SIGINT/SIGTERM; a second signal
// within five seconds forces an immediate exit.
func (a *Context) SetupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var forceQuit atomic.Bool

	go func() {
		for sig := range sigChan {
			log.Printf("Received signal: %v", sig)
			if forceQuit.Load() {
				log.Println("Forcing immediate shutdown...")
				os.Exit(1)
			}

			forceQuit.Store(true)
			log.Println("Press Ctrl+C again to force quit. Wait for normal shutdown to complete...")
			a.Cancel()

			go func() {
				time.Sleep(5 * time.Second)
				forceQuit.Store(false)
			}()
		}
	}()
}
