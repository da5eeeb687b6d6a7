package run

import (
	"context"
	"flag"
	"log"

	"github.com/google/subcommands"

	"github.com/presift/presift/app"
	"github.com/presift/presift/config"
)

type Command struct {
	configPath string
	listen     string
	serviceURL string
}

func (*Command) Name() string     { return "run" }
func (*Command) Synopsis() string { return "Run the observation engine" }
func (*Command) Usage() string {
	return `run [-config <file>] [-listen <addr>] [-service <url>]:
  Start the filesystem observation engine: fetch configuration, scan the
  monitored directories, then keep watching them and submitting screening
  records to the indexing service. A local control API listens on -listen.
`
}

func (c *Command) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "presift.toml", "configuration file path")
	f.StringVar(&c.listen, "listen", "", "control API listen address (overrides config)")
	f.StringVar(&c.serviceURL, "service", "", "indexing service base URL (overrides config)")
}

func (c *Command) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return subcommands.ExitFailure
	}
	if c.listen != "" {
		cfg.Control.Listen = c.listen
	}
	if c.serviceURL != "" {
		cfg.Service.BaseURL = c.serviceURL
	}

	a := app.New(ctx, cfg)
	defer a.PerformCleanup()
	a.SetupSignalHandling()

	if err := a.Client.Health(a.Ctx); err != nil {
		log.Printf("Indexing service at %s is not reachable: %v", cfg.Service.BaseURL, err)
		return subcommands.ExitFailure
	}

	go func() {
		if err := a.Monitor.Start(a.Ctx); err != nil {
			log.Printf("Failed to start monitoring: %v", err)
			a.Cancel()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Control.Start(cfg.Control.Listen)
	}()

	select {
	case <-a.Ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Printf("Control server failed: %v", err)
			a.PerformCleanup()
			return subcommands.ExitFailure
		}
	}

	a.PerformCleanup()
	return subcommands.ExitSuccess
}
