package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"country-stats/internal/config"
	"country-stats/internal/dataset"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/health"
	"country-stats/internal/live"
	"country-stats/internal/metrics"
	"country-stats/internal/render"
	"country-stats/internal/server"
	"country-stats/internal/service"
	"country-stats/internal/throttle"
	"country-stats/internal/upstream"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version   string = "1.0.0"
	Buildtime string = "2026-10-15"
)

// app carries what every command needs: the full argv for config.Load and
// the writer for command output.
type app struct {
	args   []string
	stdout io.Writer
}

func (a *app) setup() (*config.Config, func() error, error) {
	cfg, err := config.Load(a.args)
	if err != nil {
		return nil, nil, err
	}
	closeLog, err := cfg.SetupLogging()
	if err != nil {
		return nil, nil, err
	}
	if log.GetLevel() > log.InfoLevel {
		log.Infof("Set level to %s", log.GetLevel())
	}
	return cfg, closeLog, nil
}

func upstreamOptions(cfg *config.Config) upstream.Options {
	return upstream.Options{
		URL:        cfg.Upstream.URL,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: cfg.Upstream.MaxRetries,
		BackoffMin: cfg.Upstream.BackoffMin,
		BackoffMax: cfg.Upstream.BackoffMax,
		RPS:        cfg.Upstream.RPS,
		Burst:      cfg.Upstream.Burst,
	}
}

type serveCommand struct {
	app *app
}

func (c *serveCommand) Execute(args []string) error {
	cfg, closeLog, err := c.app.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	log.Infof("Country stats version %s, build time %s", Version, Buildtime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.GetMetrics()
	client := upstream.NewClient(upstreamOptions(cfg), m)
	store := dataset.NewStore(ctx, client, cfg.Cache.TTL, m)
	defer store.Close()

	svc := service.NewService(store, cfg.DefaultField(), m)

	var limiter *throttle.Limiter
	if cfg.RateLimit.Enabled {
		limiter = throttle.NewLimiter(ctx, cfg.RateLimit.ClientRPS, cfg.RateLimit.ClientBurst, cfg.RateLimit.IdleTTL, m)
		defer limiter.Stop()
		limiter.TrustProxy(cfg.RateLimit.TrustProxy)
		log.Infof("Per-client rate limiting enabled at %.1f req/s (burst %d)", cfg.RateLimit.ClientRPS, cfg.RateLimit.ClientBurst)
	}

	srv := server.NewServer(cfg, server.Deps{
		Searcher: svc,
		Dataset:  store,
		Health:   health.NewChecker(store, Version),
		Live: live.NewHandler(ctx, svc, live.Options{
			PingInterval:   cfg.Live.PingInterval,
			PongTimeout:    cfg.Live.PongTimeout,
			WriteTimeout:   cfg.Live.WriteTimeout,
			MaxMessageSize: cfg.Live.MaxMessageSize,
		}, m),
		Limiter: limiter,
		Metrics: m,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return handleSignal(gctx, cancel)
	})
	if !cfg.Cache.NoWarmup {
		g.Go(func() error {
			store.Warm(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return srv.Start(gctx)
	})

	return g.Wait()
}

// handleSignal cancels the root context on the first termination signal.
func handleSignal(ctx context.Context, cancel context.CancelFunc) error {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	select {
	case s := <-signalChan:
		log.Infof("%s received, shutting down ...", s)
		cancel()
	case <-ctx.Done():
	}
	return nil
}

type reportCommand struct {
	app *app

	Term       string `short:"t" long:"term" description:"Substring to look for in country names"`
	SearchType string `short:"s" long:"search-type" description:"Name field to search (common, official); defaults to search.default-field"`
	All        bool   `short:"a" long:"all" description:"Report on every country, ignoring --term"`
	Format     string `short:"f" long:"format" choice:"html" choice:"json" default:"html" description:"Output format"`
	Output     string `short:"o" long:"output" description:"Write the report to this file instead of stdout"`
}

func (c *reportCommand) Execute(args []string) error {
	cfg, closeLog, err := c.app.setup()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.GetMetrics()
	store := dataset.NewStore(ctx, upstream.NewClient(upstreamOptions(cfg), m), 0, m)
	defer store.Close()
	svc := service.NewService(store, cfg.DefaultField(), m)

	term := c.Term
	if c.All {
		term = ""
	}

	q, err := svc.ParseQuery(term, c.SearchType)
	if err != nil {
		return err
	}
	summary, searchErr := svc.Search(ctx, q)

	out := c.app.stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch c.Format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if searchErr != nil {
			err = enc.Encode(map[string]string{"error": apperrors.UserMessage(searchErr)})
		} else {
			err = enc.Encode(summary)
		}
	default:
		data := render.PageData{
			Term:       term,
			Field:      q.Field,
			Summary:    summary,
			Standalone: true,
		}
		if searchErr != nil {
			data.Message = apperrors.UserMessage(searchErr)
			data.Alert = !apperrors.Is(searchErr, apperrors.ErrNoMatches)
		}
		err = render.Page(out, data)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	// An empty result is a valid report; a missing dataset is not.
	if searchErr != nil && !apperrors.Is(searchErr, apperrors.ErrNoMatches) {
		return searchErr
	}
	if c.Output != "" {
		log.WithField("file", c.Output).Info("Report written")
	}
	return nil
}

type versionCommand struct {
	app *app
}

func (c *versionCommand) Execute(args []string) error {
	_, err := fmt.Fprintf(c.app.stdout, "country-stats version %s, build time %s\n", Version, Buildtime)
	return err
}

func newParser(a *app) (*flags.Parser, error) {
	parser := flags.NewNamedParser("country-stats", flags.HelpFlag|flags.PassDoubleDash)

	// Registered for --help and validation only; config.Load does the real parse.
	if _, err := parser.AddGroup("Configuration", "", &config.Config{}); err != nil {
		return nil, err
	}
	if _, err := parser.AddCommand("serve", "Serve the web UI",
		"Serve the search page, the JSON API, live search, health and metrics.", &serveCommand{app: a}); err != nil {
		return nil, err
	}
	if _, err := parser.AddCommand("report", "Write a one-off report",
		"Fetch the dataset once, run a single search and write the result as HTML or JSON.", &reportCommand{app: a}); err != nil {
		return nil, err
	}
	if _, err := parser.AddCommand("version", "Print the version", "Print the version and build time.", &versionCommand{app: a}); err != nil {
		return nil, err
	}
	return parser, nil
}

func run(args []string, stdout io.Writer) error {
	parser, err := newParser(&app{args: args, stdout: stdout})
	if err != nil {
		return err
	}
	_, err = parser.ParseArgs(args)
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})

	if err := run(os.Args[1:], os.Stdout); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, flagsErr.Message)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
