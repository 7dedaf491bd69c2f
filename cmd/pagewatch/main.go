// Command pagewatch checks web pages and the scripts they load for changes,
// storing a timestamped copy of every changed version.
//
// Usage:
//
//	pagewatch https://example.com                      # one check, result on stdout
//	pagewatch -notify -webhook https://hooks/x https://example.com
//	pagewatch -config pagewatch.yaml                   # daemon mode when interval > 0
//	pagewatch -interval 10m -listen :8090 https://example.com https://example.org
//	pagewatch -history-db history.db -history https://example.com
//	pagewatch -versions https://example.com
//	pagewatch -preview 2024-03-01-12-30-45 https://example.com
//
// SMTP and webhook credentials are read from PAGEWATCH_SMTP_USERNAME,
// PAGEWATCH_SMTP_PASSWORD and PAGEWATCH_WEBHOOK_URL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/pagewatch/pagewatch"
)

type options struct {
	configPath   string
	storage      string
	historyDB    string
	interval     time.Duration
	listen       string
	logLevel     string
	notify       bool
	webhook      string
	allowPrivate bool
	showHistory  bool
	showVersions bool
	preview      string
	limit        int
	set          map[string]bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to pagewatch.yaml config file")
	flag.StringVar(&o.storage, "storage", "", "storage root (default: data)")
	flag.StringVar(&o.historyDB, "history-db", "", "path to SQLite check history")
	flag.DurationVar(&o.interval, "interval", 0, "re-check interval; > 0 runs as a daemon")
	flag.StringVar(&o.listen, "listen", "", "HTTP status address in daemon mode")
	flag.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.BoolVar(&o.notify, "notify", false, "send a notification when a target changes")
	flag.StringVar(&o.webhook, "webhook", "", "webhook URL for notifications")
	flag.BoolVar(&o.allowPrivate, "allow-private", false, "allow loopback and private-network targets")
	flag.BoolVar(&o.showHistory, "history", false, "print the check history of each URL and exit")
	flag.BoolVar(&o.showVersions, "versions", false, "print the stored versions of each URL and exit")
	flag.StringVar(&o.preview, "preview", "", "print the named version of each URL as Markdown and exit")
	flag.IntVar(&o.limit, "limit", 20, "max history entries")
	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	cfg, err := resolveConfig(&o, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "pagewatch:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, &o, flag.Args()); err != nil {
		logger.Error("pagewatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *pagewatch.Config, o *options, urls []string) error {
	svc, err := pagewatch.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	listed := urls
	if len(listed) == 0 {
		listed = cfg.Targets
	}

	// One-shot: history.
	if o.showHistory {
		for _, u := range listed {
			entries, err := svc.History(ctx, u, o.limit)
			if err != nil {
				return fmt.Errorf("history %s: %w", u, err)
			}
			if err := enc.Encode(map[string]any{"url": u, "checks": entries}); err != nil {
				return err
			}
		}
		return nil
	}

	// One-shot: versions.
	if o.showVersions {
		for _, u := range listed {
			versions, err := svc.Versions(u)
			if err != nil {
				return fmt.Errorf("versions %s: %w", u, err)
			}
			if err := enc.Encode(map[string]any{"url": u, "versions": versions}); err != nil {
				return err
			}
		}
		return nil
	}

	// One-shot: preview.
	if o.preview != "" {
		for _, u := range listed {
			md, err := svc.Preview(u, o.preview)
			if err != nil {
				return fmt.Errorf("preview %s: %w", u, err)
			}
			fmt.Println(md)
		}
		return nil
	}

	// Daemon mode.
	if cfg.Interval > 0 {
		logger.Info("pagewatch: running", "targets", len(cfg.Targets), "interval", cfg.Interval, "storage", cfg.StorageRoot)
		err := svc.Run(ctx)
		logger.Info("pagewatch: shutting down")
		return err
	}

	// One-shot: check each URL. Unchanged and changed are both success.
	var errs []error
	for _, u := range urls {
		res, err := svc.Check(ctx, u)
		if res != nil {
			if eerr := enc.Encode(res); eerr != nil {
				return eerr
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

// resolveConfig loads the config file, if any, then applies the flags that
// were set explicitly. Positional URLs are added to the targets.
func resolveConfig(o *options, urls []string) (*pagewatch.Config, error) {
	cfg := &pagewatch.Config{}
	if o.configPath != "" {
		var err error
		if cfg, err = pagewatch.LoadConfigFile(o.configPath); err != nil {
			return nil, err
		}
	} else if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if o.set["storage"] {
		cfg.StorageRoot = o.storage
	}
	if o.set["history-db"] {
		cfg.HistoryDB = o.historyDB
	}
	if o.set["interval"] {
		cfg.Interval = o.interval
	}
	if o.set["listen"] {
		cfg.ListenAddr = o.listen
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
	if o.set["notify"] {
		cfg.Notify.Enabled = o.notify
	}
	if o.set["webhook"] {
		cfg.Notify.Webhook.URL = o.webhook
	}
	if o.set["allow-private"] {
		cfg.Fetch.AllowPrivate = o.allowPrivate
	}

	if len(urls) > 0 {
		if cfg.Interval > 0 {
			cfg.Targets = append(cfg.Targets, urls...)
		}
	} else if cfg.Interval <= 0 || len(cfg.Targets) == 0 {
		return nil, errors.New("usage: pagewatch [flags] <url>... | -config <file> with interval and targets")
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
