package pagewatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagewatch/dbopen"
	"github.com/hazyhaar/pagewatch/horosafe"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/fetch"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/history"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/notify"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/preview"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/resource"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/snapshot"
	"github.com/hazyhaar/pagewatch/watch"
)

// CheckRecord is one row of the check history.
type CheckRecord = history.Entry

// TargetStats summarises the history of one target.
type TargetStats = history.Stats

// Service ties the detector to history, notifications and daemon mode.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	detector *Detector
	store    *snapshot.Store
	db       *sql.DB
	history  *history.Store
	notifier notify.Notifier
	watcher  *watch.Watcher
	preview  *preview.Renderer
	targets  []Target
}

// New creates a Service from cfg. The history database is opened (and its
// schema applied) when cfg.HistoryDB is set.
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{cfg: cfg, logger: logger, preview: preview.New()}
	for _, raw := range cfg.Targets {
		t, err := NewTarget(raw)
		if err != nil {
			return nil, err
		}
		s.targets = append(s.targets, t)
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		validate := horosafe.ValidateURL
		if cfg.Fetch.AllowPrivate {
			validate = horosafe.ValidateScheme
		}
		fetcher = httpFetcher{f: fetch.New(fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBytes:     cfg.Fetch.MaxBytes,
			UserAgent:    cfg.Fetch.UserAgent,
			URLValidator: validate,
			Logger:       logger,
		})}
	}
	s.detector = NewDetector(fetcher, cfg.StorageRoot, DetectorOptions{
		Concurrency: cfg.Fetch.Concurrency,
		Clock:       cfg.Clock,
		Logger:      logger,
	})
	s.store = s.detector.store

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return nil, err
	}
	s.notifier = notifier

	if cfg.HistoryDB != "" {
		db, err := dbopen.Open(cfg.HistoryDB, dbopen.WithMkdirAll(), dbopen.WithSchema(history.Schema))
		if err != nil {
			return nil, fmt.Errorf("%w: open history: %w", ErrIO, err)
		}
		s.db = db
		s.history = history.NewStore(db)
	}

	s.watcher = watch.New(watch.Options{Interval: cfg.Interval, Logger: logger})
	return s, nil
}

func buildNotifier(cfg NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var m notify.Multi
	if cfg.SMTP.Host != "" {
		n, err := notify.NewSMTP(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
			StartTLS: cfg.SMTP.StartTLS,
			Timeout:  cfg.SMTP.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		m = append(m, n)
	}
	if cfg.Webhook.URL != "" {
		if err := horosafe.ValidateScheme(cfg.Webhook.URL); err != nil {
			return nil, fmt.Errorf("%w: webhook url: %w", ErrInvalidInput, err)
		}
		m = append(m, notify.NewWebhook(cfg.Webhook.URL,
			notify.WithWebhookClient(&http.Client{Timeout: cfg.Webhook.Timeout}),
			notify.WithWebhookLogger(logger)))
	}
	return m, nil
}

// Targets returns the configured targets.
func (s *Service) Targets() []Target {
	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// Check runs one detection cycle for rawURL, records it and notifies when
// the target changed. When only the notification fails, the Result is
// returned together with an error wrapping ErrNotify: the new version is
// already stored.
func (s *Service) Check(ctx context.Context, rawURL string) (*Result, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, t)
}

func (s *Service) check(ctx context.Context, t Target) (*Result, error) {
	start := time.Now()
	res, err := s.detector.Check(ctx, t)
	s.record(ctx, t, res, err, time.Since(start))
	if err != nil {
		s.logger.Warn("pagewatch: check failed", "target", t.Key, "error", err)
		return nil, err
	}

	if !res.Changed() || s.notifier == nil {
		return res, nil
	}
	if res.Baseline && !s.cfg.Notify.OnBaseline {
		return res, nil
	}
	msg := notify.NewMessage(t.URL)
	msg.Version = res.Version
	msg.Fingerprint = res.Fingerprint
	msg.Baseline = res.Baseline
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn("pagewatch: notify failed", "target", t.Key, "version", res.Version, "error", err)
		return res, fmt.Errorf("%w: %w", ErrNotify, err)
	}
	res.Notified = true
	s.logger.Info("pagewatch: notified", "target", t.Key, "version", res.Version)
	return res, nil
}

// record writes the check to history. A history failure is logged only;
// the snapshot store stays authoritative.
func (s *Service) record(ctx context.Context, t Target, res *Result, checkErr error, elapsed time.Duration) {
	if s.history == nil {
		return
	}
	e := &history.Entry{
		TargetKey:  t.Key,
		URL:        t.URL,
		DurationMs: elapsed.Milliseconds(),
	}
	if checkErr != nil {
		e.Outcome = history.OutcomeError
		e.ErrorMessage = checkErr.Error()
		e.CheckedAt = s.cfg.Clock().UnixMilli()
	} else {
		e.Outcome = history.OutcomeUnchanged
		if res.Changed() {
			e.Outcome = history.OutcomeChanged
		}
		e.Fingerprint = res.Fingerprint
		e.Version = res.Version
		e.ResourceCount = len(res.Resources)
		e.CheckedAt = res.CheckedAt.UnixMilli()
	}
	// Record even when the check was cancelled.
	if err := s.history.Insert(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("pagewatch: history insert failed", "target", t.Key, "error", err)
	}
}

// CheckAll checks every configured target in order. One failing target
// does not stop the others; their errors are joined.
func (s *Service) CheckAll(ctx context.Context) (changed bool, err error) {
	var errs []error
	for _, t := range s.targets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.check(ctx, t)
		if res != nil && res.Changed() {
			changed = true
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Key, err))
		}
	}
	return changed, errors.Join(errs...)
}

// Run checks every target each Interval until ctx is cancelled. When
// ListenAddr is set the status surface is served alongside.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("%w: daemon mode needs a positive interval", ErrInvalidInput)
	}
	if len(s.targets) == 0 {
		return fmt.Errorf("%w: no targets configured", ErrInvalidInput)
	}

	var srv *http.Server
	errc := make(chan error, 1)
	if s.cfg.ListenAddr != "" {
		srv = &http.Server{
			Addr:              s.cfg.ListenAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			s.logger.Info("pagewatch: http listening", "addr", s.cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watcher.Run(runCtx, s.CheckAll)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		err = fmt.Errorf("pagewatch: http server: %w", err)
	}
	cancel()
	<-done

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Stats returns the daemon loop counters.
func (s *Service) Stats() watch.Stats { return s.watcher.Stats() }

// History returns the most recent checks of rawURL, newest first.
func (s *Service) History(ctx context.Context, rawURL string, limit int) ([]*CheckRecord, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	return s.historyByKey(ctx, t.Key, limit)
}

func (s *Service) historyByKey(ctx context.Context, key string, limit int) ([]*CheckRecord, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	entries, err := s.history.List(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return entries, nil
}

// TargetStats aggregates the history of rawURL.
func (s *Service) TargetStats(ctx context.Context, rawURL string) (*TargetStats, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, ErrNoHistory
	}
	st, err := s.history.TargetStats(ctx, t.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return st, nil
}

// Versions lists the stored versions of rawURL, oldest first.
func (s *Service) Versions(rawURL string) ([]string, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	return s.versionsByKey(t.Key)
}

func (s *Service) versionsByKey(key string) ([]string, error) {
	v, err := s.store.Versions(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return v, nil
}

// ReadVersion returns the files of one stored version keyed by name.
func (s *Service) ReadVersion(rawURL, version string) (map[string]string, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ReadVersion(t.Key, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return files, nil
}

// Preview renders the page of one stored version as Markdown.
func (s *Service) Preview(rawURL, version string) (string, error) {
	t, err := NewTarget(rawURL)
	if err != nil {
		return "", err
	}
	return s.previewTarget(t, version)
}

func (s *Service) previewTarget(t Target, version string) (string, error) {
	files, err := s.store.ReadVersion(t.Key, version)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	page, ok := files[resource.PageName]
	if !ok {
		return "", fmt.Errorf("%w: version %s has no %s", ErrIO, version, resource.PageName)
	}
	md, err := s.preview.Markdown(page, t.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrParse, err)
	}
	return md, nil
}

// Close releases the history database.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
