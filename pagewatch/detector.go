package pagewatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/canon"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/fetch"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/fingerprint"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/resource"
	"github.com/hazyhaar/pagewatch/pagewatch/internal/snapshot"
)

// Fetcher retrieves the raw bytes of one URL in a single attempt.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, string, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return f(ctx, url)
}

// httpFetcher adapts *fetch.Fetcher to Fetcher.
type httpFetcher struct{ f *fetch.Fetcher }

func (h httpFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := h.f.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

// State is a step of one check.
type State int

const (
	StateFetching State = iota
	StateFingerprinting
	StateComparing
	StateUnchanged
	StateChanged
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateFingerprinting:
		return "fingerprinting"
	case StateComparing:
		return "comparing"
	case StateUnchanged:
		return "unchanged"
	case StateChanged:
		return "changed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s ends a check.
func (s State) Terminal() bool { return s == StateUnchanged || s == StateChanged }

// Result is the outcome of a successful check. Both terminal states are
// successes.
type Result struct {
	Target      Target        `json:"target"`
	State       State         `json:"-"`
	Outcome     string        `json:"outcome"`
	Fingerprint string        `json:"fingerprint"`
	Previous    string        `json:"previous,omitempty"`
	Version     string        `json:"version,omitempty"`
	Baseline    bool          `json:"baseline"`
	Resources   []string      `json:"resources"`
	CheckedAt   time.Time     `json:"checked_at"`
	Duration    time.Duration `json:"duration"`
	Notified    bool          `json:"notified"`
}

// Changed reports whether a new version was written.
func (r *Result) Changed() bool { return r.State == StateChanged }

// DetectorOptions tunes a Detector.
type DetectorOptions struct {
	// Concurrency bounds parallel script fetches. Default: 4.
	Concurrency int
	// Clock names versions. Default: time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// Detector runs the fetch, canonicalise, fingerprint, compare and store
// cycle for one target at a time. It holds no per-target state; the
// snapshot store is the only memory between checks.
type Detector struct {
	fetcher Fetcher
	store   *snapshot.Store
	opts    DetectorOptions
}

// NewDetector creates a Detector storing snapshots under storageRoot.
func NewDetector(fetcher Fetcher, storageRoot string, opts DetectorOptions) *Detector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Detector{
		fetcher: fetcher,
		store:   snapshot.New(storageRoot, snapshot.WithLogger(opts.Logger)),
		opts:    opts,
	}
}

// Check runs one cycle for t. Any fetch failure aborts the whole cycle
// before anything is written.
func (d *Detector) Check(ctx context.Context, t Target) (*Result, error) {
	log := d.opts.Logger.With("target", t.Key, "url", t.URL)
	start := time.Now()
	res := &Result{Target: t}

	d.enter(log, res, StateFetching)
	set, err := d.collect(ctx, t, log)
	if err != nil {
		return nil, err
	}

	d.enter(log, res, StateFingerprinting)
	fp := fingerprint.Compute(set)
	res.Fingerprint = fp
	res.Resources = set.Names()

	d.enter(log, res, StateComparing)
	prev, found, err := d.store.LastFingerprint(t.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	res.Previous = prev
	res.CheckedAt = d.opts.Clock()

	if found && prev == fp {
		d.enter(log, res, StateUnchanged)
		res.Duration = time.Since(start)
		log.Info("pagewatch: unchanged", "fingerprint", fp, "resources", set.Len())
		return res, nil
	}

	version, err := d.store.WriteSnapshot(t.Key, set, fp, res.CheckedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	res.Version = version
	res.Baseline = !found
	d.enter(log, res, StateChanged)
	res.Duration = time.Since(start)
	log.Info("pagewatch: changed",
		"fingerprint", fp, "previous", prev, "version", version,
		"baseline", res.Baseline, "resources", set.Len())
	return res, nil
}

func (d *Detector) enter(log *slog.Logger, res *Result, s State) {
	res.State = s
	res.Outcome = s.String()
	log.Debug("pagewatch: state", "state", s.String())
}

type scriptRef struct {
	src  string
	url  string
	name string
}

// collect fetches the page and every distinct script it references and
// assembles them in order: the page, then scripts in markup order.
func (d *Detector) collect(ctx context.Context, t Target, log *slog.Logger) (*resource.Set, error) {
	body, ct, err := d.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: page: %w", ErrFetch, err)
	}
	page, err := canon.ParsePage(body, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: page: %w", ErrParse, err)
	}

	var refs []scriptRef
	seen := make(map[string]bool)
	for _, src := range page.Scripts {
		u, err := fetch.Resolve(t.URL, src)
		if err != nil {
			return nil, fmt.Errorf("%w: script %q: %w", ErrInvalidInput, src, err)
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		name := fetch.ScriptName(src)
		if name == resource.PageName {
			// The page slot is reserved.
			name = "_" + name
		}
		refs = append(refs, scriptRef{src: src, url: u, name: name})
	}

	texts := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			body, ct, err := d.fetcher.Fetch(gctx, ref.url)
			if err != nil {
				return fmt.Errorf("%w: script %s: %w", ErrFetch, ref.url, err)
			}
			text, err := canon.Script(body, ct)
			if err != nil {
				return fmt.Errorf("%w: script %s: %w", ErrParse, ref.url, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := resource.NewSet()
	set.Add(resource.Resource{Name: resource.PageName, URL: t.URL, Kind: resource.KindPage, Text: page.Text})
	for i, ref := range refs {
		if set.Add(resource.Resource{Name: ref.name, URL: ref.url, Kind: resource.KindScript, Text: texts[i]}) {
			log.Warn("pagewatch: resource name collision, later resource kept",
				"name", ref.name, "url", ref.url)
		}
	}
	return set, nil
}
