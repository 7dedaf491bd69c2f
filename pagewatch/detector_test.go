package pagewatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/fingerprint"
)

func newTestDetector(t *testing.T, web Fetcher) (*Detector, string) {
	t.Helper()
	root := t.TempDir()
	return NewDetector(web, root, DetectorOptions{Clock: newStepClock().Now}), root
}

func mustTarget(t *testing.T, raw string) Target {
	t.Helper()
	tg, err := NewTarget(raw)
	if err != nil {
		t.Fatalf("NewTarget(%q): %v", raw, err)
	}
	return tg
}

func readFingerprintFile(t *testing.T, root, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, key, key+"-sha256hash"))
	if err != nil {
		t.Fatalf("read fingerprint file: %v", err)
	}
	return string(data)
}

func listVersions(t *testing.T, d *Detector, key string) []string {
	t.Helper()
	v, err := d.store.Versions(key)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	return v
}

func TestCheck_ChangeLifecycle(t *testing.T) {
	// WHAT: baseline, then unchanged, then a script edit produces a second version.
	// WHY: This is the end-to-end contract operators rely on.
	web := exampleWeb()
	d, root := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com")
	ctx := context.Background()

	r1, err := d.Check(ctx, tg)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if r1.State != StateChanged || !r1.Baseline || r1.Version == "" {
		t.Fatalf("run 1: got state=%v baseline=%v version=%q", r1.State, r1.Baseline, r1.Version)
	}
	wantNames := []string{"index.html", "script-a.js", "script-b.js"}
	if !reflect.DeepEqual(r1.Resources, wantNames) {
		t.Fatalf("resources: got %v, want %v", r1.Resources, wantNames)
	}
	files, err := d.store.ReadVersion(tg.Key, r1.Version)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if len(files) != 3 || files["script-a.js"] != "var a = 1;" || files["script-b.js"] != "var b = 1;" {
		t.Fatalf("version 1 files: %v", files)
	}
	digest1 := readFingerprintFile(t, root, tg.Key)
	if digest1 != r1.Fingerprint || !fingerprint.Valid(digest1) {
		t.Fatalf("fingerprint file %q, result %q", digest1, r1.Fingerprint)
	}

	r2, err := d.Check(ctx, tg)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if r2.State != StateUnchanged || r2.Version != "" || r2.Changed() {
		t.Fatalf("run 2: got state=%v version=%q", r2.State, r2.Version)
	}
	if got := listVersions(t, d, tg.Key); len(got) != 1 {
		t.Fatalf("after run 2: %d versions, want 1", len(got))
	}
	if got := readFingerprintFile(t, root, tg.Key); got != digest1 {
		t.Fatalf("fingerprint file changed on unchanged run")
	}

	web.set("http://example.com/script-b.js", "var b = 2;")
	r3, err := d.Check(ctx, tg)
	if err != nil {
		t.Fatalf("run 3: %v", err)
	}
	if r3.State != StateChanged || r3.Baseline || r3.Previous != digest1 {
		t.Fatalf("run 3: got state=%v baseline=%v previous=%q", r3.State, r3.Baseline, r3.Previous)
	}
	digest2 := readFingerprintFile(t, root, tg.Key)
	if digest2 == digest1 || digest2 != r3.Fingerprint {
		t.Fatalf("digest2 %q should differ from digest1 %q", digest2, digest1)
	}
	versions := listVersions(t, d, tg.Key)
	if len(versions) != 2 || versions[0] != r1.Version || versions[1] != r3.Version {
		t.Fatalf("versions: got %v", versions)
	}
	v2, err := d.store.ReadVersion(tg.Key, r3.Version)
	if err != nil {
		t.Fatalf("read version 2: %v", err)
	}
	if v2["script-b.js"] != "var b = 2;" {
		t.Fatalf("version 2 script-b: %q", v2["script-b.js"])
	}
}

func TestCheck_ScriptFailureAbortsCycle(t *testing.T) {
	// WHAT: When one of three scripts fails, nothing is written.
	// WHY: A partial resource set must never become the baseline.
	web := newFakeWeb()
	web.set("http://example.com", `<script src="a.js"></script><script src="b.js"></script><script src="c.js"></script>`)
	web.set("http://example.com/a.js", "a")
	web.failWith("http://example.com/b.js", errors.New("connection reset"))
	web.set("http://example.com/c.js", "c")
	d, root := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com")

	res, err := d.Check(context.Background(), tg)
	if err == nil {
		t.Fatalf("expected error, got %+v", res)
	}
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("got %v, want ErrFetch", err)
	}
	if !strings.Contains(err.Error(), "b.js") {
		t.Fatalf("error should name the failing script: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, tg.Key)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("target dir should not exist after a failed first cycle: %v", err)
	}
}

func TestCheck_PageFailure(t *testing.T) {
	// WHAT: A failing root page returns ErrFetch and leaves the previous state alone.
	// WHY: Transient outages must not look like changes.
	web := exampleWeb()
	d, root := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com")
	if _, err := d.Check(context.Background(), tg); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	before := readFingerprintFile(t, root, tg.Key)

	web.failWith("http://example.com", errors.New("HTTP 503"))
	if _, err := d.Check(context.Background(), tg); !errors.Is(err, ErrFetch) {
		t.Fatalf("got %v, want ErrFetch", err)
	}
	if got := readFingerprintFile(t, root, tg.Key); got != before {
		t.Fatalf("fingerprint changed after failure")
	}
	if n := len(listVersions(t, d, tg.Key)); n != 1 {
		t.Fatalf("versions: got %d, want 1", n)
	}
}

func TestCheck_ScriptOrderMatters(t *testing.T) {
	// WHAT: Swapping two script tags changes the fingerprint.
	// WHY: Resources are hashed in markup order.
	web := exampleWeb()
	d, _ := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com")
	r1, err := d.Check(context.Background(), tg)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	web.set("http://example.com", `<html><head><script src="/script-b.js"></script><script src="script-a.js"></script></head><body><p>hello</p></body></html>`)
	r2, err := d.Check(context.Background(), tg)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if r2.Fingerprint == r1.Fingerprint || !r2.Changed() {
		t.Fatalf("reordering scripts should change the fingerprint")
	}
	if r2.Resources[1] != "script-b.js" {
		t.Fatalf("resources: %v", r2.Resources)
	}
}

func TestCheck_DuplicateScriptFetchedOnce(t *testing.T) {
	// WHAT: The same script referenced twice is fetched and stored once.
	// WHY: Duplicate references are one resource.
	web := exampleWeb()
	web.set("http://example.com", `<script src="script-a.js"></script><script src="script-a.js"></script>`)
	d, _ := newTestDetector(t, web)
	res, err := d.Check(context.Background(), mustTarget(t, "http://example.com"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if n := web.count("http://example.com/script-a.js"); n != 1 {
		t.Fatalf("script fetched %d times", n)
	}
	if !reflect.DeepEqual(res.Resources, []string{"index.html", "script-a.js"}) {
		t.Fatalf("resources: %v", res.Resources)
	}
}

func TestCheck_NameCollisionKeepsLater(t *testing.T) {
	// WHAT: Two scripts with the same basename collapse to one file holding the later one.
	// WHY: Version directories are flat; the collision policy must be deterministic.
	web := newFakeWeb()
	web.set("http://example.com", `<script src="/v1/app.js"></script><script src="/v2/app.js"></script>`)
	web.set("http://example.com/v1/app.js", "one")
	web.set("http://example.com/v2/app.js", "two")
	d, _ := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com")
	res, err := d.Check(context.Background(), tg)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	files, err := d.store.ReadVersion(tg.Key, res.Version)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if files["app.js"] != "two" || len(files) != 2 {
		t.Fatalf("files: %v", files)
	}
}

func TestCheck_PageWithoutScripts(t *testing.T) {
	// WHAT: A page with no scripts stores just index.html.
	// WHY: The resource set always contains the page.
	web := newFakeWeb()
	web.set("http://example.com/docs", "<p>plain</p>")
	d, root := newTestDetector(t, web)
	tg := mustTarget(t, "http://example.com/docs")
	res, err := d.Check(context.Background(), tg)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !reflect.DeepEqual(res.Resources, []string{"index.html"}) {
		t.Fatalf("resources: %v", res.Resources)
	}
	if _, err := os.Stat(filepath.Join(root, "example.com%2Fdocs", res.Version, "index.html")); err != nil {
		t.Fatalf("stat index.html: %v", err)
	}
}

func TestCheck_Cancelled(t *testing.T) {
	// WHAT: A cancelled context surfaces as a fetch error.
	// WHY: Daemon shutdown must not write half-fetched snapshots.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	web := FetcherFunc(func(ctx context.Context, url string) ([]byte, string, error) {
		return nil, "", ctx.Err()
	})
	d, _ := newTestDetector(t, web)
	_, err := d.Check(ctx, mustTarget(t, "http://example.com"))
	if !errors.Is(err, ErrFetch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateFetching:       "fetching",
		StateFingerprinting: "fingerprinting",
		StateComparing:      "comparing",
		StateUnchanged:      "unchanged",
		StateChanged:        "changed",
	} {
		if s.String() != want {
			t.Errorf("%d: got %q, want %q", int(s), s.String(), want)
		}
	}
	if StateComparing.Terminal() || !StateUnchanged.Terminal() || !StateChanged.Terminal() {
		t.Fatal("Terminal mismatch")
	}
}
