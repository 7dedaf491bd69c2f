package pagewatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeWeb serves canned bodies by URL and counts fetches.
type fakeWeb struct {
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]error
	hits   map[string]int
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{bodies: map[string]string{}, fail: map[string]error{}, hits: map[string]int{}}
}

func (f *fakeWeb) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *fakeWeb) failWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = err
}

func (f *fakeWeb) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[url]
}

func (f *fakeWeb) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[url]++
	if err := f.fail[url]; err != nil {
		return nil, "", err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, "", fmt.Errorf("HTTP 404 for %s", url)
	}
	ct := "text/html; charset=utf-8"
	if len(url) > 3 && url[len(url)-3:] == ".js" {
		ct = "application/javascript"
	}
	return []byte(body), ct, nil
}

// stepClock advances one minute per call so every version gets its own name.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

const examplePage = `<html><head><script src="script-a.js"></script><script src="/script-b.js"></script></head><body><p>hello</p></body></html>`

func exampleWeb() *fakeWeb {
	w := newFakeWeb()
	w.set("http://example.com", examplePage)
	w.set("http://example.com/script-a.js", "var a = 1;")
	w.set("http://example.com/script-b.js", "var b = 1;")
	return w
}
