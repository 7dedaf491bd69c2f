package preview

import (
	"strings"
	"testing"
)

func TestMarkdown(t *testing.T) {
	// WHAT: Headings and text survive; scripts do not.
	// WHY: Previews are read by people, never executed.
	markup := `<html>
 <head>
  <script>
   steal()
  </script>
 </head>
 <body>
  <h1>
   Release notes
  </h1>
  <p onclick="x()">
   Hello
   <a href="/docs">
    docs
   </a>
  </p>
 </body>
</html>`
	md, err := New().Markdown(markup, "https://example.com")
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(md, "# Release notes") {
		t.Fatalf("heading missing:\n%s", md)
	}
	if !strings.Contains(md, "Hello") || !strings.Contains(md, "[docs](") {
		t.Fatalf("body missing:\n%s", md)
	}
	if strings.Contains(md, "steal") || strings.Contains(md, "onclick") {
		t.Fatalf("unsafe content leaked:\n%s", md)
	}
}

func TestMarkdown_Empty(t *testing.T) {
	md, err := New().Markdown("", "https://example.com")
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if md != "" {
		t.Fatalf("got %q", md)
	}
}
