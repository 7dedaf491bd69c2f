// Package resource defines the artifacts fetched during one check cycle and
// the ordered set they are fingerprinted and stored as.
package resource

// Kind distinguishes the root page from the scripts it references.
type Kind int

const (
	KindPage Kind = iota
	KindScript
)

func (k Kind) String() string {
	if k == KindPage {
		return "page"
	}
	return "script"
}

// PageName is the logical name of the root page inside a version.
const PageName = "index.html"

// Resource is one fetched artifact in canonical text form.
type Resource struct {
	Name string // logical name, used as the file name in a version
	URL  string // absolute URL it was fetched from
	Kind Kind
	Text string // canonical text
}

// Set is the ordered collection of resources of one cycle: the root page
// first, then scripts in markup order. Order is significant: the
// fingerprint is computed over the texts in this order.
type Set struct {
	items []Resource
	index map[string]int
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add appends r. If a resource with the same logical name is already
// present, r replaces it in place (keeping the earlier position) and Add
// reports true. Two scripts with the same basename therefore occupy one
// slot holding the later content.
func (s *Set) Add(r Resource) (replaced bool) {
	if i, ok := s.index[r.Name]; ok {
		s.items[i] = r
		return true
	}
	s.index[r.Name] = len(s.items)
	s.items = append(s.items, r)
	return false
}

// Len returns the number of resources.
func (s *Set) Len() int { return len(s.items) }

// Resources returns the resources in set order. The slice is a copy.
func (s *Set) Resources() []Resource {
	out := make([]Resource, len(s.items))
	copy(out, s.items)
	return out
}

// Names returns the logical names in set order.
func (s *Set) Names() []string {
	out := make([]string, len(s.items))
	for i, r := range s.items {
		out[i] = r.Name
	}
	return out
}
