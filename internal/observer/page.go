package observer

import "sync"

// Element is one node in a page snapshot, reduced to what the
// detection selectors can address.
type Element struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
}

// Page is the observer's read-only view of a document. Matches may
// fail mid-navigation or from hostile getters; callers treat any error
// as "no match". Observers never mutate the page.
type Page interface {
	URL() string
	Matches(selector string) (bool, error)
}

// StaticPage is an in-memory page snapshot. It backs tests and the
// fixture-driven observer runner.
type StaticPage struct {
	mu       sync.Mutex
	url      string
	elements []Element
}

func NewStaticPage(url string, elements ...Element) *StaticPage {
	return &StaticPage{url: url, elements: elements}
}

func (p *StaticPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// SetElements swaps the snapshot content, simulating a DOM mutation.
func (p *StaticPage) SetElements(elements ...Element) {
	p.mu.Lock()
	p.elements = elements
	p.mu.Unlock()
}

func (p *StaticPage) Matches(sel string) (bool, error) {
	parsed, err := parseSelector(sel)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range p.elements {
		if parsed.matches(el) {
			return true, nil
		}
	}
	return false, nil
}

// FaultyPage wraps a page and fails every read with err, standing in
// for a torn-down DOM.
type FaultyPage struct {
	Inner Page
	Err   error
}

func (p FaultyPage) URL() string { return p.Inner.URL() }

func (p FaultyPage) Matches(string) (bool, error) { return false, p.Err }
