package observer

import "testing"

func el(tag, id string, classes []string, attrs map[string]string) Element {
	return Element{Tag: tag, ID: id, Classes: classes, Attrs: attrs}
}

func TestSelectorMatching(t *testing.T) {
	cases := []struct {
		sel  string
		el   Element
		want bool
	}{
		{"button", el("button", "", nil, nil), true},
		{"button", el("div", "", nil, nil), false},
		{".listening", el("div", "", []string{"mic", "listening"}, nil), true},
		{".listening", el("div", "", []string{"mic"}, nil), false},
		{"#voice-search-button", el("button", "voice-search-button", nil, nil), true},
		{"#voice-search-button", el("button", "other", nil, nil), false},
		{`[data-listening]`, el("div", "", nil, map[string]string{"data-listening": "false"}), true},
		{`[data-listening="true"]`, el("div", "", nil, map[string]string{"data-listening": "true"}), true},
		{`[data-listening="true"]`, el("div", "", nil, map[string]string{"data-listening": "false"}), false},
		{`[aria-label*="voice"]`, el("button", "", nil, map[string]string{"aria-label": "Search by voice"}), true},
		{`[aria-label*="voice" i]`, el("button", "", nil, map[string]string{"aria-label": "Search by Voice"}), true},
		{`[aria-label*="voice"]`, el("button", "", nil, map[string]string{"aria-label": "Search by Voice"}), false},
		{`button[aria-label*="voice" i]`, el("button", "", nil, map[string]string{"aria-label": "Voice input"}), true},
		{`button[aria-label*="voice" i]`, el("div", "", nil, map[string]string{"aria-label": "Voice input"}), false},
		{`.voice-mode-button`, el("button", "", []string{"voice-mode-button"}, nil), true},
		{`div.mic#main[role="button"]`, el("div", "main", []string{"mic"}, map[string]string{"role": "button"}), true},
	}
	for _, tc := range cases {
		sel, err := parseSelector(tc.sel)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.sel, err)
		}
		if got := sel.matches(tc.el); got != tc.want {
			t.Fatalf("%q against %+v = %v, want %v", tc.sel, tc.el, got, tc.want)
		}
	}
}

func TestParseSelectorErrors(t *testing.T) {
	for _, bad := range []string{"", "  ", ".", "#", "[unclosed", "[=v]", "div > span"} {
		if _, err := parseSelector(bad); err == nil {
			t.Fatalf("expected parse error for %q", bad)
		}
	}
}

func TestStaticPageMatches(t *testing.T) {
	page := NewStaticPage("https://example.org/",
		el("button", "", nil, map[string]string{"aria-label": "voice input"}),
	)
	ok, err := page.Matches(`[aria-label*="voice" i]`)
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}

	ok, err = page.Matches(`.listening`)
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}

	if _, err := page.Matches("div > span"); err == nil {
		t.Fatal("expected selector error")
	}
}
