package observer

import (
	"fmt"
	"strings"
)

// The detection tables use a closed subset of CSS simple selectors:
// an optional tag name followed by any number of .class, #id, [attr],
// [attr="v"] or [attr*="v"] parts, the attribute forms optionally
// case-insensitive with a trailing " i" flag. Combinators are not
// supported and not needed by the site-profile table.

type attrOp int

const (
	opPresent attrOp = iota
	opEquals
	opContains
)

type selPart struct {
	class string
	id    string
	attr  string
	op    attrOp
	value string
	ci    bool
}

type selector struct {
	tag   string
	parts []selPart
}

func parseSelector(s string) (selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return selector{}, fmt.Errorf("empty selector")
	}

	var sel selector
	i := 0
	if s[0] != '.' && s[0] != '#' && s[0] != '[' {
		j := i
		for j < len(s) && s[j] != '.' && s[j] != '#' && s[j] != '[' {
			j++
		}
		sel.tag = strings.ToLower(s[i:j])
		if strings.ContainsAny(sel.tag, " \t>+~,") {
			return selector{}, fmt.Errorf("combinators are not supported in selector %q", s)
		}
		i = j
	}

	for i < len(s) {
		switch s[i] {
		case '.', '#':
			marker := s[i]
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '#' && s[j] != '[' {
				j++
			}
			name := s[i+1 : j]
			if name == "" {
				return selector{}, fmt.Errorf("empty name in selector %q", s)
			}
			if marker == '.' {
				sel.parts = append(sel.parts, selPart{class: name})
			} else {
				sel.parts = append(sel.parts, selPart{id: name})
			}
			i = j
		case '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return selector{}, fmt.Errorf("unterminated attribute in selector %q", s)
			}
			part, err := parseAttr(s[i+1 : i+j])
			if err != nil {
				return selector{}, err
			}
			sel.parts = append(sel.parts, part)
			i += j + 1
		default:
			return selector{}, fmt.Errorf("unsupported syntax at %q in selector %q", s[i:], s)
		}
	}
	return sel, nil
}

func parseAttr(body string) (selPart, error) {
	body = strings.TrimSpace(body)
	ci := false
	if strings.HasSuffix(body, " i") || strings.HasSuffix(body, " I") {
		ci = true
		body = strings.TrimSpace(body[:len(body)-2])
	}

	op := opPresent
	name := body
	value := ""
	if k := strings.Index(body, "*="); k >= 0 {
		op = opContains
		name, value = body[:k], body[k+2:]
	} else if k := strings.IndexByte(body, '='); k >= 0 {
		op = opEquals
		name, value = body[:k], body[k+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return selPart{}, fmt.Errorf("empty attribute name in %q", body)
	}
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	return selPart{attr: name, op: op, value: value, ci: ci}, nil
}

func (sel selector) matches(el Element) bool {
	if sel.tag != "" && !strings.EqualFold(sel.tag, el.Tag) {
		return false
	}
	for _, p := range sel.parts {
		if !p.matches(el) {
			return false
		}
	}
	return true
}

func (p selPart) matches(el Element) bool {
	switch {
	case p.class != "":
		for _, c := range el.Classes {
			if c == p.class {
				return true
			}
		}
		return false
	case p.id != "":
		return el.ID == p.id
	default:
		got, ok := el.Attrs[p.attr]
		if !ok {
			return false
		}
		want := p.value
		if p.ci {
			got = strings.ToLower(got)
			want = strings.ToLower(want)
		}
		switch p.op {
		case opPresent:
			return true
		case opEquals:
			return got == want
		case opContains:
			return strings.Contains(got, want)
		}
		return false
	}
}
