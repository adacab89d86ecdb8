package variables

import (
	"strings"
	"unicode"

	"signlink.ai/internal/signlink/model"
)

const DefaultDelim = '%'

// NamePolicy decides how variable references are written on a sign line and
// how names compare. The zero value uses '%' and is case-sensitive.
type NamePolicy struct {
	Delim    rune
	FoldCase bool
}

func DefaultPolicy() NamePolicy { return NamePolicy{Delim: DefaultDelim} }

func (p NamePolicy) delim() string {
	if p.Delim == 0 {
		return string(DefaultDelim)
	}
	return string(p.Delim)
}

// Parse returns the variable referenced by a whole sign line, e.g. "%score%".
// Surrounding blanks and zero-width characters are ignored.
func (p NamePolicy) Parse(line string) (string, bool) {
	d := p.delim()
	s := strings.TrimFunc(line, isPadding)
	if len(s) < 2*len(d)+1 {
		return "", false
	}
	if !strings.HasPrefix(s, d) || !strings.HasSuffix(s, d) {
		return "", false
	}
	inner := strings.TrimFunc(s[len(d):len(s)-len(d)], isPadding)
	if inner == "" || strings.Contains(inner, d) {
		return "", false
	}
	return p.Normalize(inner), true
}

func (p NamePolicy) Format(name string) string {
	d := p.delim()
	return d + name + d
}

func (p NamePolicy) Normalize(name string) string {
	name = strings.TrimFunc(name, isPadding)
	if p.FoldCase {
		name = model.FoldName(name)
	}
	return name
}

// ValidName reports whether name survives Format followed by Parse unchanged.
func (p NamePolicy) ValidName(name string) bool {
	if name == "" || strings.Contains(name, p.delim()) {
		return false
	}
	return p.Normalize(name) == name
}

func isPadding(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\ufeff':
		return true
	}
	return unicode.IsSpace(r)
}
