package variables

import "testing"

func TestNamePolicy_Parse(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"%score%", "score", true},
		{"  %score%  ", "score", true},
		{"\u200b%score%\u200b", "score", true},
		{"% spaced name %", "spaced name", true},
		{"%Score%", "Score", true},
		{"%%", "", false},
		{"%", "", false},
		{"% %", "", false},
		{"%a%b%", "", false},
		{"score", "", false},
		{"%score", "", false},
		{"Score: %score%", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := p.Parse(c.line)
		if ok != c.ok || got != c.want {
			t.Fatalf("Parse(%q) = %q,%v want %q,%v", c.line, got, ok, c.want, c.ok)
		}
	}
}

func TestNamePolicy_RoundTrip(t *testing.T) {
	policies := []NamePolicy{
		DefaultPolicy(),
		{Delim: '$'},
		{Delim: '%', FoldCase: true},
		{Delim: '§'},
	}
	names := []string{"score", "Score", "online players", "x", "día", "a_b-c.1"}
	for _, p := range policies {
		for _, n := range names {
			n = p.Normalize(n)
			if !p.ValidName(n) {
				t.Fatalf("policy %+v: expected %q valid", p, n)
			}
			got, ok := p.Parse(p.Format(n))
			if !ok || got != n {
				t.Fatalf("policy %+v: round trip %q -> %q (%v)", p, n, got, ok)
			}
		}
	}
}

func TestNamePolicy_FoldCase(t *testing.T) {
	p := NamePolicy{Delim: '%', FoldCase: true}
	a, _ := p.Parse("%SCORE%")
	b, _ := p.Parse("%score%")
	if a != b {
		t.Fatalf("expected folded names to match: %q vs %q", a, b)
	}
	if p.ValidName("SCORE") {
		t.Fatalf("unfolded name must not be valid under a folding policy")
	}
}

func TestNamePolicy_InvalidNames(t *testing.T) {
	p := DefaultPolicy()
	for _, n := range []string{"", " lead", "trail ", "a%b"} {
		if p.ValidName(n) {
			t.Fatalf("expected %q invalid", n)
		}
	}
}
