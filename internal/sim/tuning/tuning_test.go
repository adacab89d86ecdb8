package tuning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signlink.ai/internal/signlink"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := "tick_rate_hz: 10\nmax_line_width: 20\nvariable_delim: \"$\"\nfold_variable_case: true\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.MaxLineWidth != 20 {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.UpdateEveryTicks != 20 || tu.ChunkSize != 16 {
		t.Fatalf("defaults lost: %+v", tu)
	}
	p := tu.Policy()
	if p.Delim != '$' || !p.FoldCase {
		t.Fatalf("policy: %+v", p)
	}
	if got := tu.EngineConfig(); got.MaxLineWidth != 20 || got.UpdateEveryTicks != 20 {
		t.Fatalf("engine config: %+v", got)
	}
}

func TestLoad_RejectsBadDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("variable_delim: \"%%\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for two-character delimiter")
	}
}

func TestShippedConfigs(t *testing.T) {
	dir := filepath.Join("..", "..", "..", "configs")
	tu, err := Load(filepath.Join(dir, "tuning.yaml"))
	if err != nil {
		t.Fatalf("tuning.yaml: %v", err)
	}
	if tu != Defaults() {
		t.Fatalf("shipped tuning drifted from defaults: %+v", tu)
	}
	defs, err := LoadVariables(filepath.Join(dir, "variables.yaml"))
	if err != nil {
		t.Fatalf("variables.yaml: %v", err)
	}
	if len(defs) == 0 {
		t.Fatalf("no variables shipped")
	}
	for _, d := range defs {
		if !tu.Policy().ValidName(d.Name) {
			t.Fatalf("invalid variable name %q", d.Name)
		}
	}
}

func TestVariables_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variables.yaml")
	in := []signlink.Definition{
		{Name: "motd", Value: "hello", Ticker: &signlink.TickerInfo{Mode: "left", Interval: 2, Pause: 3}},
		{Name: "rank", Value: "guest", PerViewer: map[string]string{"alice": "admin"}},
	}
	if err := WriteVariables(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := LoadVariables(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[0].Ticker == nil || out[0].Ticker.Pause != 3 || out[1].PerViewer["alice"] != "admin" {
		t.Fatalf("unexpected definitions: %+v", out)
	}
}

func TestWatch_AppliesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "variables.yaml")
	if err := os.WriteFile(path, []byte("variables: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []signlink.Definition, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(defs []signlink.Definition) { got <- defs })
	}()

	// Rewrite until the watcher has been registered and reports.
	for attempt := 0; attempt < 5; attempt++ {
		if err := os.WriteFile(path, []byte("variables:\n  - name: score\n    value: \"7\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		select {
		case defs := <-got:
			if len(defs) != 1 || defs[0].Name != "score" || defs[0].Value != "7" {
				t.Fatalf("unexpected definitions: %+v", defs)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-time.After(time.Second):
		}
	}
	t.Fatalf("no reload observed")
}
