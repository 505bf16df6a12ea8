package failover

import (
	"testing"

	"github.com/micguard/micguard/internal/audio"
)

func TestResolve(t *testing.T) {
	devices := []audio.Device{
		{ID: "usb1", Name: "USB Studio Mic"},
		{ID: "line1", Name: "Line In"},
		{ID: "line2", Name: "Line In (rear)"},
	}
	aliases := map[string]string{"booth": "USB Studio"}

	tests := []struct {
		name  string
		query string
		want  MatchKind
		dev   string
	}{
		{"exact substring", "studio", UniqueMatch, "usb1"},
		{"case insensitive", "LINE IN (REAR)", UniqueMatch, "line2"},
		{"alias lookup", "booth", UniqueMatch, "usb1"},
		{"ambiguous substring", "line", Ambiguous, ""},
		{"no match", "bluetooth", NoMatch, ""},
		{"whitespace trimmed", "  studio  ", UniqueMatch, "usb1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.query, aliases, devices)
			if res.Kind != tt.want {
				t.Fatalf("Resolve(%q) kind = %v, want %v", tt.query, res.Kind, tt.want)
			}
			if tt.want == UniqueMatch && res.Device.ID != tt.dev {
				t.Fatalf("Resolve(%q) device = %q, want %q", tt.query, res.Device.ID, tt.dev)
			}
		})
	}
}

func TestResolveAmbiguousListsAllMatches(t *testing.T) {
	devices := []audio.Device{
		{ID: "line1", Name: "Line In"},
		{ID: "line2", Name: "Line In (rear)"},
	}
	res := Resolve("line", nil, devices)
	if res.Kind != Ambiguous || len(res.Matches) != 2 {
		t.Fatalf("got kind %v with %d matches, want Ambiguous with 2", res.Kind, len(res.Matches))
	}
}

func TestResolveBest(t *testing.T) {
	devices := []audio.Device{
		{ID: "line1", Name: "Line In"},
		{ID: "web1", Name: "Webcam Microphone"},
	}
	priority := []string{"usb", "line", "webcam"}

	t.Run("first resolvable entry wins", func(t *testing.T) {
		dev, query, ok := ResolveBest(priority, nil, devices, nil)
		if !ok || dev.ID != "line1" || query != "line" {
			t.Fatalf("got (%q, %q, %v), want (line1, line, true)", dev.ID, query, ok)
		}
	})

	t.Run("skipped entries passed over", func(t *testing.T) {
		dev, query, ok := ResolveBest(priority, nil, devices, map[string]bool{"line": true})
		if !ok || dev.ID != "web1" || query != "webcam" {
			t.Fatalf("got (%q, %q, %v), want (web1, webcam, true)", dev.ID, query, ok)
		}
	})

	t.Run("nothing resolves", func(t *testing.T) {
		_, _, ok := ResolveBest([]string{"usb"}, nil, devices, nil)
		if ok {
			t.Fatal("expected no resolution")
		}
	})

	t.Run("ambiguous entries passed over", func(t *testing.T) {
		twins := append(devices, audio.Device{ID: "line2", Name: "Line In (rear)"})
		dev, query, ok := ResolveBest(priority, nil, twins, nil)
		if !ok || query != "webcam" {
			t.Fatalf("got (%q, %q, %v), want webcam entry", dev.ID, query, ok)
		}
	})
}
