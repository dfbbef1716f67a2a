package transcript

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ashureev/signdesk/internal/domain"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html bold", "a <b>big</b> sign", "a big sign"},
		{"markdown bold", "a **big** sign", "a big sign"},
		{"other tags", `see <a href="x">this</a><br/>`, "see this"},
		{"plain", "no markup", "no markup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildMessagesOnly(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "**Hello** there"},
	}

	got := Build(msgs, "s1", nil)
	want := "User: hi\nAssistant: Hello there"
	if got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}
}

func TestBuildCapsMessages(t *testing.T) {
	msgs := make([]domain.Message, 150)
	for i := range msgs {
		msgs[i] = domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("m%d", i)}
	}

	lines := strings.Split(Build(msgs, "s1", nil), "\n")
	if len(lines) != MaxMessages {
		t.Fatalf("got %d lines, want %d", len(lines), MaxMessages)
	}
	if lines[0] != "User: m50" {
		t.Errorf("first line = %q, want oldest retained message m50", lines[0])
	}
}

func TestBuildQuoteSection(t *testing.T) {
	quote := &domain.Quote{FormData: map[string]any{
		"width":              float64(12),
		"height":             float64(5),
		"heightUnit":         "feet",
		"materialPreference": []any{"Aluminum", "Acrylic"},
		"cityState":          "Austin, TX",
		"budget":             "",
		"uploadedLogos": []any{
			map[string]any{"filename": "logo.png"},
			map[string]any{},
		},
	}}

	got := Build([]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "s1", quote)

	for _, want := range []string{
		"\n\n--- QUOTE FORM DATA ---\nSession ID: s1\n",
		"Size: 12 inches × 5 feet\n",
		"Material: Aluminum, Acrylic\n",
		"Location: Austin, TX\n",
		"Logos: 2 file(s) uploaded\n  Logo 1: logo.png\n  Logo 2: Unknown\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("transcript missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Budget:") {
		t.Error("empty budget should be omitted")
	}
	if !strings.HasSuffix(got, "--- END QUOTE FORM DATA ---") {
		t.Errorf("transcript should end with the quote footer:\n%s", got)
	}
}

func TestBuildPrefersSizeDimensions(t *testing.T) {
	quote := &domain.Quote{FormData: map[string]any{
		"sizeDimensions": "4 ft × 2 ft",
		"width":          float64(1),
		"height":         float64(1),
	}}

	got := Build(nil, "s1", quote)
	if !strings.Contains(got, "Size: 4 ft × 2 ft\n") {
		t.Errorf("expected sizeDimensions to win:\n%s", got)
	}
}

func TestBuildEmptyQuoteOmitsSection(t *testing.T) {
	got := Build([]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, "s1", &domain.Quote{})
	if strings.Contains(got, "QUOTE FORM DATA") {
		t.Errorf("empty form data should not render a section:\n%s", got)
	}
}
