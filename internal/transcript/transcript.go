// Package transcript renders a session as the plain-text conversation pushed
// to the spreadsheet log and the CRM contact record.
package transcript

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/signdesk/internal/domain"
)

// MaxMessages caps how many trailing messages a transcript includes.
const MaxMessages = 100

var (
	boldTag  = regexp.MustCompile(`<b>(.*?)</b>`)
	boldStar = regexp.MustCompile(`\*\*(.*?)\*\*`)
	anyTag   = regexp.MustCompile(`<[^>]+>`)
)

// Sanitize strips bold markup and any remaining HTML tags from content.
func Sanitize(content string) string {
	content = boldTag.ReplaceAllString(content, "$1")
	content = boldStar.ReplaceAllString(content, "$1")
	return anyTag.ReplaceAllString(content, "")
}

// Build renders the last MaxMessages messages, one "Role: text" line each,
// followed by the quote section when quote has form data.
func Build(messages []domain.Message, key string, quote *domain.Quote) string {
	if len(messages) > MaxMessages {
		messages = messages[len(messages)-MaxMessages:]
	}

	lines := make([]string, 0, len(messages)+16)
	for _, m := range messages {
		lines = append(lines, prefix(m.Role)+": "+Sanitize(m.Content))
	}
	if quote != nil && len(quote.FormData) > 0 {
		lines = append(lines, quoteSection(key, quote.FormData)...)
	}
	return strings.Join(lines, "\n")
}

func prefix(role string) string {
	switch role {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	default:
		return role
	}
}

func quoteSection(key string, fd map[string]any) []string {
	lines := []string{
		"\n--- QUOTE FORM DATA ---",
		"Session ID: " + key,
	}

	if present(fd["sizeDimensions"]) {
		lines = append(lines, "Size: "+text(fd["sizeDimensions"]))
	} else if present(fd["width"]) && present(fd["height"]) {
		lines = append(lines, fmt.Sprintf("Size: %s %s × %s %s",
			text(fd["width"]), unit(fd["widthUnit"]),
			text(fd["height"]), unit(fd["heightUnit"])))
	}

	for _, f := range []struct{ key, label string }{
		{"materialPreference", "Material"},
		{"illumination", "Illumination"},
		{"cityState", "Location"},
		{"budget", "Budget"},
		{"placement", "Placement"},
		{"deadline", "Deadline"},
		{"additionalNotes", "Notes"},
	} {
		if present(fd[f.key]) {
			lines = append(lines, f.label+": "+text(fd[f.key]))
		}
	}

	if logos, ok := fd["uploadedLogos"].([]any); ok && len(logos) > 0 {
		lines = append(lines, fmt.Sprintf("Logos: %d file(s) uploaded", len(logos)))
		for i, l := range logos {
			name := "Unknown"
			if m, ok := l.(map[string]any); ok && present(m["filename"]) {
				name = text(m["filename"])
			}
			lines = append(lines, fmt.Sprintf("  Logo %d: %s", i+1, name))
		}
	}

	return append(lines, "--- END QUOTE FORM DATA ---")
}

func unit(v any) string {
	if present(v) {
		return text(v)
	}
	return "inches"
}

// present reports whether a form value is set and non-empty.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}

// text renders a form value; lists are joined with ", ".
func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = text(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}
