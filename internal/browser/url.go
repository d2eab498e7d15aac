package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nabd-browser/nabd/internal/surface"
)

// ProcessInput turns what the user typed into an address. Full http(s)
// URLs are kept, host-like input gets https://, and anything else becomes
// a search on searchURL (a format string with one %s).
func ProcessInput(input, searchURL string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	lower := strings.ToLower(input)
	switch {
	case lower == surface.BlankURL:
		return surface.BlankURL
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return input
	case strings.Contains(input, ".") && !strings.ContainsAny(input, " \t"):
		return "https://" + input
	}
	q := url.QueryEscape(input)
	if strings.Contains(searchURL, "%s") {
		return fmt.Sprintf(searchURL, q)
	}
	return searchURL + q
}
