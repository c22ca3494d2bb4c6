package paginator

import (
	"regexp"
	"strings"
)

// matches Link header entries: <url>; rel="type"
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseNextLink extracts the "next" URL from a Link header, empty when there is none
func ParseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 && matches[2] == "next" {
			return matches[1]
		}
	}

	return ""
}
