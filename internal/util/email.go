package util

import (
	"html"
	"strings"
)

// NormalizeRecipients trims every address, splits comma-separated input and drops empties.
func NormalizeRecipients(raw ...string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// JoinRecipients is the stored form of a recipient list.
func JoinRecipients(addrs []string) string {
	return strings.Join(addrs, ", ")
}

// TextToHTML escapes body and turns line breaks into <br>.
func TextToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(body), "\n", "<br>\n")
}
