package mailer

import (
	"html"
	"strings"
)

// HTMLBody renders a plain body as escaped HTML with line breaks kept. No placeholders are expanded.
func HTMLBody(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
	return `<html><body><div style="font-family: Arial, sans-serif; line-height: 1.6;">` +
		escaped + `</div></body></html>`
}
