package comment

import (
	"strings"
)

const spinner = `<img src="https://github.com/user-attachments/assets/5ac382c7-e004-429b-8e35-7feb3e8f9c6f" width="14px" /> `

const workingText = "SWE Agent is working on this"

// AddSpinner prefixes text with the animated working indicator.
func AddSpinner(text string) string {
	return spinner + text
}

// FormatLinks renders the footer line; empty links are left out.
func FormatLinks(links ...string) string {
	var parts []string
	for _, l := range links {
		if l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n\n---\n" + strings.Join(parts, " | ")
}

// WorkingBody is the fixed body of a fresh tracking comment.
func WorkingBody(entity string, footer ...string) string {
	text := workingText
	if entity != "" {
		text += " " + entity
	}
	return AddSpinner(text+"…") + FormatLinks(footer...)
}
