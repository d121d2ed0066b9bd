package github

import (
	"regexp"
	"strconv"
	"strings"
)

type rewrite struct {
	re   *regexp.Regexp
	with string
}

var (
	hiddenChars = []rewrite{
		{regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]"), ""},
		{regexp.MustCompile("[\u0000-\u0008\u000B\u000C\u000E-\u001F\u007F-\u009F]"), ""},
		{regexp.MustCompile("\u00AD"), ""},
		{regexp.MustCompile("[\u202A-\u202E\u2066-\u2069]"), ""},
	}

	markupRewrites = []rewrite{
		{regexp.MustCompile(`<!--[\s\S]*?-->`), ""},
		{regexp.MustCompile(`!\[[^\]]*\]\(`), "![]("},
		{regexp.MustCompile(`(\[[^\]]*\]\([^)]+)\s+"[^"]*"`), "$1"},
		{regexp.MustCompile(`(\[[^\]]*\]\([^)]+)\s+'[^']*'`), "$1"},
		// alt, title, aria-label, data-*, placeholder in any quoting style
		{regexp.MustCompile(`\s(?:alt|title|aria-label|placeholder|data-[a-zA-Z0-9-]+)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`), ""},
	}

	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`),
		regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{11,221}\b`),
	}

	numericEntity = regexp.MustCompile(`&#(x[0-9a-fA-F]+|\d+);`)
)

func applyRewrites(s string, rules []rewrite) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

// StripInvisibleCharacters removes zero-width, control, soft hyphen and bidi characters.
func StripInvisibleCharacters(s string) string {
	return applyRewrites(s, hiddenChars)
}

// StripHiddenMarkup removes HTML comments, image alt text, link titles and
// attributes that can carry text a reader never sees.
func StripHiddenMarkup(s string) string {
	return applyRewrites(s, markupRewrites)
}

// NormalizeHTMLEntities decodes printable-ASCII numeric entities and drops the rest.
func NormalizeHTMLEntities(s string) string {
	return numericEntity.ReplaceAllStringFunc(s, func(in string) string {
		digits := in[2 : len(in)-1]
		base := 10
		if digits[0] == 'x' {
			digits, base = digits[1:], 16
		}
		n, err := strconv.ParseInt(digits, base, 32)
		if err != nil || n < 32 || n > 126 {
			return ""
		}
		return string(rune(n))
	})
}

// RedactGitHubTokens censors GitHub token-like strings.
func RedactGitHubTokens(s string) string {
	for _, re := range tokenPatterns {
		s = re.ReplaceAllString(s, "[REDACTED_GITHUB_TOKEN]")
	}
	return s
}

// SanitizeContent cleans text the agent publishes to GitHub.
func SanitizeContent(s string) string {
	if s == "" {
		return s
	}
	s = StripHiddenMarkup(s)
	s = StripInvisibleCharacters(s)
	s = NormalizeHTMLEntities(s)
	s = RedactGitHubTokens(s)
	return strings.TrimSpace(s)
}
