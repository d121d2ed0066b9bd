package branch

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix is prepended to every agent branch name.
const DefaultPrefix = "swe/"

const maxNameLen = 48

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRuns     = regexp.MustCompile(`-+`)
	validName    = regexp.MustCompile(`^[a-z0-9][a-z0-9-/]*$`)
)

// GenerateBranchName derives the agent branch for an issue:
// <prefix>issue-<number>-<slug>, e.g. swe/issue-123-fix-login-bug.
// The slug is truncated so the whole name stays within 48 characters.
func GenerateBranchName(prefix string, issueNumber int, issueTitle string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	head := fmt.Sprintf("%sissue-%d", prefix, issueNumber)

	slug := slugify(issueTitle)
	maxSlugLen := maxNameLen - len(head) - 1
	if maxSlugLen < 0 {
		maxSlugLen = 0
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	slug = strings.TrimRight(slug, "-")

	if slug == "" {
		return head
	}
	return head + "-" + slug
}

// slugify lowercases s and keeps only [a-z0-9-]:
// "Fix login bug!" -> "fix-login-bug"
func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "")
	s = dashRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidateBranchName reports whether name is an agent branch under prefix.
func ValidateBranchName(prefix, name string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) > 100 || len(name) <= len(prefix)+len("issue-") {
		return false
	}
	if strings.Contains(name, "//") || strings.HasSuffix(name, "/") {
		return false
	}
	return validName.MatchString(name)
}

// ValidPrefix reports whether names generated under prefix pass ValidateBranchName.
func ValidPrefix(prefix string) bool {
	return ValidateBranchName(prefix, GenerateBranchName(prefix, 1, ""))
}
