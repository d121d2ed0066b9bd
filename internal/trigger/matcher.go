// Package trigger decides whether an event asks the agent to run.
package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cexll/swe-action/internal/github"
)

// DefaultPhrase is the command that summons the agent.
const DefaultPhrase = "/code"

// Result of matching one event.
type Result struct {
	Triggered bool
	// Reason names what matched, for logs.
	Reason string
	// Instruction is the text following the phrase, trimmed; empty for
	// assignee and label triggers.
	Instruction string
}

// Matcher inspects a parsed event.
type Matcher interface {
	Match(tc *github.TriggerContext) Result
}

// PhraseMatcher triggers on a phrase in comment, review, title or body text,
// on assignment to a configured login and on a configured label.
type PhraseMatcher struct {
	phrase   string
	assignee string
	label    string
	re       *regexp.Regexp
}

// NewPhraseMatcher builds a matcher. The phrase must stand as its own word:
// "/code" matches "please /code this." but not "/codex".
func NewPhraseMatcher(phrase, assignee, label string) *PhraseMatcher {
	if strings.TrimSpace(phrase) == "" {
		phrase = DefaultPhrase
	}
	return &PhraseMatcher{
		phrase:   phrase,
		assignee: strings.TrimPrefix(strings.TrimSpace(assignee), "@"),
		label:    strings.TrimSpace(label),
		re:       regexp.MustCompile(`(?i)(^|\s)` + regexp.QuoteMeta(phrase) + `([\s.,!?;:]|$)`),
	}
}

// Phrase returns the configured trigger phrase.
func (m *PhraseMatcher) Phrase() string { return m.phrase }

// Match implements Matcher.
func (m *PhraseMatcher) Match(tc *github.TriggerContext) Result {
	if tc == nil {
		return Result{}
	}

	switch tc.EventName {
	case github.EventIssues:
		if m.assignee != "" && tc.EventAction == github.ActionAssigned && strings.EqualFold(tc.Assignee, m.assignee) {
			return Result{Triggered: true, Reason: "assigned to " + m.assignee}
		}
		if m.label != "" && tc.EventAction == github.ActionLabeled && tc.Label == m.label {
			return Result{Triggered: true, Reason: "labeled " + m.label}
		}
		return m.matchTitleBody(tc)

	case github.EventPullRequest, github.EventPullRequestTarget:
		return m.matchTitleBody(tc)

	case github.EventIssueComment, github.EventPullRequestReviewComment, github.EventPullRequestReview:
		return m.matchText(tc.TriggerCommentBody(), string(tc.EventName)+" body")
	}
	return Result{}
}

func (m *PhraseMatcher) matchTitleBody(tc *github.TriggerContext) Result {
	if tc.EventAction != github.ActionOpened && tc.EventAction != github.ActionEdited {
		return Result{}
	}
	if r := m.matchText(tc.Body, tc.EntityKind()+" body"); r.Triggered {
		return r
	}
	return m.matchText(tc.Title, tc.EntityKind()+" title")
}

func (m *PhraseMatcher) matchText(text, where string) Result {
	loc := m.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return Result{}
	}
	// loc[4] starts the trailing boundary group, right after the matched phrase.
	rest := text[loc[4]:]
	return Result{
		Triggered:   true,
		Reason:      fmt.Sprintf("%q in %s", m.phrase, where),
		Instruction: strings.TrimSpace(rest),
	}
}
