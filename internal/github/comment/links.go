package comment

import (
	"fmt"
	"strings"
)

// Links builds web URLs for one repository.
type Links struct {
	ServerURL string
	Owner     string
	Repo      string
	// RunID is the CI run that hosts the agent; empty outside a runner.
	RunID string
}

// NewLinks returns a generator for owner/repo on serverURL
// (https://github.com when empty).
func NewLinks(serverURL, owner, repo, runID string) *Links {
	if serverURL == "" {
		serverURL = "https://github.com"
	}
	return &Links{
		ServerURL: strings.TrimRight(serverURL, "/"),
		Owner:     owner,
		Repo:      repo,
		RunID:     runID,
	}
}

// BranchURL is the tree URL of branch.
func (l *Links) BranchURL(branch string) string {
	return fmt.Sprintf("%s/%s/%s/tree/%s", l.ServerURL, l.Owner, l.Repo, branch)
}

// BranchLink is the Markdown link to branch.
func (l *Links) BranchLink(branch string) string {
	return fmt.Sprintf("[View branch `%s`](%s)", branch, l.BranchURL(branch))
}

// JobRunLink is the Markdown link to the current run, or "" without a run id.
func (l *Links) JobRunLink() string {
	if l == nil || l.RunID == "" {
		return ""
	}
	return fmt.Sprintf("[Job Run](%s/%s/%s/actions/runs/%s)", l.ServerURL, l.Owner, l.Repo, l.RunID)
}
