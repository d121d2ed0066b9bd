package github

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePayload() map[string]any {
	return map[string]any{
		"repository": map[string]any{
			"name":      "swe-action",
			"full_name": "cexll/swe-action",
			"owner":     map[string]any{"login": "cexll"},
		},
		"sender": map[string]any{"login": "octocat"},
	}
}

func mustJSON(t *testing.T, m map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestParseEvent_IssueCommentOnPullRequest(t *testing.T) {
	p := basePayload()
	p["action"] = "created"
	p["issue"] = map[string]any{
		"number":       11,
		"title":        "Add login",
		"pull_request": map[string]any{"url": "https://api.github.com/repos/cexll/swe-action/pulls/11"},
	}
	p["comment"] = map[string]any{
		"id":         101,
		"body":       "/code do it",
		"user":       map[string]any{"login": "octocat"},
		"created_at": "2024-01-01T00:00:00Z",
	}

	tc, err := ParseEvent("issue_comment", mustJSON(t, p))
	require.NoError(t, err)

	assert.Equal(t, EventIssueComment, tc.EventName)
	assert.Equal(t, ActionCreated, tc.EventAction)
	assert.True(t, tc.IsPR)
	assert.Equal(t, 11, tc.Number)
	assert.Equal(t, "cexll/swe-action", tc.Repository.FullName)
	assert.Equal(t, "octocat", tc.Actor)
	require.NotNil(t, tc.TriggerComment)
	assert.Equal(t, int64(101), tc.TriggerComment.ID)
	assert.Equal(t, "/code do it", tc.TriggerCommentBody())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tc.TriggerTime.UTC())
	assert.Equal(t, "pull request", tc.EntityKind())
}

func TestParseEvent_IssueCommentOnIssue(t *testing.T) {
	p := basePayload()
	p["action"] = "created"
	p["issue"] = map[string]any{"number": 7, "title": "Bug", "body": "broken"}
	p["comment"] = map[string]any{"id": 1, "body": "/code", "user": map[string]any{"login": "octocat"}}

	tc, err := ParseEvent("issue_comment", mustJSON(t, p))
	require.NoError(t, err)
	assert.False(t, tc.IsPR)
	assert.Equal(t, "Bug", tc.Title)
	assert.Equal(t, "broken", tc.Body)
	assert.Equal(t, "issue", tc.EntityKind())
}

func TestParseEvent_IssuesAssigned(t *testing.T) {
	p := basePayload()
	p["action"] = "assigned"
	p["issue"] = map[string]any{"number": 3, "title": "t", "updated_at": "2024-02-03T04:05:06Z"}
	p["assignee"] = map[string]any{"login": "swe-bot"}

	tc, err := ParseEvent("issues", mustJSON(t, p))
	require.NoError(t, err)
	assert.Equal(t, ActionAssigned, tc.EventAction)
	assert.Equal(t, "swe-bot", tc.Assignee)
	assert.Nil(t, tc.TriggerComment)
	assert.Empty(t, tc.TriggerCommentBody())
	assert.False(t, tc.TriggerTime.IsZero())
}

func TestParseEvent_PullRequestTarget(t *testing.T) {
	p := basePayload()
	p["action"] = "labeled"
	p["pull_request"] = map[string]any{
		"number": 5,
		"title":  "feat",
		"head":   map[string]any{"ref": "feature/x"},
		"base":   map[string]any{"ref": "main"},
	}
	p["label"] = map[string]any{"name": "swe"}

	tc, err := ParseEvent("pull_request_target", mustJSON(t, p))
	require.NoError(t, err)
	assert.Equal(t, EventPullRequestTarget, tc.EventName)
	assert.True(t, tc.IsPR)
	assert.Equal(t, "feature/x", tc.HeadBranch)
	assert.Equal(t, "main", tc.BaseBranch)
	assert.Equal(t, "swe", tc.Label)
}

func TestParseEvent_Reviews(t *testing.T) {
	pr := map[string]any{
		"number": 8,
		"head":   map[string]any{"ref": "fix"},
		"base":   map[string]any{"ref": "main"},
	}

	review := basePayload()
	review["action"] = "submitted"
	review["pull_request"] = pr
	review["review"] = map[string]any{
		"id":           77,
		"body":         "/code tidy up",
		"user":         map[string]any{"login": "octocat"},
		"submitted_at": "2024-03-01T10:00:00Z",
	}
	tc, err := ParseEvent("pull_request_review", mustJSON(t, review))
	require.NoError(t, err)
	assert.Equal(t, "/code tidy up", tc.TriggerCommentBody())
	assert.Equal(t, "fix", tc.HeadBranch)
	assert.False(t, tc.TriggerTime.IsZero())

	comment := basePayload()
	comment["action"] = "created"
	comment["pull_request"] = pr
	comment["comment"] = map[string]any{"id": 78, "body": "/code here", "user": map[string]any{"login": "octocat"}}
	tc, err = ParseEvent("pull_request_review_comment", mustJSON(t, comment))
	require.NoError(t, err)
	assert.Equal(t, int64(78), tc.TriggerComment.ID)
	assert.True(t, tc.IsPR)
}

func TestParseEvent_Malformed(t *testing.T) {
	noNumber := basePayload()
	noNumber["action"] = "opened"
	noNumber["issue"] = map[string]any{"title": "x"}

	noOwner := map[string]any{
		"action":     "opened",
		"issue":      map[string]any{"number": 1},
		"repository": map[string]any{"name": "r"},
		"sender":     map[string]any{"login": "u"},
	}

	noSender := basePayload()
	delete(noSender, "sender")
	noSender["action"] = "opened"
	noSender["issue"] = map[string]any{"number": 1}

	tests := []struct {
		name    string
		event   string
		payload []byte
	}{
		{"unsupported event", "push", []byte(`{}`)},
		{"invalid json", "issues", []byte(`{not json`)},
		{"missing number", "issues", mustJSON(t, noNumber)},
		{"missing owner", "issues", mustJSON(t, noOwner)},
		{"missing sender", "issues", mustJSON(t, noSender)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.event, tt.payload)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent), "got %v", err)
		})
	}
}
