package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/swe-action/internal/config"
	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/branch"
	"github.com/cexll/swe-action/internal/github/comment"
	"github.com/cexll/swe-action/internal/github/data"
	ghtesting "github.com/cexll/swe-action/internal/github/testing"
	"github.com/cexll/swe-action/internal/github/validation"
	"github.com/cexll/swe-action/internal/toolconfig"
)

type recordingOutputs struct {
	values map[string]string
	masked []string
}

func (r *recordingOutputs) SetOutput(name, value string) {
	if r.values == nil {
		r.values = map[string]string{}
	}
	r.values[name] = value
}

func (r *recordingOutputs) Mask(value string) { r.masked = append(r.masked, value) }

type fixture struct {
	hub      *ghtesting.Hub
	outputs  *recordingOutputs
	pipeline *Pipeline
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	hub := ghtesting.NewHub("owner", "repo")
	t.Cleanup(hub.Close)
	out := &recordingOutputs{}

	deps := Deps{
		Auth: github.StaticToken("ghs_pipeline_token"),
		NewClient: func(context.Context, string) (*gh.Client, error) {
			return hub.Client(), nil
		},
		Outputs: out,
		Config: config.Pipeline{
			ServerURL:        "https://github.com",
			TriggerPhrase:    "/code",
			BranchPrefix:     "swe/",
			MCPServerCommand: "swe-mcp-github",
		},
		RunID:     "777",
		Workspace: "/work/repo",
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{hub: hub, outputs: out, pipeline: New(deps)}
}

func issueCommentEvent(t *testing.T, number int, isPR bool, sender, body string) Event {
	t.Helper()
	issue := map[string]any{"number": number, "title": "Fix login bug"}
	if isPR {
		issue["pull_request"] = map[string]any{"url": "https://api.github.com/repos/owner/repo/pulls/" + strconv.Itoa(number)}
	}
	payload := map[string]any{
		"action": "created",
		"repository": map[string]any{
			"name":      "repo",
			"full_name": "owner/repo",
			"owner":     map[string]any{"login": "owner"},
		},
		"sender": map[string]any{"login": sender},
		"issue":  issue,
		"comment": map[string]any{
			"id":         555,
			"body":       body,
			"user":       map[string]any{"login": sender},
			"created_at": "2024-06-01T12:00:00Z",
		},
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return Event{Name: "issue_comment", Payload: b}
}

func TestRun_NoTriggerHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "Fix login bug"})
	f.hub.SetPermission("alice", "write")

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "looks good to me"))
	require.NoError(t, err)
	assert.False(t, report.Triggered)
	assert.NotEmpty(t, report.SkipReason)
	assert.Zero(t, report.CommentID)

	assert.Zero(t, f.hub.Mutations(), "no comment, no branch")
	assert.Empty(t, f.hub.Comments(n))
	assert.Empty(t, f.outputs.values)
}

func TestRun_IssueLinksNewBranch(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "Fix login bug", Body: "it breaks", User: "alice"})
	f.hub.SetPermission("alice", "write")
	tip, _ := f.hub.BranchSHA("main")

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "/code please fix"))
	require.NoError(t, err)
	require.True(t, report.Triggered)

	want := branch.GenerateBranchName("swe/", n, "Fix login bug")
	assert.Equal(t, want, report.Branch.AgentBranch)
	assert.Equal(t, want, report.Branch.CurrentBranch)
	sha, ok := f.hub.BranchSHA(want)
	require.True(t, ok)
	assert.Equal(t, tip, sha)

	comments := f.hub.Comments(n)
	require.Len(t, comments, 1, "no second comment")
	assert.Equal(t, comments[0].ID, report.CommentID)
	assert.Contains(t, comments[0].Body, "https://github.com/owner/repo/tree/"+want)
	assert.Equal(t, comment.StateLinked, report.Decision.State)
	assert.Empty(t, report.Degraded)

	assert.Equal(t, strconv.FormatInt(comments[0].ID, 10), f.outputs.values[OutputCommentID])
	assert.Equal(t, want, f.outputs.values[OutputBranchName])
	assert.Equal(t, want, f.outputs.values[OutputAgentBranch])
	assert.Equal(t, "main", f.outputs.values[OutputDefaultBranch])
	assert.Equal(t, "please fix", f.outputs.values[OutputInstruction])
	assert.Contains(t, f.outputs.values[OutputAllowedTools], toolconfig.QualifiedName(toolconfig.ToolCommitFiles))
	assert.Contains(t, f.outputs.masked, "ghs_pipeline_token")

	var mcp toolconfig.MCPConfig
	require.NoError(t, json.Unmarshal([]byte(f.outputs.values[OutputMCPConfig]), &mcp))
	server := mcp.MCPServers[toolconfig.ServerName]
	assert.Equal(t, "swe-mcp-github", server.Command)
	assert.Equal(t, "ghs_pipeline_token", server.Env["GITHUB_TOKEN"])
	assert.Equal(t, "owner", server.Env["REPO_OWNER"])
	assert.Equal(t, "repo", server.Env["REPO_NAME"])
	assert.Equal(t, want, server.Env["BRANCH_NAME"])
	assert.Equal(t, "/work/repo", server.Env["REPO_DIR"])
}

func TestRun_IssueRedirectsToOpenPullRequest(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "Fix login bug"})
	f.hub.SetPermission("alice", "admin")

	name := branch.GenerateBranchName("swe/", n, "Fix login bug")
	tip, _ := f.hub.BranchSHA("main")
	f.hub.SetRef(name, tip)
	pr := f.hub.AddPull(ghtesting.Pull{Title: "fix", Head: name, Base: "main"})

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "/code"))
	require.NoError(t, err)

	original := f.hub.Comments(n)
	require.Len(t, original, 1)
	assert.NotEqual(t, original[0].ID, report.CommentID, "authoritative comment moved")
	assert.NotContains(t, original[0].Body, "/tree/", "original left unmodified")
	assert.Zero(t, f.hub.Calls(ghtesting.RouteEditComment))

	assert.Equal(t, comment.StateRedirected, report.Decision.State)
	assert.Equal(t, pr, report.Decision.Target)
	moved := f.hub.Comments(pr)
	require.Len(t, moved, 1)
	assert.Equal(t, moved[0].ID, report.CommentID)
	assert.Equal(t, strconv.FormatInt(report.CommentID, 10), f.outputs.values[OutputCommentID])
}

func TestRun_PullRequestUsesHeadBranch(t *testing.T) {
	f := newFixture(t)
	f.hub.CommitOnBranch("feature/login", map[string]string{"login.go": "package login"})
	n := f.hub.AddPull(ghtesting.Pull{Title: "Login", Head: "feature/login", Base: "main", Files: []string{"login.go"}})
	f.hub.SetPermission("alice", "write")

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, true, "alice", "/code add tests"))
	require.NoError(t, err)

	assert.Equal(t, "feature/login", report.Branch.CurrentBranch)
	assert.Empty(t, report.Branch.AgentBranch)
	assert.Equal(t, comment.StatePosted, report.Decision.State)
	assert.Zero(t, f.hub.Calls(ghtesting.RouteCreateRef))
	assert.Zero(t, f.hub.Calls(ghtesting.RouteEditComment))
	assert.Len(t, f.hub.Comments(n), 1)
	assert.Equal(t, "feature/login", f.outputs.values[OutputBranchName])
	assert.Empty(t, f.outputs.values[OutputAgentBranch])
}

func TestRun_PermissionDeniedIsFatal(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "x"})

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "mallory", "/code"))
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StagePermission, stageErr.Stage)
	assert.True(t, errors.Is(err, validation.ErrPermissionDenied))
	assert.Zero(t, report.CommentID)
	assert.Zero(t, f.hub.Mutations())
}

func TestRun_PermissionLookupFailsClosed(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "x"})
	f.hub.FailRoute(ghtesting.RoutePermission, http.StatusInternalServerError, "boom")

	_, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "no phrase here"))
	require.Error(t, err, "a failed check is not a quiet skip")
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StagePermission, stageErr.Stage)
}

func TestRun_BotActorIsFatal(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "x"})
	f.hub.SetPermission("automation", "write")
	f.hub.SetUserType("automation", "Bot")

	_, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "automation", "/code"))
	require.Error(t, err)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageHuman, stageErr.Stage)
	assert.True(t, errors.Is(err, validation.ErrNotHuman))
	assert.Empty(t, f.hub.Comments(n))
}

func TestRun_LookupFailureDegrades(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "Fix login bug"})
	f.hub.SetPermission("alice", "write")
	f.hub.FailRoute(ghtesting.RouteListPulls, http.StatusBadGateway, "upstream")

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "/code"))
	require.NoError(t, err)
	assert.Equal(t, []string{StageRedirect}, report.Degraded)
	assert.Equal(t, comment.StateLinked, report.Decision.State)
	require.Error(t, report.Decision.LookupErr)
	assert.Len(t, f.hub.Comments(n), 1)
}

func TestRun_CommentFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	n := f.hub.AddIssue(ghtesting.Issue{Title: "x"})
	f.hub.SetPermission("alice", "write")
	f.hub.FailRoute(ghtesting.RouteCreateComment, http.StatusForbidden, "forbidden")

	_, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "/code"))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageComment, stageErr.Stage)
	assert.Equal(t, http.StatusForbidden, github.StatusCode(err))
	assert.Zero(t, f.hub.Calls(ghtesting.RouteCreateRef), "later stages never ran")
}

func TestRun_MalformedEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), Event{Name: "issues", Payload: []byte(`{}`), Repository: "owner/repo"})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageParse, stageErr.Stage)
	assert.True(t, errors.Is(err, github.ErrMalformedEvent))

	_, err = f.pipeline.Run(context.Background(), Event{Name: "issues", Payload: []byte(`{}`)})
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageCredential, stageErr.Stage, "repository is needed for the credential")
}

func TestRun_CredentialFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Auth = github.StaticToken("") })

	_, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, 1, false, "alice", "/code"))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageCredential, stageErr.Stage)
	assert.Zero(t, f.hub.Calls(ghtesting.RoutePermission))
}

func TestRun_WritesContextSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx", "snapshot.json")
	f := newFixture(t, func(d *Deps) { d.ContextOutputPath = path })
	n := f.hub.AddIssue(ghtesting.Issue{Title: "Fix login bug", Body: "details<!-- hidden -->"})
	f.hub.SetPermission("alice", "write")

	report, err := f.pipeline.Run(context.Background(), issueCommentEvent(t, n, false, "alice", "/code"))
	require.NoError(t, err)
	assert.Equal(t, path, report.Handoff.ContextFile)
	assert.Equal(t, path, f.outputs.values[OutputContextFile])

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap data.Snapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.Equal(t, n, snap.Number)
	assert.Equal(t, "alice", snap.TriggerUser)
	require.NotNil(t, snap.Issue)
	assert.Equal(t, "details", snap.Issue.Body)
	for _, c := range snap.Comments {
		assert.False(t, strings.Contains(c.Body, "working on this"), "tracking comment postdates the trigger")
	}
}

func TestStages_Order(t *testing.T) {
	var names []string
	for _, s := range New(Deps{}).Stages() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StageCredential, StageParse, StagePermission, StageTrigger, StageHuman,
		StageComment, StageFetch, StageBranch, StageRedirect, StageHandoff,
	}, names)
}

func TestRun_DegradedStageContinues(t *testing.T) {
	p := &Pipeline{}
	var ran []string
	p.stages = []Stage{
		{Name: "a", Run: func(context.Context, *State) Result { ran = append(ran, "a"); return Degrade(errors.New("soft")) }},
		{Name: "b", Run: func(context.Context, *State) Result { ran = append(ran, "b"); return Next() }},
		{Name: "c", Run: func(context.Context, *State) Result { ran = append(ran, "c"); return Fail(nil) }},
		{Name: "d", Run: func(context.Context, *State) Result { ran = append(ran, "d"); return Next() }},
	}

	report, err := p.Run(context.Background(), Event{})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "c", stageErr.Stage)
	assert.Equal(t, []string{"a", "b", "c"}, ran)
	assert.Equal(t, []string{"a"}, report.Degraded)
}

func TestNewAuth(t *testing.T) {
	auth := NewAuth(config.Credentials{Token: "t", GitHubAppID: "1", GitHubPrivateKey: "k"}, "", 0)
	assert.Equal(t, github.StaticToken("t"), auth)

	auth = NewAuth(config.Credentials{GitHubAppID: "1", GitHubPrivateKey: "k"}, "https://ghe/api/v3", time.Second)
	app, ok := auth.(*github.AppAuth)
	require.True(t, ok)
	assert.Equal(t, "1", app.AppID)
	assert.Equal(t, "https://ghe/api/v3", app.APIURL)
	assert.Equal(t, time.Second, app.Timeout)
}
