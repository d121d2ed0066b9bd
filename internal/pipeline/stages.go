package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/branch"
	"github.com/cexll/swe-action/internal/github/comment"
	"github.com/cexll/swe-action/internal/github/data"
	"github.com/cexll/swe-action/internal/github/validation"
	"github.com/cexll/swe-action/internal/toolconfig"
)

// Output names written by the handoff stage.
const (
	OutputMCPConfig       = "mcp_config"
	OutputCommentID       = "comment_id"
	OutputBranchName      = "branch_name"
	OutputBaseBranch      = "base_branch"
	OutputDefaultBranch   = "default_branch"
	OutputAgentBranch     = "agent_branch"
	OutputAllowedTools    = "allowed_tools"
	OutputDisallowedTools = "disallowed_tools"
	OutputInstruction     = "instruction"
	OutputContextFile     = "context_file"
)

// Handoff is what the steps after the pipeline receive.
type Handoff struct {
	MCPConfig       string
	CommentID       int64
	Branch          branch.Info
	AllowedTools    []string
	DisallowedTools []string
	Instruction     string
	// ContextFile is the written snapshot path, if any.
	ContextFile string
}

func (p *Pipeline) acquireCredential(ctx context.Context, st *State) Result {
	repo := st.Event.Repository
	if repo == "" {
		repo = payloadRepository(st.Event.Payload)
	}
	if repo == "" {
		return Fail(fmt.Errorf("%w: repository unknown", github.ErrMalformedEvent))
	}
	if p.deps.Auth == nil {
		return Fail(errors.New("no credential provider configured"))
	}

	tok, err := p.deps.Auth.GetInstallationToken(ctx, repo)
	if err != nil {
		return Fail(fmt.Errorf("acquire token for %s: %w", repo, err))
	}
	if p.deps.Outputs != nil {
		p.deps.Outputs.Mask(tok.Token)
	}

	client, err := p.deps.NewClient(ctx, tok.Token)
	if err != nil {
		return Fail(fmt.Errorf("create API client: %w", err))
	}
	st.Token = tok.Token
	st.Client = client
	return Next()
}

func (p *Pipeline) parseEvent(_ context.Context, st *State) Result {
	tc, err := github.ParseEvent(st.Event.Name, st.Event.Payload)
	if err != nil {
		return Fail(err)
	}
	st.Trigger = tc
	st.Gateway = github.NewGateway(st.Client, tc.Repository.Owner, tc.Repository.Name)
	log.Printf("[Pipeline] %s.%s on %s #%d by %s", tc.EventName, tc.EventAction, tc.Repository.FullName, tc.Number, tc.Actor)
	return Next()
}

func (p *Pipeline) checkPermission(ctx context.Context, st *State) Result {
	if err := validation.EnsureWritePermission(ctx, st.Gateway, st.Trigger.Actor); err != nil {
		return Fail(err)
	}
	return Next()
}

func (p *Pipeline) matchTrigger(_ context.Context, st *State) Result {
	st.Match = p.deps.Matcher.Match(st.Trigger)
	if !st.Match.Triggered {
		return Stop("no trigger in " + string(st.Trigger.EventName) + " event")
	}
	log.Printf("[Pipeline] triggered by %s", st.Match.Reason)
	return Next()
}

func (p *Pipeline) checkHuman(ctx context.Context, st *State) Result {
	if err := validation.EnsureHumanActor(ctx, st.Gateway, st.Trigger.Actor); err != nil {
		return Fail(err)
	}
	return Next()
}

func (p *Pipeline) postComment(ctx context.Context, st *State) Result {
	tc := st.Trigger
	links := comment.NewLinks(p.deps.Config.ServerURL, tc.Repository.Owner, tc.Repository.Name, p.deps.RunID)
	st.Tracker = comment.NewTracker(st.Gateway, links, tc.Number, tc.IsPR)
	if _, err := st.Tracker.CreateInitial(ctx); err != nil {
		return Fail(err)
	}
	return Next()
}

func (p *Pipeline) fetchData(ctx context.Context, st *State) Result {
	tc := st.Trigger
	snap, err := data.NewFetcher(st.Gateway).Fetch(ctx, data.Params{
		Number:      tc.Number,
		IsPR:        tc.IsPR,
		TriggerUser: tc.Actor,
		TriggerTime: tc.TriggerTime,
	})
	if err != nil {
		return Fail(err)
	}
	st.Snapshot = snap
	return Next()
}

func (p *Pipeline) resolveBranch(ctx context.Context, st *State) Result {
	tc := st.Trigger
	head := tc.HeadBranch
	// Comments on pull requests arrive as issue events without head refs.
	if head == "" && st.Snapshot.PullRequest != nil {
		head = st.Snapshot.PullRequest.HeadRef
	}

	resolver := branch.NewResolver(st.Gateway, p.deps.Config.BranchPrefix, p.deps.Config.BaseBranch)
	info, err := resolver.Resolve(ctx, branch.Input{
		Number:        tc.Number,
		IsPR:          tc.IsPR,
		Title:         tc.Title,
		HeadBranch:    head,
		DefaultBranch: st.Snapshot.Repository.DefaultBranch,
	})
	if err != nil {
		return Fail(err)
	}
	st.Branch = info
	return Next()
}

func (p *Pipeline) applyRedirect(ctx context.Context, st *State) Result {
	d, err := st.Tracker.ApplyBranch(ctx, st.Trigger.Repository.Owner, st.Branch.AgentBranch)
	if err != nil {
		return Fail(err)
	}
	st.Decision = d
	if d.LookupErr != nil {
		return Degrade(fmt.Errorf("open pull request lookup: %w", d.LookupErr))
	}
	return Next()
}

func (p *Pipeline) handOff(_ context.Context, st *State) Result {
	cfg := p.deps.Config
	tc := st.Trigger

	params := toolconfig.ServerParams{
		Command: cfg.MCPServerCommand,
		Token:   st.Token,
		Owner:   tc.Repository.Owner,
		Repo:    tc.Repository.Name,
		Branch:  st.Branch.CurrentBranch,
		RepoDir: p.deps.Workspace,
		APIURL:  cfg.APIURL,
	}
	if cfg.CallTimeout > 0 {
		params.CallTimeout = cfg.CallTimeout.String()
	}
	mcpJSON, err := toolconfig.BuildMCPConfig(params).JSON()
	if err != nil {
		return Fail(err)
	}
	opts := toolconfig.Options{CustomAllowedTools: cfg.AllowedTools, CustomDisallowedTools: cfg.DisallowedTools}

	h := &Handoff{
		MCPConfig:       mcpJSON,
		CommentID:       st.Decision.CommentID,
		Branch:          *st.Branch,
		AllowedTools:    toolconfig.BuildAllowedTools(opts),
		DisallowedTools: toolconfig.BuildDisallowedTools(opts),
		Instruction:     st.Match.Instruction,
	}
	if p.deps.ContextOutputPath != "" {
		if err := writeSnapshot(p.deps.ContextOutputPath, st.Snapshot); err != nil {
			return Fail(err)
		}
		h.ContextFile = p.deps.ContextOutputPath
	}
	st.Handoff = h

	if out := p.deps.Outputs; out != nil {
		out.SetOutput(OutputMCPConfig, h.MCPConfig)
		out.SetOutput(OutputCommentID, strconv.FormatInt(h.CommentID, 10))
		out.SetOutput(OutputBranchName, h.Branch.CurrentBranch)
		out.SetOutput(OutputBaseBranch, h.Branch.BaseBranch)
		out.SetOutput(OutputDefaultBranch, h.Branch.DefaultBranch)
		out.SetOutput(OutputAgentBranch, h.Branch.AgentBranch)
		out.SetOutput(OutputAllowedTools, strings.Join(h.AllowedTools, ","))
		out.SetOutput(OutputDisallowedTools, strings.Join(h.DisallowedTools, ","))
		out.SetOutput(OutputInstruction, h.Instruction)
		if h.ContextFile != "" {
			out.SetOutput(OutputContextFile, h.ContextFile)
		}
	}
	log.Printf("[Pipeline] handing off comment %d on branch %s", h.CommentID, h.Branch.CurrentBranch)
	return Next()
}

func writeSnapshot(path string, snap *data.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// payloadRepository reads repository.full_name without full event parsing.
func payloadRepository(payload []byte) string {
	var ev struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ""
	}
	return ev.Repository.FullName
}
