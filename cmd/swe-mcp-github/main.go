package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cexll/swe-action/internal/config"
	"github.com/cexll/swe-action/internal/github"
	"github.com/cexll/swe-action/internal/github/commit"
	"github.com/cexll/swe-action/internal/toolconfig"
)

const serverVersion = "v1.0.0"

func main() {
	// 1. Load the fixed configuration handed over by swe-prepare
	cfg, err := config.LoadToolServer()
	if err != nil {
		log.Fatalf("%s %v", logPrefix, err)
	}

	log.Printf("%s Starting GitHub file operations server %s", logPrefix, serverVersion)
	log.Printf("%s Repository: %s/%s, branch: %s", logPrefix, cfg.Owner, cfg.Repo, cfg.Branch)

	// 2. Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := github.NewClient(ctx, cfg.Token, cfg.APIURL, cfg.CallTimeout)
	if err != nil {
		log.Fatalf("%s %v", logPrefix, err)
	}
	gateway := github.NewGateway(client, cfg.Owner, cfg.Repo)
	handlers := NewHandlers(commit.NewEngine(gateway, cfg.RepoDir), gateway, cfg.Branch)

	// 3. Start server with stdio transport
	server := newServer(handlers)
	log.Printf("%s Starting on stdio transport...", logPrefix)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatalf("%s Server error: %v", logPrefix, err)
	}
	log.Printf("%s Server stopped", logPrefix)
}

// newServer registers every file-ops tool.
func newServer(h *Handlers) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    toolconfig.ServerName,
		Version: serverVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolCommitFiles,
		Description: "Commit one or more local files to the working branch as a single atomic commit",
	}, h.HandleCommitFiles)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolDeleteFiles,
		Description: "Delete one or more files from the working branch in a single atomic commit",
	}, h.HandleDeleteFiles)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolCreateIssue,
		Description: "Create a new issue",
	}, h.HandleCreateIssue)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolUpdateIssueComment,
		Description: "Replace the body of an existing issue or pull request comment",
	}, h.HandleUpdateIssueComment)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolCreatePullRequest,
		Description: "Open a pull request",
	}, h.HandleCreatePullRequest)
	mcp.AddTool(server, &mcp.Tool{
		Name:        toolconfig.ToolListIssues,
		Description: "List repository issues with optional filters",
	}, h.HandleListIssues)

	for _, name := range toolconfig.FileOpsTools {
		log.Printf("%s Registered tool: %s", logPrefix, name)
	}
	return server
}
