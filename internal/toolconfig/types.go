package toolconfig

// ServerName is the key of the file-ops server in the MCP configuration;
// it also forms the mcp__<server>__<tool> names the agent sees.
const ServerName = "github_file_ops"

// Tool names served by swe-mcp-github.
const (
	ToolCommitFiles        = "commit_files"
	ToolDeleteFiles        = "delete_files"
	ToolCreateIssue        = "create_issue"
	ToolUpdateIssueComment = "update_issue_comment"
	ToolCreatePullRequest  = "create_pull_request"
	ToolListIssues         = "list_issues"
)

// FileOpsTools lists every tool of the file-ops server.
var FileOpsTools = []string{
	ToolCommitFiles,
	ToolDeleteFiles,
	ToolCreateIssue,
	ToolUpdateIssueComment,
	ToolCreatePullRequest,
	ToolListIssues,
}

// Options controls how allowed/disallowed tool lists are built.
type Options struct {
	// Additional tools to allow (verbatim names)
	CustomAllowedTools []string

	// Additional tools to disallow (verbatim names)
	CustomDisallowedTools []string
}

// ServerParams is the fixed environment of one tool-server launch.
type ServerParams struct {
	Command     string
	Token       string
	Owner       string
	Repo        string
	Branch      string
	RepoDir     string
	APIURL      string
	CallTimeout string
}

// ServerConfig is one entry of the MCP configuration file.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// MCPConfig is the document handed to the agent CLI (--mcp-config).
type MCPConfig struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}
