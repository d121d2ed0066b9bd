package toolconfig

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BuildMCPConfig describes how the agent launches the file-ops server.
// Owner, repo, branch and token travel as environment, never as tool arguments.
func BuildMCPConfig(p ServerParams) MCPConfig {
	env := map[string]string{
		"GITHUB_TOKEN": p.Token,
		"REPO_OWNER":   p.Owner,
		"REPO_NAME":    p.Repo,
		"BRANCH_NAME":  p.Branch,
		"REPO_DIR":     p.RepoDir,
	}
	if p.APIURL != "" {
		env["GITHUB_API_URL"] = p.APIURL
	}
	if p.CallTimeout != "" {
		env["GITHUB_CALL_TIMEOUT"] = p.CallTimeout
	}
	return MCPConfig{MCPServers: map[string]ServerConfig{
		ServerName: {Command: p.Command, Args: []string{}, Env: env},
	}}
}

// JSON renders the configuration.
func (c MCPConfig) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	return string(b), nil
}

// QualifiedName is the name the agent uses for a file-ops tool.
func QualifiedName(tool string) string {
	return "mcp__" + ServerName + "__" + tool
}

// BuildAllowedTools returns the sorted set of tools the agent may call:
// local editing tools plus every file-ops tool.
func BuildAllowedTools(opts Options) []string {
	base := []string{"Edit", "MultiEdit", "Glob", "Grep", "LS", "Read", "Write"}
	for _, tool := range FileOpsTools {
		base = append(base, QualifiedName(tool))
	}
	base = append(base, opts.CustomAllowedTools...)

	sort.Strings(base)
	return unique(base)
}

// BuildDisallowedTools returns a default-restrictive set and merges any custom
// entries. Defaults that are explicitly allowed are dropped.
func BuildDisallowedTools(opts Options) []string {
	defaults := []string{"WebSearch", "WebFetch"}

	allowedSet := toSet(BuildAllowedTools(opts))
	disallowed := make([]string, 0, len(defaults)+len(opts.CustomDisallowedTools))
	for _, t := range defaults {
		if !allowedSet[t] {
			disallowed = append(disallowed, t)
		}
	}
	disallowed = append(disallowed, opts.CustomDisallowedTools...)

	sort.Strings(disallowed)
	return unique(disallowed)
}

func toSet(list []string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, v := range list {
		m[v] = true
	}
	return m
}

func unique(list []string) []string {
	if len(list) < 2 {
		return list
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
