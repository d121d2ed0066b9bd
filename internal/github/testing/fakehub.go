// Package testing provides an in-memory GitHub host for tests. It serves the
// REST routes go-github calls (git data, issues, pulls, collaborators, users
// and app installations) over httptest and keeps enough state for tests to
// assert on branches, trees and comments afterwards.
package testing

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/gorilla/mux"
)

// Route names, usable with FailRoute and Calls.
const (
	RouteGetRepo          = "get-repo"
	RouteGetRef           = "get-ref"
	RouteCreateRef        = "create-ref"
	RouteUpdateRef        = "update-ref"
	RouteGetCommit        = "get-commit"
	RouteCreateCommit     = "create-commit"
	RouteCreateTree       = "create-tree"
	RouteCreateBlob       = "create-blob"
	RoutePermission       = "permission"
	RouteGetUser          = "get-user"
	RouteCreateComment    = "create-comment"
	RouteListComments     = "list-comments"
	RouteGetComment       = "get-comment"
	RouteEditComment      = "edit-comment"
	RouteListPulls        = "list-pulls"
	RouteCreatePull       = "create-pull"
	RouteGetPull          = "get-pull"
	RouteListPullFiles    = "list-pull-files"
	RouteListIssues       = "list-issues"
	RouteCreateIssue      = "create-issue"
	RouteGetIssue         = "get-issue"
	RouteFindInstallation = "find-installation"
	RouteInstallToken     = "installation-token"
)

// AuthorDate is stamped on every commit the hub creates.
var AuthorDate = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type file struct {
	mode    string
	content []byte
}

type commit struct {
	sha     string
	tree    string
	parent  string
	message string
}

// Comment is an issue comment as stored by the hub.
type Comment struct {
	ID        int64
	Issue     int
	User      string
	Body      string
	CreatedAt time.Time
}

// Issue is an issue as stored by the hub.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	User      string
	Labels    []string
	Assignees []string
}

// Pull is a pull request as stored by the hub.
type Pull struct {
	Number int
	Title  string
	Body   string
	State  string
	Draft  bool
	User   string
	Head   string
	Base   string
	Files  []string
}

type failure struct {
	status  int
	message string
}

// Hub is a fake GitHub host for a single repository.
type Hub struct {
	Owner         string
	Repo          string
	DefaultBranch string

	// BeforeRefUpdate runs before a ref update is applied, outside the hub
	// lock, so it may move the branch to simulate a concurrent writer.
	BeforeRefUpdate func(branch string)

	mu          sync.Mutex
	seq         int
	refs        map[string]string
	commits     map[string]*commit
	trees       map[string]map[string]file
	blobs       map[string][]byte
	comments    map[int64]*Comment
	issues      map[int]*Issue
	pulls       map[int]*Pull
	permissions map[string]string
	userTypes   map[string]string
	failures    map[string]failure
	calls       map[string]int
	auth        map[string]string
	mutations   int

	server *httptest.Server
}

// NewHub starts a hub for owner/repo with a default branch "main" holding one
// commit with an empty tree.
func NewHub(owner, repo string) *Hub {
	h := &Hub{
		Owner:         owner,
		Repo:          repo,
		DefaultBranch: "main",
		refs:          map[string]string{},
		commits:       map[string]*commit{},
		trees:         map[string]map[string]file{},
		blobs:         map[string][]byte{},
		comments:      map[int64]*Comment{},
		issues:        map[int]*Issue{},
		pulls:         map[int]*Pull{},
		permissions:   map[string]string{},
		userTypes:     map[string]string{},
		failures:      map[string]failure{},
		calls:         map[string]int{},
		auth:          map[string]string{},
	}
	h.refs["main"] = h.newCommitLocked("", map[string]file{}, "initial commit")
	h.server = httptest.NewServer(h.router())
	return h
}

// URL is the base URL of the hub, with a trailing slash.
func (h *Hub) URL() string { return h.server.URL + "/" }

// Client returns a go-github client pointed at the hub.
func (h *Hub) Client() *gh.Client {
	c := gh.NewClient(nil)
	u, _ := url.Parse(h.URL())
	c.BaseURL = u
	c.UploadURL = u
	return c
}

// Close stops the server.
func (h *Hub) Close() { h.server.Close() }

// --- seeding ---

// CommitOnBranch writes files on top of the branch head (creating the branch
// from the default branch when missing) and moves the branch to the new commit.
func (h *Hub) CommitOnBranch(branch string, files map[string]string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	parent, ok := h.refs[branch]
	if !ok {
		parent = h.refs[h.DefaultBranch]
	}
	tree := copyTree(h.trees[h.commits[parent].tree])
	for p, content := range files {
		tree[p] = file{mode: "100644", content: []byte(content)}
	}
	sha := h.newCommitLocked(parent, tree, "seed "+branch)
	h.refs[branch] = sha
	return sha
}

// SetRef points branch at sha directly.
func (h *Hub) SetRef(branch, sha string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs[branch] = sha
}

// SetPermission sets the collaborator permission of user.
func (h *Hub) SetPermission(user, level string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.permissions[user] = level
}

// SetUserType sets the account type of login ("User", "Bot").
func (h *Hub) SetUserType(login, typ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userTypes[login] = typ
}

// AddIssue stores an issue and returns its number.
func (h *Hub) AddIssue(issue Issue) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if issue.Number == 0 {
		issue.Number = h.nextNumberLocked()
	}
	if issue.State == "" {
		issue.State = "open"
	}
	h.issues[issue.Number] = &issue
	return issue.Number
}

// AddPull stores a pull request and returns its number.
func (h *Hub) AddPull(pr Pull) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if pr.Number == 0 {
		pr.Number = h.nextNumberLocked()
	}
	if pr.State == "" {
		pr.State = "open"
	}
	h.pulls[pr.Number] = &pr
	return pr.Number
}

// AddComment stores a comment on issue and returns its id.
func (h *Hub) AddComment(issue int, user, body string, createdAt time.Time) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addCommentLocked(issue, user, body, createdAt)
}

// FailRoute makes every request to route answer with status and message.
func (h *Hub) FailRoute(route string, status int, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[route] = failure{status: status, message: message}
}

// --- inspection ---

// BranchSHA returns the commit a branch points at.
func (h *Hub) BranchSHA(branch string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sha, ok := h.refs[branch]
	return sha, ok
}

// Files returns path -> content of the tree at the branch head.
func (h *Hub) Files(branch string) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]string{}
	c, ok := h.commits[h.refs[branch]]
	if !ok {
		return out
	}
	for p, f := range h.trees[c.tree] {
		out[p] = string(f.content)
	}
	return out
}

// FileMode returns the mode of path at the branch head.
func (h *Hub) FileMode(branch, path string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.commits[h.refs[branch]]
	if !ok {
		return ""
	}
	return h.trees[c.tree][path].mode
}

// Parent returns the parent of a commit.
func (h *Hub) Parent(sha string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.commits[sha]; ok {
		return c.parent
	}
	return ""
}

// CommentByID returns a stored comment.
func (h *Hub) CommentByID(id int64) (Comment, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.comments[id]
	if !ok {
		return Comment{}, false
	}
	return *c, true
}

// Comments returns the comments on issue ordered by id.
func (h *Hub) Comments(issue int) []Comment {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commentsLocked(issue)
}

// IssueByNumber returns a stored issue.
func (h *Hub) IssueByNumber(n int) (Issue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.issues[n]
	if !ok {
		return Issue{}, false
	}
	return *i, true
}

// PullByNumber returns a stored pull request.
func (h *Hub) PullByNumber(n int) (Pull, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pulls[n]
	if !ok {
		return Pull{}, false
	}
	return *p, true
}

// Calls returns how many requests reached route.
func (h *Hub) Calls(route string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[route]
}

// Mutations returns how many non-GET requests the hub served.
func (h *Hub) Mutations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mutations
}

// Authorization returns the last Authorization header seen on route.
func (h *Hub) Authorization(route string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.auth[route]
}

// --- routing ---

func (h *Hub) router() http.Handler {
	r := mux.NewRouter()
	r.Use(h.record)

	r.HandleFunc("/users/{login}", h.getUser).Methods(http.MethodGet).Name(RouteGetUser)
	r.HandleFunc("/app/installations/{id:[0-9]+}/access_tokens", h.installationToken).Methods(http.MethodPost).Name(RouteInstallToken)

	repo := r.PathPrefix("/repos/{owner}/{repo}").Subrouter()
	repo.HandleFunc("", h.getRepo).Methods(http.MethodGet).Name(RouteGetRepo)
	repo.HandleFunc("/installation", h.findInstallation).Methods(http.MethodGet).Name(RouteFindInstallation)

	repo.HandleFunc("/git/ref/heads/{branch:.+}", h.getRef).Methods(http.MethodGet).Name(RouteGetRef)
	repo.HandleFunc("/git/refs", h.createRef).Methods(http.MethodPost).Name(RouteCreateRef)
	repo.HandleFunc("/git/refs/heads/{branch:.+}", h.updateRef).Methods(http.MethodPatch).Name(RouteUpdateRef)
	repo.HandleFunc("/git/commits/{sha}", h.getCommit).Methods(http.MethodGet).Name(RouteGetCommit)
	repo.HandleFunc("/git/commits", h.createCommit).Methods(http.MethodPost).Name(RouteCreateCommit)
	repo.HandleFunc("/git/trees", h.createTree).Methods(http.MethodPost).Name(RouteCreateTree)
	repo.HandleFunc("/git/blobs", h.createBlob).Methods(http.MethodPost).Name(RouteCreateBlob)

	repo.HandleFunc("/collaborators/{user}/permission", h.permission).Methods(http.MethodGet).Name(RoutePermission)

	repo.HandleFunc("/issues/comments/{id:[0-9]+}", h.getComment).Methods(http.MethodGet).Name(RouteGetComment)
	repo.HandleFunc("/issues/comments/{id:[0-9]+}", h.editComment).Methods(http.MethodPatch).Name(RouteEditComment)
	repo.HandleFunc("/issues/{number:[0-9]+}/comments", h.createComment).Methods(http.MethodPost).Name(RouteCreateComment)
	repo.HandleFunc("/issues/{number:[0-9]+}/comments", h.listComments).Methods(http.MethodGet).Name(RouteListComments)
	repo.HandleFunc("/issues/{number:[0-9]+}", h.getIssue).Methods(http.MethodGet).Name(RouteGetIssue)
	repo.HandleFunc("/issues", h.listIssues).Methods(http.MethodGet).Name(RouteListIssues)
	repo.HandleFunc("/issues", h.createIssue).Methods(http.MethodPost).Name(RouteCreateIssue)

	repo.HandleFunc("/pulls/{number:[0-9]+}/files", h.listPullFiles).Methods(http.MethodGet).Name(RouteListPullFiles)
	repo.HandleFunc("/pulls/{number:[0-9]+}", h.getPull).Methods(http.MethodGet).Name(RouteGetPull)
	repo.HandleFunc("/pulls", h.listPulls).Methods(http.MethodGet).Name(RouteListPulls)
	repo.HandleFunc("/pulls", h.createPull).Methods(http.MethodPost).Name(RouteCreatePull)

	return r
}

func (h *Hub) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}

		h.mu.Lock()
		h.calls[name]++
		h.auth[name] = r.Header.Get("Authorization")
		if r.Method != http.MethodGet {
			h.mutations++
		}
		fail, failing := h.failures[name]
		h.mu.Unlock()

		if vars := mux.Vars(r); vars["owner"] != "" && (vars["owner"] != h.Owner || vars["repo"] != h.Repo) {
			writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		if failing {
			writeError(w, fail.status, fail.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- repository / identity ---

func (h *Hub) getRepo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           h.Repo,
		"full_name":      h.Owner + "/" + h.Repo,
		"owner":          map[string]any{"login": h.Owner},
		"default_branch": h.DefaultBranch,
	})
}

func (h *Hub) permission(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	h.mu.Lock()
	level, ok := h.permissions[user]
	h.mu.Unlock()
	if !ok {
		level = "read"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permission": level,
		"user":       map[string]any{"login": user},
	})
}

func (h *Hub) getUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	h.mu.Lock()
	typ, ok := h.userTypes[login]
	h.mu.Unlock()
	if !ok {
		typ = "User"
		if strings.HasSuffix(login, "[bot]") {
			typ = "Bot"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": login, "type": typ})
}

func (h *Hub) findInstallation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"id": 42})
}

func (h *Hub) installationToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      "ghs_installation",
		"expires_at": AuthorDate.Add(time.Hour).Format(time.RFC3339),
	})
}

// --- git data ---

func (h *Hub) getRef(w http.ResponseWriter, r *http.Request) {
	branch := mux.Vars(r)["branch"]
	h.mu.Lock()
	sha, ok := h.refs[branch]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, refJSON(branch, sha))
}

func (h *Hub) createRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if !decode(w, r, &body) {
		return
	}
	branch := strings.TrimPrefix(body.Ref, "refs/heads/")

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.refs[branch]; exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	if _, ok := h.commits[body.SHA]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	h.refs[branch] = body.SHA
	writeJSON(w, http.StatusCreated, refJSON(branch, body.SHA))
}

func (h *Hub) updateRef(w http.ResponseWriter, r *http.Request) {
	branch := mux.Vars(r)["branch"]
	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if !decode(w, r, &body) {
		return
	}

	if hook := h.BeforeRefUpdate; hook != nil {
		hook(branch)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.refs[branch]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}
	if _, ok := h.commits[body.SHA]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if !body.Force && !h.descendsLocked(body.SHA, current) {
		writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
		return
	}
	h.refs[branch] = body.SHA
	writeJSON(w, http.StatusOK, refJSON(branch, body.SHA))
}

func (h *Hub) getCommit(w http.ResponseWriter, r *http.Request) {
	sha := mux.Vars(r)["sha"]
	h.mu.Lock()
	c, ok := h.commits[sha]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, commitJSON(c))
}

func (h *Hub) createCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if !decode(w, r, &body) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	tree, ok := h.trees[body.Tree]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	parent := ""
	if len(body.Parents) > 0 {
		parent = body.Parents[0]
		if _, ok := h.commits[parent]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "Parent SHA does not exist or is not a commit object")
			return
		}
	}
	sha := h.newCommitLocked(parent, tree, body.Message)
	writeJSON(w, http.StatusCreated, commitJSON(h.commits[sha]))
}

func (h *Hub) createTree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTree string           `json:"base_tree"`
		Tree     []map[string]any `json:"tree"`
	}
	if !decode(w, r, &body) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	tree := map[string]file{}
	if body.BaseTree != "" {
		base, ok := h.trees[body.BaseTree]
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "base_tree is not a valid tree oid")
			return
		}
		tree = copyTree(base)
	}

	for _, entry := range body.Tree {
		path, _ := entry["path"].(string)
		mode, _ := entry["mode"].(string)
		if path == "" || strings.HasPrefix(path, "/") {
			writeError(w, http.StatusUnprocessableEntity, "tree.path contains a malformed path component")
			return
		}
		shaValue, hasSHA := entry["sha"]
		content, hasContent := entry["content"].(string)
		switch {
		case hasContent:
			tree[path] = file{mode: mode, content: []byte(content)}
		case hasSHA && shaValue == nil:
			delete(tree, path)
		case hasSHA:
			blob, ok := h.blobs[fmt.Sprint(shaValue)]
			if !ok {
				writeError(w, http.StatusUnprocessableEntity, "tree.sha is not a valid blob")
				return
			}
			tree[path] = file{mode: mode, content: blob}
		default:
			writeError(w, http.StatusUnprocessableEntity, "tree entry needs sha or content")
			return
		}
	}

	sha := h.storeTreeLocked(tree)
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (h *Hub) createBlob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if !decode(w, r, &body) {
		return
	}
	data := []byte(body.Content)
	if body.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid base64 content")
			return
		}
		data = decoded
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	sha := h.hashLocked("blob")
	h.blobs[sha] = data
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

// --- issues and comments ---

func (h *Hub) createComment(w http.ResponseWriter, r *http.Request) {
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	var body struct {
		Body string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.existsLocked(number) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	id := h.addCommentLocked(number, "swe-agent[bot]", body.Body, AuthorDate.Add(time.Duration(h.seq)*time.Second))
	writeJSON(w, http.StatusCreated, commentJSON(h.comments[id]))
}

func (h *Hub) listComments(w http.ResponseWriter, r *http.Request) {
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	h.mu.Lock()
	comments := h.commentsLocked(number)
	h.mu.Unlock()

	out := make([]map[string]any, 0, len(comments))
	for i := range comments {
		out = append(out, commentJSON(&comments[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) getComment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	h.mu.Lock()
	c, ok := h.comments[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, commentJSON(c))
}

func (h *Hub) editComment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	var body struct {
		Body string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.comments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	c.Body = body.Body
	writeJSON(w, http.StatusOK, commentJSON(c))
}

func (h *Hub) getIssue(w http.ResponseWriter, r *http.Request) {
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	h.mu.Lock()
	defer h.mu.Unlock()
	if issue, ok := h.issues[number]; ok {
		writeJSON(w, http.StatusOK, h.issueJSON(issue))
		return
	}
	if pr, ok := h.pulls[number]; ok {
		out := h.issueJSON(&Issue{Number: pr.Number, Title: pr.Title, Body: pr.Body, State: pr.State, User: pr.User})
		out["pull_request"] = map[string]any{"url": h.htmlURL("pull", pr.Number)}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (h *Hub) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		state = "open"
	}
	var labels []string
	if raw := q.Get("labels"); raw != "" {
		labels = strings.Split(raw, ",")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	numbers := make([]int, 0, len(h.issues))
	for n := range h.issues {
		numbers = append(numbers, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))

	out := []map[string]any{}
	for _, n := range numbers {
		issue := h.issues[n]
		if state != "all" && issue.State != state {
			continue
		}
		if !hasAll(issue.Labels, labels) {
			continue
		}
		out = append(out, h.issueJSON(issue))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) createIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title     string   `json:"title"`
		Body      string   `json:"body"`
		Labels    []string `json:"labels"`
		Assignees []string `json:"assignees"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	issue := &Issue{
		Number:    h.nextNumberLocked(),
		Title:     body.Title,
		Body:      body.Body,
		State:     "open",
		User:      "swe-agent[bot]",
		Labels:    body.Labels,
		Assignees: body.Assignees,
	}
	h.issues[issue.Number] = issue
	writeJSON(w, http.StatusCreated, h.issueJSON(issue))
}

// --- pull requests ---

func (h *Hub) listPulls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		state = "open"
	}
	head := q.Get("head")

	h.mu.Lock()
	defer h.mu.Unlock()
	numbers := make([]int, 0, len(h.pulls))
	for n := range h.pulls {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := []map[string]any{}
	for _, n := range numbers {
		pr := h.pulls[n]
		if state != "all" && pr.State != state {
			continue
		}
		if head != "" && head != h.Owner+":"+pr.Head {
			continue
		}
		out = append(out, h.pullJSON(pr))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) getPull(w http.ResponseWriter, r *http.Request) {
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	h.mu.Lock()
	defer h.mu.Unlock()
	pr, ok := h.pulls[number]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, h.pullJSON(pr))
}

func (h *Hub) listPullFiles(w http.ResponseWriter, r *http.Request) {
	number, _ := strconv.Atoi(mux.Vars(r)["number"])
	h.mu.Lock()
	defer h.mu.Unlock()
	pr, ok := h.pulls[number]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	out := make([]map[string]any, 0, len(pr.Files))
	for _, f := range pr.Files {
		out = append(out, map[string]any{"filename": f, "status": "modified"})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) createPull(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
		Draft bool   `json:"draft"`
	}
	if !decode(w, r, &body) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	head := body.Head
	if i := strings.Index(head, ":"); i >= 0 {
		head = head[i+1:]
	}
	if _, ok := h.refs[head]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed: head does not exist")
		return
	}
	if _, ok := h.refs[body.Base]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Validation Failed: base does not exist")
		return
	}
	for _, pr := range h.pulls {
		if pr.State == "open" && pr.Head == head && pr.Base == body.Base {
			writeError(w, http.StatusUnprocessableEntity, "A pull request already exists for "+h.Owner+":"+head)
			return
		}
	}
	pr := &Pull{
		Number: h.nextNumberLocked(),
		Title:  body.Title,
		Body:   body.Body,
		State:  "open",
		Draft:  body.Draft,
		User:   "swe-agent[bot]",
		Head:   head,
		Base:   body.Base,
	}
	h.pulls[pr.Number] = pr
	writeJSON(w, http.StatusCreated, h.pullJSON(pr))
}

// --- state helpers (caller holds h.mu) ---

func (h *Hub) hashLocked(kind string) string {
	h.seq++
	sum := sha1.Sum([]byte(kind + ":" + strconv.Itoa(h.seq)))
	return hex.EncodeToString(sum[:])
}

func (h *Hub) nextNumberLocked() int {
	n := 1
	for {
		_, issue := h.issues[n]
		_, pull := h.pulls[n]
		if !issue && !pull {
			return n
		}
		n++
	}
}

func (h *Hub) existsLocked(number int) bool {
	_, issue := h.issues[number]
	_, pull := h.pulls[number]
	return issue || pull
}

func (h *Hub) storeTreeLocked(tree map[string]file) string {
	sha := h.hashLocked("tree")
	h.trees[sha] = tree
	return sha
}

func (h *Hub) newCommitLocked(parent string, tree map[string]file, message string) string {
	treeSHA := h.storeTreeLocked(copyTree(tree))
	sha := h.hashLocked("commit")
	h.commits[sha] = &commit{sha: sha, tree: treeSHA, parent: parent, message: message}
	return sha
}

func (h *Hub) descendsLocked(sha, ancestor string) bool {
	for sha != "" {
		if sha == ancestor {
			return true
		}
		c, ok := h.commits[sha]
		if !ok {
			return false
		}
		sha = c.parent
	}
	return false
}

func (h *Hub) addCommentLocked(issue int, user, body string, createdAt time.Time) int64 {
	h.seq++
	id := int64(1000 + h.seq)
	h.comments[id] = &Comment{ID: id, Issue: issue, User: user, Body: body, CreatedAt: createdAt}
	return id
}

func (h *Hub) commentsLocked(issue int) []Comment {
	var out []Comment
	for _, c := range h.comments {
		if c.Issue == issue {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) htmlURL(kind string, number int) string {
	return fmt.Sprintf("https://github.com/%s/%s/%s/%d", h.Owner, h.Repo, kind, number)
}

func (h *Hub) issueJSON(issue *Issue) map[string]any {
	labels := make([]map[string]any, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, map[string]any{"name": l})
	}
	assignees := make([]map[string]any, 0, len(issue.Assignees))
	for _, a := range issue.Assignees {
		assignees = append(assignees, map[string]any{"login": a})
	}
	return map[string]any{
		"number":    issue.Number,
		"title":     issue.Title,
		"body":      issue.Body,
		"state":     issue.State,
		"user":      map[string]any{"login": issue.User},
		"labels":    labels,
		"assignees": assignees,
		"html_url":  h.htmlURL("issues", issue.Number),
	}
}

func (h *Hub) pullJSON(pr *Pull) map[string]any {
	return map[string]any{
		"number":   pr.Number,
		"title":    pr.Title,
		"body":     pr.Body,
		"state":    pr.State,
		"draft":    pr.Draft,
		"user":     map[string]any{"login": pr.User},
		"html_url": h.htmlURL("pull", pr.Number),
		"head":     map[string]any{"ref": pr.Head, "sha": h.refs[pr.Head]},
		"base":     map[string]any{"ref": pr.Base, "sha": h.refs[pr.Base]},
	}
}

// --- encoding helpers ---

func refJSON(branch, sha string) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]any{"sha": sha, "type": "commit"},
	}
}

func commitJSON(c *commit) map[string]any {
	parents := []map[string]any{}
	if c.parent != "" {
		parents = append(parents, map[string]any{"sha": c.parent})
	}
	return map[string]any{
		"sha":     c.sha,
		"message": c.message,
		"tree":    map[string]any{"sha": c.tree},
		"parents": parents,
		"author": map[string]any{
			"name":  "swe-agent[bot]",
			"email": "swe-agent[bot]@users.noreply.github.com",
			"date":  AuthorDate.Format(time.RFC3339),
		},
	}
}

func commentJSON(c *Comment) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"body":       c.Body,
		"user":       map[string]any{"login": c.User},
		"created_at": c.CreatedAt.Format(time.RFC3339),
	}
}

func copyTree(in map[string]file) map[string]file {
	out := make(map[string]file, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message})
}
