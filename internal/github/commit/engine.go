// Package commit applies a batch of file writes or deletions to a branch as
// one commit through the Git Data API, advancing the branch fast-forward only.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/sync/errgroup"
)

// GitData is the subset of the remote gateway the engine drives.
type GitData interface {
	GetBranchSHA(ctx context.Context, branch string) (string, error)
	GetCommitTree(ctx context.Context, sha string) (string, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []*gh.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, treeSHA, parentSHA string) (*gh.Commit, error)
	UpdateBranch(ctx context.Context, branch, sha string) error
}

const (
	modeFile       = "100644"
	modeExecutable = "100755"

	defaultReaders = 8
)

// Request is one logical change set against a branch.
type Request struct {
	Branch  string
	Paths   []string
	Message string
}

// Result is the projection of the created commit returned to callers.
type Result struct {
	SHA     string
	Message string
	Author  string
	Date    string
	TreeSHA string
	Paths   []string
}

// Engine builds commits from local files (writes) or bare paths (deletions).
type Engine struct {
	git     GitData
	repoDir string
	readers int
}

// NewEngine returns an engine reading local files relative to repoDir.
func NewEngine(git GitData, repoDir string) *Engine {
	return &Engine{git: git, repoDir: repoDir, readers: defaultReaders}
}

// CommitFiles commits the current local content of req.Paths to req.Branch.
func (e *Engine) CommitFiles(ctx context.Context, req Request) (*Result, error) {
	return e.apply(ctx, req, e.writeEntries)
}

// DeleteFiles commits the removal of req.Paths from req.Branch. Paths that
// are absent from the base tree are submitted anyway.
func (e *Engine) DeleteFiles(ctx context.Context, req Request) (*Result, error) {
	return e.apply(ctx, req, deleteEntries)
}

type entryBuilder func(ctx context.Context, paths []string) ([]*gh.TreeEntry, error)

func (e *Engine) apply(ctx context.Context, req Request, build entryBuilder) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	paths := NormalizePaths(req.Paths)

	baseSHA, err := e.git.GetBranchSHA(ctx, req.Branch)
	if err != nil {
		return nil, &StepError{Step: StepResolveRef, Err: err}
	}

	baseTree, err := e.git.GetCommitTree(ctx, baseSHA)
	if err != nil {
		return nil, &StepError{Step: StepResolveCommit, Err: err}
	}

	entries, err := build(ctx, paths)
	if err != nil {
		return nil, err
	}

	treeSHA, err := e.git.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return nil, &StepError{Step: StepCreateTree, Err: err}
	}

	created, err := e.git.CreateCommit(ctx, req.Message, treeSHA, baseSHA)
	if err != nil {
		return nil, &StepError{Step: StepCreateCommit, Err: err}
	}

	// Past this point a failed update leaves an unreferenced commit on the
	// host; nothing observes it.
	if err := e.git.UpdateBranch(ctx, req.Branch, created.GetSHA()); err != nil {
		return nil, &StepError{Step: StepUpdateRef, Err: err}
	}

	log.Printf("[Commit] %s advanced %s -> %s (%d path(s))", req.Branch, short(baseSHA), short(created.GetSHA()), len(paths))

	res := &Result{
		SHA:     created.GetSHA(),
		Message: created.GetMessage(),
		Author:  created.GetAuthor().GetName(),
		TreeSHA: treeSHA,
		Paths:   paths,
	}
	if res.Message == "" {
		res.Message = req.Message
	}
	if date := created.GetAuthor().GetDate(); !date.Time.IsZero() {
		res.Date = date.Time.UTC().Format(time.RFC3339)
	}
	return res, nil
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Branch) == "":
		return fmt.Errorf("%w: branch is required", ErrInvalidRequest)
	case len(r.Paths) == 0:
		return fmt.Errorf("%w: at least one path is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("%w: commit message is required", ErrInvalidRequest)
	}
	for _, p := range r.Paths {
		if NormalizePath(p) == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidRequest)
		}
	}
	return nil
}

// NormalizePath strips exactly one leading "/" so the path is relative to
// the repository root.
func NormalizePath(p string) string {
	return strings.TrimPrefix(p, "/")
}

// NormalizePaths normalizes every path and drops repeats, keeping first-seen order.
func NormalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		n := NormalizePath(p)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func deleteEntries(_ context.Context, paths []string) ([]*gh.TreeEntry, error) {
	entries := make([]*gh.TreeEntry, 0, len(paths))
	for _, p := range paths {
		// nil SHA and nil Content is sent as "sha": null, which deletes the path
		entries = append(entries, &gh.TreeEntry{
			Path: gh.String(p),
			Mode: gh.String(modeFile),
			Type: gh.String("blob"),
		})
	}
	return entries, nil
}

type localFile struct {
	path    string
	mode    string
	content []byte
}

func (e *Engine) writeEntries(ctx context.Context, paths []string) ([]*gh.TreeEntry, error) {
	files, err := e.readFiles(ctx, paths)
	if err != nil {
		return nil, &StepError{Step: StepReadFiles, Err: err}
	}

	entries := make([]*gh.TreeEntry, 0, len(files))
	for _, f := range files {
		entry := &gh.TreeEntry{
			Path: gh.String(f.path),
			Mode: gh.String(f.mode),
			Type: gh.String("blob"),
		}
		if utf8.Valid(f.content) {
			entry.Content = gh.String(string(f.content))
		} else {
			sha, err := e.git.CreateBlob(ctx, f.content)
			if err != nil {
				return nil, &StepError{Step: StepCreateBlob, Err: fmt.Errorf("%s: %w", f.path, err)}
			}
			entry.SHA = gh.String(sha)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// readFiles reads every path concurrently; the first failure cancels the rest.
func (e *Engine) readFiles(ctx context.Context, paths []string) ([]localFile, error) {
	files := make([]localFile, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.readers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := e.readFile(p)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (e *Engine) readFile(p string) (localFile, error) {
	if !filepath.IsLocal(filepath.FromSlash(p)) {
		return localFile{}, fmt.Errorf("path %q escapes the repository directory", p)
	}
	full := filepath.Join(e.repoDir, filepath.FromSlash(p))

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return localFile{}, fmt.Errorf("%w: %s", ErrLocalFileMissing, p)
		}
		return localFile{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return localFile{}, fmt.Errorf("%s is a directory", p)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return localFile{}, fmt.Errorf("read %s: %w", p, err)
	}

	mode := modeFile
	if info.Mode()&0o111 != 0 {
		mode = modeExecutable
	}
	return localFile{path: p, mode: mode, content: content}, nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
