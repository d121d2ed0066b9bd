package commit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/swe-action/internal/github"
	ghtesting "github.com/cexll/swe-action/internal/github/testing"
)

func newTestEngine(t *testing.T) (*Engine, *ghtesting.Hub, string) {
	t.Helper()
	hub := ghtesting.NewHub("owner", "repo")
	t.Cleanup(hub.Close)
	dir := t.TempDir()
	gw := github.NewGateway(hub.Client(), "owner", "repo")
	return NewEngine(gw, dir), hub, dir
}

func writeLocal(t *testing.T, dir, rel string, content []byte, perm os.FileMode) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, perm))
}

func TestCommitFiles_SingleFastForwardCommit(t *testing.T) {
	engine, hub, dir := newTestEngine(t)
	base := hub.CommitOnBranch("main", map[string]string{"README.md": "hello"})

	binary := []byte{0xff, 0xfe, 0x00, 0x01}
	writeLocal(t, dir, "src/app.go", []byte("package app\n"), 0o644)
	writeLocal(t, dir, "bin/run.sh", []byte("#!/bin/sh\necho hi\n"), 0o755)
	writeLocal(t, dir, "assets/logo.bin", binary, 0o644)

	res, err := engine.CommitFiles(context.Background(), Request{
		Branch:  "main",
		Paths:   []string{"/src/app.go", "bin/run.sh", "assets/logo.bin"},
		Message: "feat: add app",
	})
	require.NoError(t, err)

	head, _ := hub.BranchSHA("main")
	assert.Equal(t, head, res.SHA)
	assert.Equal(t, base, hub.Parent(res.SHA), "new commit must have the old head as its only parent")
	assert.Equal(t, "feat: add app", res.Message)
	assert.Equal(t, "swe-agent[bot]", res.Author)
	assert.Equal(t, "2025-01-02T03:04:05Z", res.Date)
	assert.NotEmpty(t, res.TreeSHA)
	assert.Equal(t, []string{"src/app.go", "bin/run.sh", "assets/logo.bin"}, res.Paths)

	files := hub.Files("main")
	assert.Equal(t, "hello", files["README.md"], "unlisted paths are inherited")
	assert.Equal(t, "package app\n", files["src/app.go"])
	assert.Equal(t, string(binary), files["assets/logo.bin"])
	assert.Equal(t, "100755", hub.FileMode("main", "bin/run.sh"))
	assert.Equal(t, "100644", hub.FileMode("main", "src/app.go"))
	assert.Equal(t, 1, hub.Calls(ghtesting.RouteCreateBlob), "only non-UTF-8 content goes through a blob")
	assert.Equal(t, 1, hub.Calls(ghtesting.RouteUpdateRef))
}

func TestCommitFiles_RefMovedConcurrently(t *testing.T) {
	engine, hub, dir := newTestEngine(t)
	hub.CommitOnBranch("main", map[string]string{"README.md": "hello"})
	writeLocal(t, dir, "mine.txt", []byte("mine"), 0o644)

	var once sync.Once
	var concurrent string
	hub.BeforeRefUpdate = func(branch string) {
		once.Do(func() {
			concurrent = hub.CommitOnBranch(branch, map[string]string{"theirs.txt": "theirs"})
		})
	}

	_, err := engine.CommitFiles(context.Background(), Request{
		Branch:  "main",
		Paths:   []string{"mine.txt"},
		Message: "mine",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, github.ErrRefConflict), "got %v", err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepUpdateRef, stepErr.Step)

	head, _ := hub.BranchSHA("main")
	assert.Equal(t, concurrent, head, "the concurrent writer's commit must survive")
	files := hub.Files("main")
	assert.Contains(t, files, "theirs.txt")
	assert.NotContains(t, files, "mine.txt")
}

func TestDeleteFiles_RemovesPathsAndToleratesMissing(t *testing.T) {
	engine, hub, _ := newTestEngine(t)
	hub.CommitOnBranch("main", map[string]string{"a.txt": "a", "b.txt": "b"})

	res, err := engine.DeleteFiles(context.Background(), Request{
		Branch:  "main",
		Paths:   []string{"/a.txt", "never-existed.txt"},
		Message: "chore: cleanup",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "never-existed.txt"}, res.Paths)

	files := hub.Files("main")
	assert.NotContains(t, files, "a.txt")
	assert.Equal(t, "b", files["b.txt"])
}

func TestCommitFiles_MissingLocalFileMakesNoRemoteWrites(t *testing.T) {
	engine, hub, dir := newTestEngine(t)
	base := hub.CommitOnBranch("main", map[string]string{"README.md": "hello"})
	writeLocal(t, dir, "present.txt", []byte("here"), 0o644)

	_, err := engine.CommitFiles(context.Background(), Request{
		Branch:  "main",
		Paths:   []string{"present.txt", "absent.txt"},
		Message: "partial",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocalFileMissing))
	assert.Contains(t, err.Error(), "absent.txt")

	assert.Zero(t, hub.Mutations())
	head, _ := hub.BranchSHA("main")
	assert.Equal(t, base, head)
}

func TestCommitFiles_UnknownBranch(t *testing.T) {
	engine, hub, dir := newTestEngine(t)
	writeLocal(t, dir, "x.txt", []byte("x"), 0o644)

	_, err := engine.CommitFiles(context.Background(), Request{
		Branch:  "does-not-exist",
		Paths:   []string{"x.txt"},
		Message: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, github.ErrRefNotFound))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepResolveRef, stepErr.Step)
	assert.Zero(t, hub.Mutations())
}

func TestCommitFiles_RejectsPathsOutsideRepo(t *testing.T) {
	engine, hub, _ := newTestEngine(t)

	_, err := engine.CommitFiles(context.Background(), Request{
		Branch:  "main",
		Paths:   []string{"../etc/passwd"},
		Message: "nope",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
	assert.Zero(t, hub.Mutations())
}

func TestRequestValidation(t *testing.T) {
	engine, hub, _ := newTestEngine(t)

	cases := []struct {
		name string
		req  Request
	}{
		{"no branch", Request{Paths: []string{"a"}, Message: "m"}},
		{"no paths", Request{Branch: "main", Message: "m"}},
		{"no message", Request{Branch: "main", Paths: []string{"a"}}},
		{"root only path", Request{Branch: "main", Paths: []string{"/"}, Message: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CommitFiles(context.Background(), tc.req)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
	assert.Zero(t, hub.Calls(ghtesting.RouteGetRef))
}

func TestNormalizePaths(t *testing.T) {
	assert.Equal(t, "a/b.go", NormalizePath("/a/b.go"))
	assert.Equal(t, "/a", NormalizePath("//a"), "only one leading slash is stripped")
	assert.Equal(t, "a", NormalizePath("a"))

	assert.Equal(t, []string{"x", "y"}, NormalizePaths([]string{"/x", "x", "y", "/y"}))
}
