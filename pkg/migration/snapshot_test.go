package migration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRunGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mustRunGit(t, dir, "init", "-q")
	mustRunGit(t, dir, "config", "user.email", "test@example.com")
	mustRunGit(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	mustRunGit(t, dir, "add", "README.md")
	mustRunGit(t, dir, "commit", "-q", "-m", "initial")
}

func TestSnapshot_ArchivesPortableSubtreeAndComputesChecksum(t *testing.T) {
	homeDir := t.TempDir()
	projectsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(homeDir, "toolkit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "toolkit", "tool.md"), []byte("# tool\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(homeDir, "knowledge", "active"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "knowledge", "active", "note.md"), []byte("note\n"), 0o644))

	initGitRepo(t, filepath.Join(projectsDir, "proj-a"))

	dest := filepath.Join(t.TempDir(), "snapshot.tar.gz")
	s := NewSnapshotter(0)
	result, err := s.Snapshot(context.Background(), homeDir, projectsDir, dest)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Checksum)
	assert.Greater(t, result.SizeBytes, int64(0))
	require.Len(t, result.WorkState, 1)
	assert.Equal(t, "proj-a", result.WorkState[0].RelativePath)
	assert.NotEmpty(t, result.WorkState[0].CommitSHA)
	assert.NotEmpty(t, result.WorkState[0].Branch)

	_, statErr := os.Stat(dest)
	assert.NoError(t, statErr)
}

func TestSnapshot_RejectsOversizedSource(t *testing.T) {
	homeDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(homeDir, "toolkit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "toolkit", "big.bin"), make([]byte, 1024), 0o644))

	s := NewSnapshotter(100) // tiny cap
	_, err := s.Snapshot(context.Background(), homeDir, t.TempDir(), filepath.Join(t.TempDir(), "out.tar.gz"))
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeSnapshotPortableSizeExceeded, code)
}

func TestSnapshot_ListsUntrackedFilesInWorkState(t *testing.T) {
	projectsDir := t.TempDir()
	repoDir := filepath.Join(projectsDir, "proj-b")
	initGitRepo(t, repoDir)
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "scratch.tmp"), []byte("wip"), 0o644))

	s := NewSnapshotter(0)
	result, err := s.Snapshot(context.Background(), t.TempDir(), projectsDir, filepath.Join(t.TempDir(), "out.tar.gz"))
	require.NoError(t, err)
	require.Len(t, result.WorkState, 1)
	assert.Contains(t, result.WorkState[0].UntrackedFiles, "scratch.tmp")
}
