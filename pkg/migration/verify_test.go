package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySnapshot_AcceptsMatchingChecksum(t *testing.T) {
	homeDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(homeDir, "toolkit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "toolkit", "a.md"), []byte("a"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "snap.tar.gz")
	s := NewSnapshotter(0)
	result, err := s.Snapshot(context.Background(), homeDir, t.TempDir(), archivePath)
	require.NoError(t, err)

	var v Verifier
	vr, err := v.VerifySnapshot(archivePath, result.Checksum)
	require.NoError(t, err)
	assert.True(t, vr.Verified)
	assert.Equal(t, result.Checksum, vr.ComputedChecksum)
}

func TestVerifySnapshot_RejectsChecksumMismatch(t *testing.T) {
	homeDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(homeDir, "toolkit"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(homeDir, "toolkit", "a.md"), []byte("a"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "snap.tar.gz")
	s := NewSnapshotter(0)
	_, err := s.Snapshot(context.Background(), homeDir, t.TempDir(), archivePath)
	require.NoError(t, err)

	var v Verifier
	_, err = v.VerifySnapshot(archivePath, "not-the-real-checksum")
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeVerifyChecksumMismatch, code)
}

func TestVerifySnapshot_RejectsCorruptArchive(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	content := []byte("not a gzip file at all")
	require.NoError(t, os.WriteFile(archivePath, content, 0o644))

	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])

	var v Verifier
	_, err := v.VerifySnapshot(archivePath, checksum)
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeVerifyArchiveCorrupt, code)
}
