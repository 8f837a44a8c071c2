package migration

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// MaxPortableSizeBytes is the default cap enforced before an archive is
// even attempted (spec.md §4.4.1, overridable via config).
const MaxPortableSizeBytes = 4 << 30 // 4 GiB

// portableSubdirs are the directories that make up an agent's portable
// state (spec.md §4.4.1).
var portableSubdirs = []string{
	filepath.Join("toolkit"),
	filepath.Join("playbooks"),
	filepath.Join("knowledge", "active"),
	filepath.Join("knowledge", "archive"),
}

// Snapshotter packages an agent's home directory into a checksummed
// archive plus a git work-state manifest (spec.md §4.4.1). Grounded on
// SnapdragonPartners-maestro's pkg/workspace/tempclone.go for the
// os/exec git idiom.
type Snapshotter struct {
	MaxSizeBytes int64
}

// NewSnapshotter returns a Snapshotter with the spec default cap unless
// overridden.
func NewSnapshotter(maxSizeBytes int64) *Snapshotter {
	if maxSizeBytes <= 0 {
		maxSizeBytes = MaxPortableSizeBytes
	}
	return &Snapshotter{MaxSizeBytes: maxSizeBytes}
}

// Snapshot archives homeDir's `agent` subtree (the portable subdirs) to
// destArchivePath and records the git work state of each repository
// directly under projectsDir; the repositories themselves are not archived.
func (s *Snapshotter) Snapshot(ctx context.Context, homeDir, projectsDir, destArchivePath string) (SnapshotResult, error) {
	size, err := s.sumSourceSize(homeDir)
	if err != nil {
		return SnapshotResult{}, newError(CodeSnapshotArchiveFailed, err.Error())
	}
	if size > s.MaxSizeBytes {
		return SnapshotResult{}, newError(CodeSnapshotPortableSizeExceeded, fmt.Sprintf("source size %d exceeds max %d", size, s.MaxSizeBytes))
	}

	checksum, err := s.writeArchive(homeDir, destArchivePath)
	if err != nil {
		return SnapshotResult{}, newError(CodeSnapshotArchiveFailed, err.Error())
	}

	workState, err := s.captureWorkState(ctx, projectsDir)
	if err != nil {
		return SnapshotResult{}, newError(CodeSnapshotArchiveFailed, err.Error())
	}

	info, err := os.Stat(destArchivePath)
	if err != nil {
		return SnapshotResult{}, newError(CodeSnapshotChecksumFailed, err.Error())
	}

	return SnapshotResult{
		ArchivePath: destArchivePath,
		Checksum:    checksum,
		SizeBytes:   info.Size(),
		WorkState:   workState,
	}, nil
}

// sumSourceSize walks the portable subdirs, skipping symlinks so loops
// never get traversed (spec.md §4.4.1).
func (s *Snapshotter) sumSourceSize(homeDir string) (int64, error) {
	var total int64
	for _, sub := range portableSubdirs {
		dir := filepath.Join(homeDir, sub)
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.Mode()&os.ModeSymlink != 0 {
				return nil
			}
			if !info.IsDir() {
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// writeArchive tars+gzips homeDir's portable subdirs into destPath,
// computing a streaming SHA-256 checksum of the compressed bytes as
// they are written.
func (s *Snapshotter) writeArchive(homeDir, destPath string) (string, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hasher := sha256.New()
	mw := io.MultiWriter(out, hasher)

	gz := gzip.NewWriter(mw)
	tw := tar.NewWriter(gz)

	for _, sub := range portableSubdirs {
		dir := filepath.Join(homeDir, sub)
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			continue
		}
		if err := addDirToTar(tw, homeDir, dir); err != nil {
			tw.Close()
			gz.Close()
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func addDirToTar(tw *tar.Writer, root, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// captureWorkState records, for each directory under projectsDir that
// contains a git repo, its remote/branch/commit/uncommitted-patch/
// untracked-files state (spec.md §4.4.1). Untracked files are listed
// but never transferred.
func (s *Snapshotter) captureWorkState(ctx context.Context, projectsDir string) ([]WorkStateEntry, error) {
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []WorkStateEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(projectsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			continue
		}

		remote := gitOutput(ctx, dir, "config", "--get", "remote.origin.url")
		branch := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
		commit := gitOutput(ctx, dir, "rev-parse", "HEAD")
		patch := gitOutput(ctx, dir, "diff", "HEAD")
		untracked := strings.Fields(gitOutput(ctx, dir, "ls-files", "--others", "--exclude-standard"))

		rel, _ := filepath.Rel(projectsDir, dir)
		out = append(out, WorkStateEntry{
			RelativePath:     rel,
			RemoteURL:        remote,
			Branch:           branch,
			CommitSHA:        commit,
			UncommittedPatch: patch,
			UntrackedFiles:   untracked,
		})
	}
	return out, nil
}

func gitOutput(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
