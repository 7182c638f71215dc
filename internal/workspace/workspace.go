// Package workspace prepares the directory a pairing session works in and
// stores its run artifact.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mpataki/tandem/internal/jsonfile"
	"github.com/mpataki/tandem/internal/models"
)

const ArtifactFile = "run.json"

// Workspace is one run's directory. Path holds the artifact and event log;
// RepoPath is where the workers read and edit code. An isolated workspace
// has its own detached git worktree under Path, otherwise RepoPath is the
// source directory itself.
type Workspace struct {
	Path     string
	RepoPath string
	Isolated bool
}

func runDir(baseDir string, runID int64) string {
	return filepath.Join(baseDir, fmt.Sprintf("run-%d", runID))
}

func Prepare(baseDir string, runID int64, sourceRepo string, isolate bool) (*Workspace, error) {
	if sourceRepo == "" {
		sourceRepo = "."
	}
	absRepo, err := filepath.Abs(sourceRepo)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo path: %w", err)
	}
	if info, err := os.Stat(absRepo); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", absRepo)
	}

	path := runDir(baseDir, runID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	w := &Workspace{Path: path, RepoPath: absRepo}
	if !isolate {
		return w, nil
	}

	w.RepoPath = filepath.Join(path, "repo")
	w.Isolated = true
	if err := createWorktree(absRepo, w.RepoPath); err != nil {
		os.RemoveAll(path)
		return nil, err
	}
	return w, nil
}

func createWorktree(sourceRepo, dest string) error {
	if _, err := git(sourceRepo, "rev-parse", "--git-dir"); err != nil {
		return fmt.Errorf("%s is not a git repository", sourceRepo)
	}

	sha, err := git(sourceRepo, "rev-parse", "HEAD")
	if err != nil {
		return fmt.Errorf("failed to get HEAD: %w", err)
	}

	if _, err := git(sourceRepo, "worktree", "add", "--detach", dest, sha); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}
	return nil
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Open returns the workspace of an existing run.
func Open(baseDir string, runID int64) (*Workspace, error) {
	path := runDir(baseDir, runID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %d does not exist", runID)
	}

	w := &Workspace{Path: path}
	repo := filepath.Join(path, "repo")
	if _, err := os.Stat(repo); err == nil {
		w.RepoPath = repo
		w.Isolated = true
	}
	return w, nil
}

func (w *Workspace) ArtifactPath() string {
	return filepath.Join(w.Path, ArtifactFile)
}

// Remove deletes the run directory. For an isolated workspace the worktree is
// unregistered from its source repository first; the source of an in-place
// workspace is never touched.
func (w *Workspace) Remove() error {
	if w.Isolated {
		if err := w.removeWorktree(); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

func (w *Workspace) removeWorktree() error {
	if _, err := os.Stat(w.RepoPath); os.IsNotExist(err) {
		return nil
	}
	source, err := findSourceRepo(w.RepoPath)
	if err != nil {
		return err
	}
	if _, err := git(source, "worktree", "remove", "--force", w.RepoPath); err != nil {
		return fmt.Errorf("failed to remove worktree: %w", err)
	}
	return nil
}

// findSourceRepo resolves the main checkout a linked worktree belongs to.
func findSourceRepo(worktree string) (string, error) {
	common, err := git(worktree, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("failed to find source repository: %w", err)
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(worktree, common)
	}
	return filepath.Dir(filepath.Clean(common)), nil
}

// WriteArtifact stores the full run result as run.json in dir.
func WriteArtifact(dir string, result *models.PairRunResult) (string, error) {
	path := filepath.Join(dir, ArtifactFile)
	if err := jsonfile.WriteAtomic(path, result); err != nil {
		return "", fmt.Errorf("failed to write run artifact: %w", err)
	}
	return path, nil
}

func ReadArtifact(path string) (*models.PairRunResult, error) {
	result, err := jsonfile.Read[models.PairRunResult](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run artifact: %w", err)
	}
	return result, nil
}
