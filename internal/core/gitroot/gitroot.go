// Package gitroot resolves a working directory's primary git worktree
// root, distinguishing it from linked worktrees and submodules.
//
// Mementor needs this to turn a transcript's recorded cwd into the stable
// project_root a normalized file path is relative to: two worktrees of the
// same repository should resolve file mentions to the same root so
// memories ingested from either are comparable.
package gitroot

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePrimaryRoot walks up from cwd looking for .git. A directory
// entry means cwd's ancestor is the primary worktree root. A file entry
// with a commondir chain means a linked worktree — resolved to the
// primary root. A file entry without commondir means a submodule — it's
// skipped and the walk continues upward. Returns "" if no .git is found
// before the filesystem root.
func ResolvePrimaryRoot(cwd string) string {
	current := cwd

	for {
		gitEntry := filepath.Join(current, ".git")

		info, err := os.Stat(gitEntry)
		if err == nil && info.IsDir() {
			return current
		}
		if err == nil && !info.IsDir() {
			if root, ok := tryResolveLinkedWorktree(current, gitEntry); ok {
				return root
			}
			// .git is a file without a commondir chain: a submodule.
			// Skip it and keep walking toward the parent project.
		}

		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// IsPrimaryWorktree reports whether path is the root of a primary (not
// linked) git worktree.
func IsPrimaryWorktree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

func tryResolveLinkedWorktree(dir, gitFile string) (string, bool) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return "", false
	}
	gitdirRef, ok := strings.CutPrefix(string(content), "gitdir: ")
	if !ok {
		return "", false
	}
	gitdirRef = strings.TrimSpace(gitdirRef)

	gitdir := gitdirRef
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(dir, gitdirRef)
	}

	commondirFile := filepath.Join(gitdir, "commondir")
	if info, err := os.Stat(commondirFile); err != nil || info.IsDir() {
		return "", false
	}

	commondirContent, err := os.ReadFile(commondirFile)
	if err != nil {
		return "", false
	}
	commondirRef := strings.TrimSpace(string(commondirContent))

	commonGitDir := commondirRef
	if !filepath.IsAbs(commonGitDir) {
		commonGitDir = filepath.Join(gitdir, commondirRef)
	}

	commonGitDir, err = filepath.EvalSymlinks(commonGitDir)
	if err != nil {
		return "", false
	}

	return filepath.Dir(commonGitDir), true
}
