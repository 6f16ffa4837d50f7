// Package vcs is the version-control collaborator: it reports the
// current revision for system prompts and commits tool-driven file
// changes at the end of a statement.
package vcs

import (
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository means the project is not under version control;
// callers treat this as "skip VCS integration", not a failure.
var ErrNotRepository = errors.New("not a git repository")

// Repo wraps a project's git repository.
type Repo struct {
	path string
	repo *git.Repository
}

// Open opens the repository at the project root. Returns
// ErrNotRepository when the root is not under git.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// Head returns the current revision identifier, appended last to
// project-aware system prompts.
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Commit stages the given project-relative paths and commits them with
// the given message. Returns the new commit hash.
func (r *Repo) Commit(paths []string, message string) (string, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get worktree: %w", err)
	}

	for _, p := range paths {
		if _, err := worktree.Add(p); err != nil {
			return "", fmt.Errorf("stage %s: %w", p, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "codeloom",
			Email: "codeloom@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}
