package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const repoNotConfigured = "repository not configured. Set [tools] repo_path in hackmate.toml."

// Repo is a local git repository that receives generated code.
type Repo struct {
	Path        string
	AuthorName  string
	AuthorEmail string

	mu sync.Mutex
}

// NewRepo creates a repository handle. The repository is initialized on first use.
func NewRepo(path, authorName, authorEmail string) *Repo {
	if authorName == "" {
		authorName = "hackmate"
	}
	if authorEmail == "" {
		authorEmail = "hackmate@localhost"
	}
	return &Repo{Path: path, AuthorName: authorName, AuthorEmail: authorEmail}
}

func (r *Repo) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(r.Path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	if err := os.MkdirAll(r.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	repo, err = git.PlainInit(r.Path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	return repo, nil
}

// CommitFiles writes files into the worktree and commits them. It returns the
// commit hash.
func (r *Repo) CommitFiles(files []File, message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := r.open()
	if err != nil {
		return "", err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	for _, f := range files {
		if err := checkPath(f.Path); err != nil {
			return "", err
		}
		full := filepath.Join(r.Path, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
		if _, err := worktree.Add(f.Path); err != nil {
			return "", fmt.Errorf("failed to add %s: %w", f.Path, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.AuthorName,
			Email: r.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// CreateBranch creates a branch at HEAD and checks it out.
func (r *Repo) CreateBranch(branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	repo, err := r.open()
	if err != nil {
		return err
	}
	if _, err := repo.Head(); err != nil {
		return fmt.Errorf("repository has no commits yet: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	return worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	})
}

// CommitFilesTool commits the files of a coding stage reply.
// Args: "output" (the reply text) and optional "message".
type CommitFilesTool struct {
	Repo *Repo
}

func (t CommitFilesTool) Name() string { return "commit_files" }

func (t CommitFilesTool) Call(ctx context.Context, args map[string]string) string {
	if t.Repo == nil || t.Repo.Path == "" {
		return repoNotConfigured
	}
	files, err := FilesFromOutput(args["output"])
	if err != nil {
		return "error: " + err.Error()
	}
	msg := args["message"]
	if msg == "" {
		msg = "Add generated project files"
	}
	hash, err := t.Repo.CommitFiles(files, msg)
	if err != nil {
		return "error: " + err.Error()
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return fmt.Sprintf("committed %d files (%s) as %s", len(files), strings.Join(paths, ", "), hash[:7])
}

// CreateBranchTool creates and checks out a branch. Args: "branch".
type CreateBranchTool struct {
	Repo *Repo
}

func (t CreateBranchTool) Name() string { return "create_branch" }

func (t CreateBranchTool) Call(ctx context.Context, args map[string]string) string {
	if t.Repo == nil || t.Repo.Path == "" {
		return repoNotConfigured
	}
	branch := strings.TrimSpace(args["branch"])
	if branch == "" {
		return "error: branch name is required"
	}
	if err := t.Repo.CreateBranch(branch); err != nil {
		return "error: " + err.Error()
	}
	return "created branch " + branch
}
