// Package gitrepo exposes the parts of a git repository the changelog engine
// and reporter need, backed by go-git.
package gitrepo

import (
	"container/heap"
	"errors"
	"fmt"
	"iter"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/onexay/catapult/internal/types"
)

const shortIDLength = 7

// Repo wraps a go-git repository.
type Repo struct {
	repo *git.Repository
	root string
}

// Open finds the repository containing path, searching parent directories.
func Open(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repository from %s: %w", abs, err)
	}

	root := abs
	if wt, err := r.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return New(r, root), nil
}

// New wraps an already opened repository. root is the working tree directory.
func New(r *git.Repository, root string) *Repo {
	return &Repo{repo: r, root: root}
}

// Root returns the working tree directory.
func (r *Repo) Root() string {
	return r.root
}

// ResolveRef resolves a revision (branch, tag, hash prefix, HEAD~2, ...) to a
// full commit id. An empty ref resolves HEAD.
func (r *Repo) ResolveRef(ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return "", err
	}
	if _, err := r.repo.CommitObject(*hash); err != nil {
		return "", fmt.Errorf("%s is not a commit: %w", ref, err)
	}
	return hash.String(), nil
}

// Walk yields the commits reachable from start in topological order: no
// commit is yielded before all of its reachable children. Ties go to the
// most recent committer time. An empty start walks from HEAD.
//
// The whole history reachable from start is loaded before the first commit
// is yielded, so every walk costs the size of that history however early
// the caller stops.
func (r *Repo) Walk(start string) iter.Seq2[types.Commit, error] {
	return func(yield func(types.Commit, error) bool) {
		if start == "" {
			head, err := r.ResolveRef("")
			if err != nil {
				yield(types.Commit{}, fmt.Errorf("resolve HEAD: %w", err))
				return
			}
			start = head
		}
		tip, err := r.repo.CommitObject(plumbing.NewHash(start))
		if err != nil {
			yield(types.Commit{}, fmt.Errorf("load commit %s: %w", start, err))
			return
		}

		commits, children, err := r.reachable(tip)
		if err != nil {
			yield(types.Commit{}, err)
			return
		}

		ready := &commitQueue{tip}
		for ready.Len() > 0 {
			c := heap.Pop(ready).(*object.Commit)
			if !yield(toCommit(c), nil) {
				return
			}
			for _, p := range c.ParentHashes {
				parent, ok := commits[p]
				if !ok {
					continue
				}
				children[p]--
				if children[p] == 0 {
					heap.Push(ready, parent)
				}
			}
		}
	}
}

// reachable loads every commit reachable from tip and counts, for each, how
// many reachable commits name it as a parent.
func (r *Repo) reachable(tip *object.Commit) (map[plumbing.Hash]*object.Commit, map[plumbing.Hash]int, error) {
	commits := map[plumbing.Hash]*object.Commit{tip.Hash: tip}
	children := map[plumbing.Hash]int{}
	stack := []*object.Commit{tip}

	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, p := range c.ParentHashes {
			children[p]++
			if _, seen := commits[p]; seen {
				continue
			}
			parent, err := r.repo.CommitObject(p)
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				// shallow clone boundary
				continue
			}
			if err != nil {
				return nil, nil, fmt.Errorf("load commit %s: %w", p, err)
			}
			commits[p] = parent
			stack = append(stack, parent)
		}
	}
	return commits, children, nil
}

// Diff returns the paths that differ between the trees of from and to. An
// empty from compares against the empty tree.
func (r *Repo) Diff(from, to string) ([]string, error) {
	toTree, err := r.tree(to)
	if err != nil {
		return nil, err
	}
	var fromTree *object.Tree
	if from != "" {
		if fromTree, err = r.tree(from); err != nil {
			return nil, err
		}
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", from, to, err)
	}

	seen := make(map[string]struct{}, len(changes))
	var paths []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			paths = append(paths, name)
		}
	}
	return paths, nil
}

// IsAncestor reports whether ancestor is reachable from commit. A commit is
// its own ancestor.
func (r *Repo) IsAncestor(ancestor, commit string) (bool, error) {
	a, err := r.repo.CommitObject(plumbing.NewHash(ancestor))
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", ancestor, err)
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", commit, err)
	}
	if a.Hash == c.Hash {
		return true, nil
	}
	return a.IsAncestor(c)
}

// UserEmail returns the configured user.email, falling back to the author of
// HEAD. It returns an empty string when neither is available.
func (r *Repo) UserEmail() string {
	if cfg, err := r.repo.Config(); err == nil && cfg.User.Email != "" {
		return cfg.User.Email
	}
	if cfg, err := r.repo.ConfigScoped(config.GlobalScope); err == nil && cfg.User.Email != "" {
		return cfg.User.Email
	}
	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	c, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return ""
	}
	return c.Author.Email
}

func (r *Repo) tree(id string) (*object.Tree, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", id, err)
	}
	return c.Tree()
}

func toCommit(c *object.Commit) types.Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	id := c.Hash.String()
	return types.Commit{
		ID:      id,
		ShortID: id[:shortIDLength],
		Author:  types.Signature{Name: c.Author.Name, Email: c.Author.Email},
		Time:    c.Committer.When,
		Message: c.Message,
		Parents: parents,
	}
}

// commitQueue is a max-heap on committer time.
type commitQueue []*object.Commit

func (q commitQueue) Len() int { return len(q) }
func (q commitQueue) Less(i, j int) bool {
	return q[i].Committer.When.After(q[j].Committer.When)
}
func (q commitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *commitQueue) Push(x any)   { *q = append(*q, x.(*object.Commit)) }
func (q *commitQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}
