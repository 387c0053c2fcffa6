// Package gitrepotest builds in-memory git histories for tests.
package gitrepotest

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/onexay/catapult/internal/gitrepo"
)

// Builder appends commits to an in-memory repository. Every commit is one
// minute after the previous one so ordering is deterministic.
type Builder struct {
	repo *git.Repository
	wt   *git.Worktree
	when time.Time
}

// New initializes an empty in-memory repository.
func New(t testing.TB) *Builder {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	return &Builder{
		repo: repo,
		wt:   wt,
		when: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// Repo returns the repository wrapped for the code under test.
func (b *Builder) Repo() *gitrepo.Repo {
	return gitrepo.New(b.repo, "/")
}

// SetUserEmail writes user.email into the repository config.
func (b *Builder) SetUserEmail(t testing.TB, email string) {
	t.Helper()

	cfg, err := b.repo.Config()
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg.User.Email = email
	if err := b.repo.SetConfig(cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// Commit writes files (path -> content) and commits them on HEAD.
func (b *Builder) Commit(t testing.TB, message string, files map[string]string) string {
	t.Helper()
	return b.commit(t, message, files, nil)
}

// Merge commits files on HEAD with other as the second parent.
func (b *Builder) Merge(t testing.TB, message, other string, files map[string]string) string {
	t.Helper()

	head, err := b.repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	return b.commit(t, message, files, []plumbing.Hash{head.Hash(), plumbing.NewHash(other)})
}

// Orphan stores a parentless commit that no branch points to, reusing the
// tree of HEAD. It models history from an unrelated repository.
func (b *Builder) Orphan(t testing.TB, message string) string {
	t.Helper()

	head, err := b.repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	parent, err := b.repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("head commit: %v", err)
	}

	sig := b.signature()
	c := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  parent.TreeHash,
	}
	obj := b.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		t.Fatalf("encode commit: %v", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		t.Fatalf("store commit: %v", err)
	}
	return hash.String()
}

// Branch points a new branch at commit and checks it out.
func (b *Builder) Branch(t testing.TB, name, commit string) {
	t.Helper()

	err := b.wt.Checkout(&git.CheckoutOptions{
		Hash:   plumbing.NewHash(commit),
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	if err != nil {
		t.Fatalf("checkout %s: %v", name, err)
	}
}

// Checkout switches to an existing branch.
func (b *Builder) Checkout(t testing.TB, name string) {
	t.Helper()

	err := b.wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)})
	if err != nil {
		t.Fatalf("checkout %s: %v", name, err)
	}
}

func (b *Builder) commit(t testing.TB, message string, files map[string]string, parents []plumbing.Hash) string {
	t.Helper()

	for path, content := range files {
		f, err := b.wt.Filesystem.Create(path)
		if err != nil {
			t.Fatalf("create %s: %v", path, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close %s: %v", path, err)
		}
		if _, err := b.wt.Add(path); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}

	sig := b.signature()
	hash, err := b.wt.Commit(message, &git.CommitOptions{
		Author:            &sig,
		Committer:         &sig,
		Parents:           parents,
		AllowEmptyCommits: true,
	})
	if err != nil {
		t.Fatalf("commit %q: %v", message, err)
	}
	return hash.String()
}

func (b *Builder) signature() object.Signature {
	b.when = b.when.Add(time.Minute)
	return object.Signature{Name: "Dev Eloper", Email: "dev@example.com", When: b.when}
}
