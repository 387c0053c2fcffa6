// Package changelog derives the commits between two points in history and
// classifies the transition as forward or rollback.
package changelog

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/onexay/catapult/internal/types"
)

// Repository is the source-control view the engine walks.
type Repository interface {
	ResolveRef(ref string) (string, error)
	Walk(start string) iter.Seq2[types.Commit, error]
	Diff(from, to string) ([]string, error)
	IsAncestor(ancestor, commit string) (bool, error)
	UserEmail() string
}

// Changelog is the ordered list of commits between two endpoints. Rollback is
// set when the newer endpoint does not descend from the older one.
type Changelog struct {
	Commits  []types.Commit
	Rollback bool
}

// RefError reports a reference that does not resolve to exactly one commit.
type RefError struct {
	Ref string
	Err error
}

func (e *RefError) Error() string {
	return fmt.Sprintf("cannot resolve git reference %q: %v", e.Ref, e.Err)
}

func (e *RefError) Unwrap() error {
	return e.Err
}

// UnrelatedHistoryError reports two commits with no path between them in
// either direction.
type UnrelatedHistoryError struct {
	Latest string
	Prev   string
}

func (e *UnrelatedHistoryError) Error() string {
	return fmt.Sprintf("commits %s and %s do not share a line of history", short(e.Latest), short(e.Prev))
}

var errInvalidRange = errors.New("range cannot be walked")

// Compute builds the changelog from prev to latest. An empty latest means
// HEAD and an empty prev means the start of history.
//
// When latest descends from prev the commits run from latest back to prev,
// exclusive of prev. Otherwise the history is walked from prev back to
// latest, the list is reversed and the changelog is flagged as a rollback.
func Compute(repo Repository, latest, prev string) (Changelog, error) {
	latestID, err := resolve(repo, latest)
	if err != nil {
		return Changelog{}, err
	}

	var prevID string
	if prev != "" {
		if prevID, err = resolve(repo, prev); err != nil {
			return Changelog{}, err
		}
	}

	commits, err := walkRange(repo, latestID, prevID)
	if err == nil {
		return Changelog{Commits: commits}, nil
	}
	if !errors.Is(err, errInvalidRange) {
		return Changelog{}, err
	}

	commits, err = walkRange(repo, prevID, latestID)
	if errors.Is(err, errInvalidRange) {
		return Changelog{}, &UnrelatedHistoryError{Latest: latestID, Prev: prevID}
	}
	if err != nil {
		return Changelog{}, err
	}
	slices.Reverse(commits)
	return Changelog{Commits: commits, Rollback: true}, nil
}

func resolve(repo Repository, ref string) (string, error) {
	id, err := repo.ResolveRef(ref)
	if err != nil {
		if ref == "" {
			ref = "HEAD"
		}
		return "", &RefError{Ref: ref, Err: err}
	}
	return id, nil
}

// walkRange collects commits from start until end, exclusive of end. An
// empty end collects the whole history. It fails with errInvalidRange when
// end is never reached.
func walkRange(repo Repository, start, end string) ([]types.Commit, error) {
	var commits []types.Commit
	for c, err := range repo.Walk(start) {
		if err != nil {
			return nil, err
		}
		if end != "" && c.ID == end {
			return commits, nil
		}
		commits = append(commits, c)
	}
	if end != "" {
		return nil, errInvalidRange
	}
	return commits, nil
}

// FilterFiles keeps the commits whose diff against their first parent touches
// one of paths. A path matches a file equal to it or any file beneath it.
func (c Changelog) FilterFiles(repo Repository, paths []string) (Changelog, error) {
	out := Changelog{Rollback: c.Rollback}
	for _, commit := range c.Commits {
		var parent string
		if len(commit.Parents) > 0 {
			parent = commit.Parents[0]
		}
		files, err := repo.Diff(parent, commit.ID)
		if err != nil {
			return Changelog{}, err
		}
		if touches(files, paths) {
			out.Commits = append(out.Commits, commit)
		}
	}
	return out, nil
}

// FilterCommits keeps the commits whose ids are in ids.
func (c Changelog) FilterCommits(ids []string) Changelog {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	out := Changelog{Rollback: c.Rollback}
	for _, commit := range c.Commits {
		if _, ok := allowed[commit.ID]; ok {
			out.Commits = append(out.Commits, commit)
		}
	}
	return out
}

// Select narrows the changelog to a project. A recorded commit list wins;
// file filtering is the fallback for records that predate it. With neither,
// the changelog is returned unchanged.
func (c Changelog) Select(repo Repository, recorded []string, paths []string) (Changelog, error) {
	switch {
	case recorded != nil:
		return c.FilterCommits(recorded), nil
	case len(paths) > 0:
		return c.FilterFiles(repo, paths)
	}
	return c, nil
}

// IDs returns the commit ids in changelog order.
func (c Changelog) IDs() []string {
	ids := make([]string, 0, len(c.Commits))
	for _, commit := range c.Commits {
		ids = append(ids, commit.ID)
	}
	return ids
}

func touches(files, paths []string) bool {
	for _, f := range files {
		for _, p := range paths {
			p = strings.TrimSuffix(p, "/")
			if p == "" || p == "." || f == p || strings.HasPrefix(f, p+"/") {
				return true
			}
		}
	}
	return false
}

func short(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	if id == "" {
		return "<root>"
	}
	return id
}
