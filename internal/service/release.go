package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/onexay/catapult/internal/changelog"
	"github.com/onexay/catapult/internal/ledger"
	"github.com/onexay/catapult/internal/types"
)

// ReleaseCurrent prints the latest release of name.
func (a *App) ReleaseCurrent(ctx context.Context, name string) error {
	release, err := a.ledger.FetchLatest(ctx, a.cfg.Release.Bucket, name)
	if err != nil {
		return err
	}
	if release == nil {
		return ErrReleaseNotFound
	}
	return a.out.Release(*release)
}

// ReleaseGet prints one version of name.
func (a *App) ReleaseGet(ctx context.Context, name string, version int) error {
	release, err := a.ledger.FetchByVersion(ctx, a.cfg.Release.Bucket, name, version)
	if err != nil {
		return err
	}
	if release == nil {
		return ErrReleaseNotFound
	}
	return a.out.Release(*release)
}

// ReleaseList prints the releases of name, newest first. last > 0 keeps only
// that many, since > 0 stops at the first version below it.
func (a *App) ReleaseList(ctx context.Context, name string, last, since int) error {
	var releases []types.Release
	for release, err := range a.ledger.FetchAll(ctx, a.cfg.Release.Bucket, name, since) {
		if err != nil {
			return err
		}
		releases = append(releases, release)
		if last > 0 && len(releases) == last {
			break
		}
	}
	return a.out.Releases(releases)
}

// NewReleaseOptions parameterise NewRelease.
type NewReleaseOptions struct {
	Name string
	// Commit is the git ref to release, HEAD when empty.
	Commit string
	// Version is the new version, latest+1 when zero.
	Version   int
	ImageName string
	NoImage   bool
	Automated bool
	Dry       bool
	Yes       bool
	Rollback  bool
}

// NewRelease prepares a release of opts.Name, shows it and, unless dry,
// records it after confirmation.
func (a *App) NewRelease(ctx context.Context, opts NewReleaseOptions) (types.Release, error) {
	if err := a.requireRepo(); err != nil {
		return types.Release{}, err
	}
	bucket := a.cfg.Release.Bucket

	latest, err := a.ledger.FetchLatest(ctx, bucket, opts.Name)
	if err != nil {
		return types.Release{}, err
	}

	commit, err := a.repo.ResolveRef(opts.Commit)
	if err != nil {
		return types.Release{}, &changelog.RefError{Ref: refName(opts.Commit), Err: err}
	}

	version := opts.Version
	if version == 0 {
		version = ledger.NextVersion(latest)
	}

	var image *string
	if !opts.NoImage {
		if a.images == nil {
			return types.Release{}, ErrNoImageResolver
		}
		digest, err := a.images.Digest(ctx, a.cfg.Image(opts.Name, opts.ImageName, commit))
		if err != nil {
			return types.Release{}, err
		}
		image = &digest
	}

	var prev string
	if latest != nil {
		prev = latest.Commit
	}
	log, err := changelog.Compute(a.repo, commit, prev)
	if err != nil {
		return types.Release{}, err
	}
	log, err = log.Select(a.repo, nil, a.cfg.Paths(opts.Name))
	if err != nil {
		return types.Release{}, err
	}

	release := types.Release{
		Version:   version,
		Commit:    commit,
		Image:     image,
		Timestamp: a.clock().UTC(),
		Author:    a.author(),
		Changelog: log.Text(),
		Rollback:  log.Rollback,
		Commits:   log.IDs(),
	}
	release.ActionType = types.ActionManual
	if opts.Automated {
		release.ActionType = types.ActionAutomated
	}

	if err := a.out.Release(release); err != nil {
		return types.Release{}, err
	}
	if opts.Dry {
		return release, nil
	}

	if err := a.confirm(release.Rollback, opts.Rollback, opts.Yes, "create this release", "create a rollback release"); err != nil {
		return types.Release{}, err
	}

	release, err = a.ledger.Append(ctx, bucket, opts.Name, release)
	if err != nil {
		return types.Release{}, err
	}
	a.out.Success("Created new release 🎉")
	return release, nil
}

// ReleaseFind prints the earliest release of name that contains commit,
// HEAD when empty. History is walked from HEAD down to commit and the last
// release met on the way wins. A commit released more than once maps to its
// oldest release.
func (a *App) ReleaseFind(ctx context.Context, name, commit string) error {
	if err := a.requireRepo(); err != nil {
		return err
	}
	target, err := a.repo.ResolveRef(commit)
	if err != nil {
		return &changelog.RefError{Ref: refName(commit), Err: err}
	}

	// FetchAll runs newest first, so older releases overwrite newer ones.
	byCommit := make(map[string]types.Release)
	for release, err := range a.ledger.FetchAll(ctx, a.cfg.Release.Bucket, name, 0) {
		if err != nil {
			return err
		}
		byCommit[release.Commit] = release
	}

	var found *types.Release
	for c, err := range a.repo.Walk("") {
		if err != nil {
			return err
		}
		if release, ok := byCommit[c.ID]; ok {
			found = &release
		}
		if c.ID == target {
			if found == nil {
				return ErrNotReleased
			}
			return a.out.Release(*found)
		}
	}
	return ErrNotReleased
}

// ReleaseLog prints the changelog of name over a git range. Either end may be
// a release version written vN. With resolve it prints the git range instead.
func (a *App) ReleaseLog(ctx context.Context, name, gitRange string, resolve bool) error {
	lx, rx, _ := strings.Cut(gitRange, "..")

	start, err := a.resolveVersionRef(ctx, name, lx)
	if err != nil {
		return err
	}
	end, err := a.resolveVersionRef(ctx, name, rx)
	if err != nil {
		return err
	}

	if resolve {
		a.out.Text(start + "..." + end)
		return nil
	}

	if err := a.requireRepo(); err != nil {
		return err
	}
	log, err := changelog.Compute(a.repo, end, start)
	if err != nil {
		return err
	}
	a.out.Text(log.Text())
	return nil
}

func (a *App) resolveVersionRef(ctx context.Context, name, ref string) (string, error) {
	digits, ok := strings.CutPrefix(ref, "v")
	if !ok || digits == "" {
		return ref, nil
	}
	version, err := strconv.Atoi(digits)
	if err != nil || version < 0 {
		return ref, nil
	}
	release, err := a.ledger.FetchByVersion(ctx, a.cfg.Release.Bucket, name, version)
	if err != nil {
		return "", err
	}
	if release == nil {
		return "", ErrReleaseNotFound
	}
	return release.Commit, nil
}

// ReleaseDiff prints a unified diff between two versions of name.
func (a *App) ReleaseDiff(ctx context.Context, name string, from, to int) error {
	var releases [2]types.Release
	for i, version := range []int{from, to} {
		release, err := a.ledger.FetchByVersion(ctx, a.cfg.Release.Bucket, name, version)
		if err != nil {
			return err
		}
		if release == nil {
			return ErrReleaseNotFound
		}
		releases[i] = *release
	}

	diff, err := ledger.Diff(releases[0], releases[1])
	if err != nil {
		return err
	}
	a.out.Text(diff)
	return nil
}

func refName(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}
