package service

import (
	"context"

	"github.com/onexay/catapult/internal/changelog"
	"github.com/onexay/catapult/internal/types"
)

// DeployOptions parameterise DeployStart.
type DeployOptions struct {
	Name string
	Env  string
	// Version selects the release to deploy, the latest when zero.
	Version int
	// Bucket overrides the environment's configured deploy bucket.
	Bucket    string
	Automated bool
	Dry       bool
	Yes       bool
	Rollback  bool
}

func (a *App) deployBucket(env, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return a.cfg.DeployBucket(env)
}

// DeployStart records a deploy of a release of opts.Name to opts.Env. The
// changelog runs from the environment's current deploy; the first deploy
// reuses the release's own changelog.
func (a *App) DeployStart(ctx context.Context, opts DeployOptions) (types.Release, error) {
	var (
		release *types.Release
		err     error
	)
	if opts.Version == 0 {
		release, err = a.ledger.FetchLatest(ctx, a.cfg.Release.Bucket, opts.Name)
	} else {
		release, err = a.ledger.FetchByVersion(ctx, a.cfg.Release.Bucket, opts.Name, opts.Version)
	}
	if err != nil {
		return types.Release{}, err
	}
	if release == nil {
		return types.Release{}, ErrReleaseNotFound
	}

	bucket, err := a.deployBucket(opts.Env, opts.Bucket)
	if err != nil {
		return types.Release{}, err
	}
	if err := a.requireRepo(); err != nil {
		return types.Release{}, err
	}

	last, err := a.ledger.FetchLatest(ctx, bucket, opts.Name)
	if err != nil {
		return types.Release{}, err
	}

	deploy := *release
	if last != nil {
		log, err := changelog.Compute(a.repo, release.Commit, last.Commit)
		if err != nil {
			return types.Release{}, err
		}
		if !log.Rollback {
			recorded, err := a.recordedCommits(ctx, opts.Name, last.Version, release.Version)
			if err != nil {
				return types.Release{}, err
			}
			if log, err = log.Select(a.repo, recorded, a.cfg.Paths(opts.Name)); err != nil {
				return types.Release{}, err
			}
		}
		deploy.Changelog = log.Text()
		deploy.Rollback = log.Rollback
		deploy.Commits = log.IDs()
	}
	deploy.VersionID = ""
	deploy.Timestamp = a.clock().UTC()
	deploy.Author = a.author()
	deploy.ActionType = types.ActionManual
	if opts.Automated {
		deploy.ActionType = types.ActionAutomated
	}

	if err := a.out.Release(deploy); err != nil {
		return types.Release{}, err
	}
	if opts.Dry {
		return deploy, nil
	}

	if err := a.confirm(deploy.Rollback, opts.Rollback, opts.Yes, "start this deployment", "start a rollback deployment"); err != nil {
		return types.Release{}, err
	}

	deploy, err = a.ledger.Append(ctx, bucket, opts.Name, deploy)
	if err != nil {
		return types.Release{}, err
	}
	a.out.Success("Started new deployment 🚀")
	return deploy, nil
}

// recordedCommits returns the commits recorded by the releases of name after
// version from, up to and including version to. It returns nil when one of
// them predates recorded commit lists, so callers fall back to path filtering.
func (a *App) recordedCommits(ctx context.Context, name string, from, to int) ([]string, error) {
	ids := []string{}
	for release, err := range a.ledger.FetchAll(ctx, a.cfg.Release.Bucket, name, from+1) {
		if err != nil {
			return nil, err
		}
		if release.Version > to {
			continue
		}
		if release.Commits == nil {
			return nil, nil
		}
		ids = append(ids, release.Commits...)
	}
	return ids, nil
}

// DeployCurrent prints the deploy running in env.
func (a *App) DeployCurrent(ctx context.Context, name, env, bucketOverride string) error {
	bucket, err := a.deployBucket(env, bucketOverride)
	if err != nil {
		return err
	}
	deploy, err := a.ledger.FetchLatest(ctx, bucket, name)
	if err != nil {
		return err
	}
	if deploy == nil {
		return ErrReleaseNotFound
	}
	return a.out.Release(*deploy)
}
