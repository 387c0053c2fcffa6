package service

import (
	"context"

	"github.com/onexay/catapult/internal/output"
	"github.com/onexay/catapult/internal/report"
)

// ProjectsOptions parameterise ProjectsList.
type ProjectsOptions struct {
	Only []string
	// Envs limits deploy rows to these environments, all when empty.
	Envs         []string
	ReleasesOnly bool
	Contains     string
	Permissions  bool
	Sort         []string
	Reverse      bool
	Author       bool
	UTC          bool
}

// ProjectsList prints the release and deploy status of every project.
func (a *App) ProjectsList(ctx context.Context, opts ProjectsOptions) error {
	if err := report.Sort(nil, opts.Sort, opts.Reverse); err != nil {
		return err
	}

	names := opts.Envs
	if len(names) == 0 {
		names = a.cfg.Envs()
	}
	envs := make([]report.Env, 0, len(names))
	for _, name := range names {
		bucket, err := a.cfg.DeployBucket(name)
		if err != nil {
			return err
		}
		envs = append(envs, report.Env{Name: name, Bucket: bucket})
	}

	reporter := report.New(a.store, a.ledger, a.cfg.Release.Bucket, a.repo, a.perms, a.log)

	rows, err := reporter.List(ctx, report.Options{
		Only:         opts.Only,
		Envs:         envs,
		ReleasesOnly: opts.ReleasesOnly,
		Contains:     opts.Contains,
		Permissions:  opts.Permissions,
		Now:          a.clock(),
	})
	if err != nil {
		return err
	}
	if err := report.Sort(rows, opts.Sort, opts.Reverse); err != nil {
		return err
	}

	a.out.UTC = opts.UTC
	return a.out.Rows(rows, output.Columns{
		Contains:    opts.Contains != "",
		Permissions: opts.Permissions,
		Author:      opts.Author,
	})
}
