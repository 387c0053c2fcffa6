package command

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/onexay/catapult/internal/changelog"
	"github.com/onexay/catapult/internal/config"
	"github.com/onexay/catapult/internal/githost"
	"github.com/onexay/catapult/internal/gitrepo"
	"github.com/onexay/catapult/internal/image"
	"github.com/onexay/catapult/internal/output"
	"github.com/onexay/catapult/internal/permission"
	"github.com/onexay/catapult/internal/service"
	"github.com/onexay/catapult/internal/session"
	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/tracker"
)

// wire builds the production App: configuration from the environment and
// the repository's config file, an MFA session, the storage backend, and
// the AWS, Docker and tracker clients.
func wire(ctx context.Context, c *cli) (*service.App, io.Closer, error) {
	cfg := config.Load()
	if c.format != "" {
		cfg.Format = c.format
	}

	var repo changelog.Repository
	configDir := cfg.GitRepo
	if r, err := gitrepo.Open(cfg.GitRepo); err != nil {
		c.log.Debug().Err(err).Str("path", cfg.GitRepo).Msg("no git repository")
	} else {
		repo = r
		configDir = r.Root()
	}
	if err := cfg.LoadFile(configDir); err != nil {
		return nil, nil, err
	}

	out, err := output.New(c.out, c.errOut, c.in, cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	base, err := session.LoadAWSConfig(ctx, cfg.AWS.Profile, cfg.Region, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}
	creds, err := session.NewGuard(base, cfg.SessionPath, cfg.AWS.MFADevice, c.log).Ensure(ctx)
	if err != nil {
		return nil, nil, err
	}
	awsCfg := base
	if creds != nil {
		if awsCfg, err = session.LoadAWSConfig(ctx, cfg.AWS.Profile, cfg.Region, creds); err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
	}

	store, storeCloser, err := service.OpenStore(ctx, cfg, awsCfg, storage.Options{Logger: c.log})
	if err != nil {
		return nil, nil, err
	}
	closers := closerList{storeCloser}

	deps := service.Deps{
		Store:   store,
		Repo:    repo,
		Perms:   permission.New(awsCfg, cfg.Region, c.log),
		Tracker: trackerFactory(cfg, c),
		Out:     out,
		Logger:  c.log,
	}
	if images, err := image.New("", c.log); err != nil {
		c.log.Debug().Err(err).Msg("no docker client")
	} else {
		deps.Images = images
		closers = append(closers, images)
	}

	return service.New(cfg, deps), closers, nil
}

// trackerFactory defers building the tracker until a command needs it, so
// a missing token only fails tickets commands.
func trackerFactory(cfg config.Config, c *cli) func() (tracker.Tracker, error) {
	return func() (tracker.Tracker, error) {
		host, err := githost.New(githost.Config{
			Provider: providerOr(cfg.Git.Provider, string(githost.ProviderGitHub)),
			Token:    cfg.Tokens.GitHub,
			Logger:   c.log,
		})
		if err != nil {
			return nil, err
		}
		return tracker.New(tracker.Config{
			Provider:       providerOr(cfg.IssueTracker.Provider, string(tracker.ProviderShortcut)),
			ShortcutToken:  cfg.Tokens.Shortcut,
			ClubhouseToken: cfg.Tokens.Clubhouse,
			Host:           host,
			Logger:         c.log,
		})
	}
}

func providerOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

type closerList []io.Closer

func (l closerList) Close() error {
	var errs []error
	for _, c := range l {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
