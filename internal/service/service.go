// Package service implements the catapult use cases on top of the ledger,
// changelog, permission and report packages.
package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"github.com/onexay/catapult/internal/changelog"
	"github.com/onexay/catapult/internal/config"
	"github.com/onexay/catapult/internal/ledger"
	"github.com/onexay/catapult/internal/output"
	"github.com/onexay/catapult/internal/report"
	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/tracker"
)

var (
	// ErrAborted is returned when the operator declines a confirmation or a
	// rollback is attempted without --rollback.
	ErrAborted = errors.New("aborted")
	// ErrReleaseNotFound is returned when the requested release does not exist.
	ErrReleaseNotFound = errors.New("release does not exist")
	// ErrNotReleased is returned by find when no release contains the commit.
	ErrNotReleased = errors.New("commit not released yet")
	// ErrNoRepository is returned by commands that need a git checkout.
	ErrNoRepository = errors.New("cannot find git repository")
	// ErrNoImageResolver is returned when an image digest is needed but no
	// Docker daemon is configured.
	ErrNoImageResolver = errors.New("no docker client available; use --no-image for projects without an image")
)

// ImageResolver looks up the digest of a container image.
type ImageResolver interface {
	Digest(ctx context.Context, ref string) (string, error)
}

// Deps are the collaborators an App is built from. Repo, Perms, Images and
// Tracker may be nil; commands needing them fail when they are.
type Deps struct {
	Store   storage.Store
	Repo    changelog.Repository
	Perms   report.PermissionChecker
	Images  ImageResolver
	Tracker func() (tracker.Tracker, error)
	Out     *output.Printer
	Logger  zerolog.Logger
	Clock   func() time.Time
}

// App holds configuration and dependencies shared by all use cases.
type App struct {
	cfg     config.Config
	store   storage.Store
	ledger  *ledger.Ledger
	repo    changelog.Repository
	perms   report.PermissionChecker
	images  ImageResolver
	tracker func() (tracker.Tracker, error)
	out     *output.Printer
	log     zerolog.Logger
	clock   func() time.Time
}

// New constructs the App wiring.
func New(cfg config.Config, deps Deps) *App {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &App{
		cfg:     cfg,
		store:   deps.Store,
		ledger:  ledger.New(deps.Store, ledger.Options{Logger: deps.Logger, Clock: clock}),
		repo:    deps.Repo,
		perms:   deps.Perms,
		images:  deps.Images,
		tracker: deps.Tracker,
		out:     deps.Out,
		log:     deps.Logger,
		clock:   clock,
	}
}

// OpenStore builds the configured storage backend behind the read cache.
// The returned closer releases backend resources.
func OpenStore(ctx context.Context, cfg config.Config, awsCfg aws.Config, opts storage.Options) (storage.Store, io.Closer, error) {
	var (
		store  storage.Store
		closer io.Closer = nopCloser{}
		err    error
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendGCS:
		store, err = storage.NewGCSStore(ctx, cfg.Storage.GCS, opts)
	case config.StorageBackendKeyDB:
		store, err = storage.NewKeyDBStore(cfg.Storage.KeyDB, opts)
	case config.StorageBackendBolt:
		var bolt *storage.BoltStore
		bolt, err = storage.NewBoltStore(cfg.Storage.BoltPath, opts)
		if err == nil {
			store, closer = bolt, bolt
		}
	case config.StorageBackendMemory:
		store = storage.NewMemoryStore(opts)
	default:
		store = storage.NewS3Store(awsCfg, opts)
	}
	if err != nil {
		return nil, nil, err
	}

	return storage.NewCachedStore(store), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (a *App) requireRepo() error {
	if a.repo == nil {
		return ErrNoRepository
	}
	return nil
}

// author returns the operator's git email, nil when unknown.
func (a *App) author() *string {
	email := a.repo.UserEmail()
	if email == "" {
		a.log.Error().Msg("cannot find author email")
		return nil
	}
	return &email
}

// confirm runs the rollback guard and the confirmation prompts shared by
// release and deploy. what completes "create this release" style prompts.
func (a *App) confirm(rollback, allowRollback, yes bool, what, rollbackWhat string) error {
	if rollback {
		a.out.Warning("This is a rollback! ⚠️")
		if !allowRollback {
			a.out.Warning("Missing flag --rollback")
			a.out.Error("Aborted!")
			return ErrAborted
		}
	}
	if yes {
		return nil
	}

	if rollback {
		ok, err := a.out.Confirm(output.Warning, "Are you sure you want to "+rollbackWhat+"?")
		if err != nil {
			return err
		}
		if !ok {
			a.out.Error("Aborted!")
			return ErrAborted
		}
	}
	ok, err := a.out.Confirm(output.Default, "Are you sure you want to "+what+"?")
	if err != nil {
		return err
	}
	if !ok {
		a.out.Error("Aborted!")
		return ErrAborted
	}
	return nil
}
