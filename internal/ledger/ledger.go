// Package ledger interprets an object's version history as an append-only
// sequence of release records.
package ledger

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/types"
)

// Options configure a Ledger.
type Options struct {
	Logger zerolog.Logger
	// Clock stamps appended releases when the store cannot report a write time.
	Clock func() time.Time
}

// Ledger reads and appends releases stored under one key per project.
type Ledger struct {
	store storage.Store
	log   zerolog.Logger
	clock func() time.Time
}

// New returns a Ledger reading and writing through store.
func New(store storage.Store, opts Options) *Ledger {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		store: store,
		log:   opts.Logger.With().Str("component", "ledger").Logger(),
		clock: clock,
	}
}

// FetchAll yields the releases stored under key, newest first. Entries that
// do not parse are logged and skipped. When since is positive, iteration stops
// at the first release whose version is below since.
func (l *Ledger) FetchAll(ctx context.Context, bucket, key string, since int) iter.Seq2[types.Release, error] {
	return func(yield func(types.Release, error) bool) {
		versions, err := l.store.ListVersions(ctx, bucket, key)
		if err != nil {
			if isNotFound(err) {
				return
			}
			yield(types.Release{}, err)
			return
		}

		for _, v := range newestFirst(versions) {
			obj, err := l.store.GetBody(ctx, bucket, key, v.VersionID)
			if err != nil {
				if isNotFound(err) {
					l.log.Warn().Err(err).Str("key", key).Str("version_id", v.VersionID).Msg("release version disappeared")
					continue
				}
				yield(types.Release{}, err)
				return
			}

			release, err := Parse(obj)
			if err != nil {
				l.log.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("skipping invalid release object")
				continue
			}

			if since > 0 && release.Version < since {
				return
			}
			if !yield(release, nil) {
				return
			}
		}
	}
}

// FetchLatest returns the newest valid release, or nil when there is none.
func (l *Ledger) FetchLatest(ctx context.Context, bucket, key string) (*types.Release, error) {
	for release, err := range l.FetchAll(ctx, bucket, key, 0) {
		if err != nil {
			return nil, err
		}
		return &release, nil
	}
	return nil, nil
}

// FetchByVersion returns the newest release numbered version, or nil when
// the history has no such release.
func (l *Ledger) FetchByVersion(ctx context.Context, bucket, key string, version int) (*types.Release, error) {
	for release, err := range l.FetchAll(ctx, bucket, key, 0) {
		if err != nil {
			return nil, err
		}
		if release.Version == version {
			return &release, nil
		}
	}
	return nil, nil
}

// Get reads the current body of key directly. Unlike FetchLatest, a missing
// or malformed object is an error.
func (l *Ledger) Get(ctx context.Context, bucket, key string) (types.Release, error) {
	obj, err := l.store.GetBody(ctx, bucket, key, "")
	if err != nil {
		var nf *storage.NotFoundError
		if errors.As(err, &nf) {
			return types.Release{}, &InvalidReleaseError{Key: key, Reason: "key not found", Err: err}
		}
		return types.Release{}, err
	}
	release, err := Parse(obj)
	if err != nil {
		var invalid *InvalidReleaseError
		if errors.As(err, &invalid) {
			invalid.Key = key
		}
		return types.Release{}, err
	}
	return release, nil
}

// Append stores release as a new version of key and returns it with the
// version id and timestamp assigned by the store.
func (l *Ledger) Append(ctx context.Context, bucket, key string, release types.Release) (types.Release, error) {
	if release.Version <= 0 {
		return types.Release{}, &InvalidReleaseError{Key: key, Reason: "version must be positive"}
	}

	body, err := Marshal(release)
	if err != nil {
		return types.Release{}, err
	}

	res, err := l.store.PutBody(ctx, bucket, key, body)
	if err != nil {
		return types.Release{}, err
	}

	release.VersionID = res.VersionID
	release.Timestamp = res.LastModified
	if release.Timestamp.IsZero() {
		release.Timestamp = l.clock().UTC()
	}
	if release.ActionType == "" {
		release.ActionType = inferActionType(release.Author)
	}

	l.log.Debug().Str("bucket", bucket).Str("key", key).Int("version", release.Version).Str("version_id", release.VersionID).Msg("appended release")
	return release, nil
}

// NextVersion returns the version a new release should take after latest.
func NextVersion(latest *types.Release) int {
	if latest == nil {
		return 1
	}
	return latest.Version + 1
}

// newestFirst orders versions by last-modified descending. The version the
// store flags as latest always comes first, whatever its timestamp says.
func newestFirst(versions []storage.ObjectVersion) []storage.ObjectVersion {
	ordered := slices.Clone(versions)
	slices.SortStableFunc(ordered, func(a, b storage.ObjectVersion) int {
		switch {
		case a.IsLatest && !b.IsLatest:
			return -1
		case b.IsLatest && !a.IsLatest:
			return 1
		}
		return b.LastModified.Compare(a.LastModified)
	})
	return ordered
}

func isNotFound(err error) bool {
	var nf *storage.NotFoundError
	return errors.As(err, &nf)
}
