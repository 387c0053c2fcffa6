package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/types"
)

// scriptedStore serves a fixed version listing, the way a store with skewed
// clocks or odd histories would report it.
type scriptedStore struct {
	storage.Store
	versions []storage.ObjectVersion
	bodies   map[string]string
	reads    []string
}

func (s *scriptedStore) ListVersions(context.Context, string, string) ([]storage.ObjectVersion, error) {
	return s.versions, nil
}

func (s *scriptedStore) GetBody(_ context.Context, _, key, versionID string) (storage.Object, error) {
	s.reads = append(s.reads, versionID)
	body, ok := s.bodies[versionID]
	if !ok {
		return storage.Object{}, &storage.NotFoundError{Resource: "version", Key: versionID}
	}
	for _, v := range s.versions {
		if v.VersionID == versionID {
			return storage.Object{Key: key, Body: []byte(body), VersionID: versionID, LastModified: v.LastModified}, nil
		}
	}
	return storage.Object{}, &storage.NotFoundError{Resource: "version", Key: versionID}
}

func releaseBody(version int) string {
	return fmt.Sprintf(`{"version":%d,"commit":"c%d","image":"sha256:%d","author":"dev@example.com","changelog":"","rollback":false,"action_type":"manual"}`, version, version, version)
}

func collect(t *testing.T, l *Ledger, since int) []int {
	t.Helper()
	var got []int
	for r, err := range l.FetchAll(context.Background(), "releases", "api", since) {
		require.NoError(t, err)
		got = append(got, r.Version)
	}
	return got
}

func strptr(s string) *string { return &s }

func TestAppendAssignsMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore(storage.Options{}.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	l := New(store, Options{})

	for range 4 {
		latest, err := l.FetchLatest(ctx, "releases", "api")
		require.NoError(t, err)

		_, err = l.Append(ctx, "releases", "api", types.Release{
			Version: NextVersion(latest),
			Commit:  "abc",
			Author:  strptr("dev@example.com"),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []int{4, 3, 2, 1}, collect(t, l, 0))
}

func TestAppendRoundTrip(t *testing.T) {
	ctx := context.Background()
	written := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	store := storage.NewMemoryStore(storage.Options{}.WithClock(func() time.Time { return written }))
	l := New(store, Options{})

	in := types.Release{
		Version:    7,
		Commit:     "0123456789abcdef",
		VersionID:  "ignored",
		Image:      strptr("sha256:feed"),
		Timestamp:  time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		Author:     strptr("dev@example.com"),
		Changelog:  "commit 0123\n\n    fix things\n",
		Rollback:   true,
		ActionType: types.ActionAutomated,
		Commits:    []string{"0123456789abcdef", "fedcba9876543210"},
	}

	out, err := l.Append(ctx, "releases", "api", in)
	require.NoError(t, err)
	assert.NotEqual(t, "ignored", out.VersionID)
	assert.Equal(t, written, out.Timestamp)

	got, err := l.FetchByVersion(ctx, "releases", "api", 7)
	require.NoError(t, err)
	require.NotNil(t, got)

	want := in
	want.VersionID = out.VersionID
	want.Timestamp = written
	assert.Equal(t, want, *got)
}

func TestFetchLatestPrefersStoreLatestFlag(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	skewed := t2.Add(24 * time.Hour)
	store := &scriptedStore{
		versions: []storage.ObjectVersion{
			{Key: "api", VersionID: "a", LastModified: t1},
			{Key: "api", VersionID: "b", LastModified: t2, IsLatest: true},
			{Key: "api", VersionID: "c", LastModified: skewed},
		},
		bodies: map[string]string{"a": releaseBody(1), "b": releaseBody(3), "c": releaseBody(2)},
	}
	l := New(store, Options{})

	latest, err := l.FetchLatest(context.Background(), "releases", "api")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, "b", latest.VersionID)

	assert.Equal(t, []int{3, 2, 1}, collect(t, l, 0))
}

func TestFetchAllSinceStopsAtCutoff(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// newest first: 5, 4, 3, 1, 2
	order := []int{2, 1, 3, 4, 5}
	store := &scriptedStore{bodies: map[string]string{}}
	for i, v := range order {
		id := fmt.Sprintf("id%d", v)
		store.versions = append(store.versions, storage.ObjectVersion{
			Key:          "api",
			VersionID:    id,
			LastModified: base.Add(time.Duration(i) * time.Hour),
			IsLatest:     i == len(order)-1,
		})
		store.bodies[id] = releaseBody(v)
	}
	l := New(store, Options{})

	assert.Equal(t, []int{5, 4, 3}, collect(t, l, 3))
	assert.NotContains(t, store.reads, "id2")
}

func TestFetchAllSkipsInvalidEntries(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &scriptedStore{
		versions: []storage.ObjectVersion{
			{Key: "api", VersionID: "v1", LastModified: base},
			{Key: "api", VersionID: "v2", LastModified: base.Add(time.Hour)},
			{Key: "api", VersionID: "v3", LastModified: base.Add(2 * time.Hour)},
			{Key: "api", VersionID: "gone", LastModified: base.Add(3 * time.Hour), IsLatest: true},
		},
		bodies: map[string]string{
			"v1": releaseBody(1),
			"v2": `{"version":2,"commit":"c2","image":null}`,
			"v3": releaseBody(3),
		},
	}
	l := New(store, Options{})

	assert.Equal(t, []int{3, 1}, collect(t, l, 0))
}

func TestFetchAllStopsWhenConsumerStops(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &scriptedStore{
		versions: []storage.ObjectVersion{
			{Key: "api", VersionID: "v1", LastModified: base},
			{Key: "api", VersionID: "v2", LastModified: base.Add(time.Hour), IsLatest: true},
		},
		bodies: map[string]string{"v1": releaseBody(1), "v2": releaseBody(2)},
	}
	l := New(store, Options{})

	latest, err := l.FetchLatest(context.Background(), "releases", "api")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, []string{"v2"}, store.reads)
}

func TestFetchMissingKey(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemoryStore(storage.Options{}), Options{})

	latest, err := l.FetchLatest(ctx, "releases", "api")
	require.NoError(t, err)
	assert.Nil(t, latest)

	byVersion, err := l.FetchByVersion(ctx, "releases", "api", 1)
	require.NoError(t, err)
	assert.Nil(t, byVersion)

	_, err = l.Get(ctx, "releases", "api")
	var invalid *InvalidReleaseError
	require.ErrorAs(t, err, &invalid)
	var nf *storage.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFetchByVersionNoMatch(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemoryStore(storage.Options{}), Options{})
	_, err := l.Append(ctx, "releases", "api", types.Release{Version: 1, Author: strptr("a")})
	require.NoError(t, err)

	got, err := l.FetchByVersion(ctx, "releases", "api", 9)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetRejectsInvalidBody(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(storage.Options{})
	_, err := store.PutBody(ctx, "releases", "api", []byte(`{"version":1}`))
	require.NoError(t, err)

	_, err = New(store, Options{}).Get(ctx, "releases", "api")
	var invalid *InvalidReleaseError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "api", invalid.Key)
}

func TestFetchAllPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("throttled")
	l := New(failingStore{err: boom}, Options{})

	_, err := l.FetchLatest(context.Background(), "releases", "api")
	assert.ErrorIs(t, err, boom)
}

func TestAppendRejectsNonPositiveVersion(t *testing.T) {
	l := New(storage.NewMemoryStore(storage.Options{}), Options{})
	_, err := l.Append(context.Background(), "releases", "api", types.Release{})
	var invalid *InvalidReleaseError
	assert.ErrorAs(t, err, &invalid)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, 1, NextVersion(nil))
	assert.Equal(t, 13, NextVersion(&types.Release{Version: 12}))
}

type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) ListVersions(context.Context, string, string) ([]storage.ObjectVersion, error) {
	return nil, f.err
}
