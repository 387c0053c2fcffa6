package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/catapult/internal/changelog"
	"github.com/onexay/catapult/internal/config"
	"github.com/onexay/catapult/internal/gitrepo/gitrepotest"
	"github.com/onexay/catapult/internal/output"
	"github.com/onexay/catapult/internal/report"
	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/tracker"
	"github.com/onexay/catapult/internal/types"
)

type fakeImages struct {
	refs []string
}

func (f *fakeImages) Digest(_ context.Context, ref string) (string, error) {
	f.refs = append(f.refs, ref)
	return "sha256:" + ref[strings.LastIndex(ref, "-")+1:], nil
}

type harness struct {
	app    *App
	git    *gitrepotest.Builder
	images *fakeImages
	out    *bytes.Buffer
	msgs   *bytes.Buffer

	// a, b and c are the commits of the fixture history, oldest first.
	a, b, c string
}

func testConfig() config.Config {
	return config.Config{
		Release: config.ReleaseConfig{
			Bucket:            "releases",
			DockerRepository:  "registry.example.com/acme",
			DockerImagePrefix: "acme-",
		},
		Deploy: map[string]config.DeployConfig{
			"prod":    {Bucket: "deploy-prod"},
			"staging": {Bucket: "deploy-staging"},
		},
		Projects: map[string]config.ProjectConfig{
			"web": {Paths: []string{"web/"}},
		},
	}
}

// newHarness builds A -> B -> C, where A and C touch api/ and B touches web/.
// input feeds the confirmation prompts.
func newHarness(t *testing.T, input string) *harness {
	t.Helper()

	g := gitrepotest.New(t)
	g.SetUserEmail(t, "dev@example.com")
	a := g.Commit(t, "A", map[string]string{"api/main.go": "a"})
	b := g.Commit(t, "B", map[string]string{"web/index.html": "b"})
	c := g.Commit(t, "C", map[string]string{"api/main.go": "c"})

	var out, msgs bytes.Buffer
	printer, err := output.New(&out, &msgs, strings.NewReader(input), "json")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	images := &fakeImages{}
	app := New(testConfig(), Deps{
		Store:  storage.NewCachedStore(storage.NewMemoryStore(storage.Options{Clock: clock})),
		Repo:   g.Repo(),
		Images: images,
		Out:    printer,
		Logger: zerolog.Nop(),
		Clock:  clock,
	})
	return &harness{app: app, git: g, images: images, out: &out, msgs: &msgs, a: a, b: b, c: c}
}

func (h *harness) release(t *testing.T, commit string, opts NewReleaseOptions) types.Release {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "api"
	}
	opts.Commit = commit
	opts.Yes = true
	r, err := h.app.NewRelease(context.Background(), opts)
	require.NoError(t, err)
	h.out.Reset()
	return r
}

// deploy records a deploy without prompting and clears the printed record.
func (h *harness) deploy(t *testing.T, opts DeployOptions) types.Release {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "api"
	}
	opts.Yes = true
	d, err := h.app.DeployStart(context.Background(), opts)
	require.NoError(t, err)
	h.out.Reset()
	return d
}

func (h *harness) history(t *testing.T, bucket, name string) []types.Release {
	t.Helper()
	var out []types.Release
	for r, err := range h.app.ledger.FetchAll(context.Background(), bucket, name, 0) {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestNewReleaseFirst(t *testing.T) {
	h := newHarness(t, "")
	r := h.release(t, "", NewReleaseOptions{})

	assert.Equal(t, 1, r.Version)
	assert.Equal(t, h.c, r.Commit)
	assert.Equal(t, []string{h.c, h.b, h.a}, r.Commits)
	assert.False(t, r.Rollback)
	assert.Equal(t, "dev@example.com", r.AuthorName())
	assert.Equal(t, types.ActionManual, r.ActionType)
	assert.NotEmpty(t, r.VersionID)
	require.NotNil(t, r.Image)
	assert.Equal(t, []string{"registry.example.com/acme/acme-api:ref-" + h.c}, h.images.refs)

	stored := h.history(t, "releases", "api")
	require.Len(t, stored, 1)
	assert.Equal(t, r.VersionID, stored[0].VersionID)
	assert.Contains(t, stored[0].Changelog, "commit "+h.c)
	assert.Contains(t, h.msgs.String(), "Created new release")
}

func TestNewReleaseIncrementsAndFiltersPaths(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{Name: "web", NoImage: true})
	r := h.release(t, h.c, NewReleaseOptions{Name: "web", NoImage: true, Automated: true})

	assert.Equal(t, 2, r.Version)
	assert.Equal(t, []string{h.b}, r.Commits)
	assert.Nil(t, r.Image)
	assert.Equal(t, types.ActionAutomated, r.ActionType)
	assert.Empty(t, h.images.refs)
}

func TestNewReleaseDry(t *testing.T) {
	h := newHarness(t, "")
	r, err := h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", Dry: true, NoImage: true})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Version)
	assert.Empty(t, h.history(t, "releases", "api"))

	var printed types.Release
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &printed))
	assert.Equal(t, h.c, printed.Commit)
	assert.Equal(t, types.ActionManual, printed.ActionType)
}

func TestNewReleaseConfirmation(t *testing.T) {
	h := newHarness(t, "n\n")
	_, err := h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", NoImage: true})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, h.history(t, "releases", "api"))
	assert.Contains(t, h.msgs.String(), "Are you sure you want to create this release? [y/N]")

	h = newHarness(t, "y\n")
	_, err = h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", NoImage: true})
	require.NoError(t, err)
	assert.Len(t, h.history(t, "releases", "api"), 1)
}

func TestNewReleaseRollbackRequiresFlag(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	_, err := h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", Commit: h.a, NoImage: true, Yes: true})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, h.msgs.String(), "Missing flag --rollback")
	assert.Len(t, h.history(t, "releases", "api"), 1)

	r := h.release(t, h.a, NewReleaseOptions{NoImage: true, Rollback: true})
	assert.True(t, r.Rollback)
	assert.Equal(t, 2, r.Version)
	assert.Equal(t, []string{h.b, h.c}, r.Commits)
}

func TestNewReleaseRollbackAsksTwice(t *testing.T) {
	h := newHarness(t, "y\nn\n")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	_, err := h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", Commit: h.a, NoImage: true, Rollback: true})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, h.msgs.String(), "create a rollback release?")
	assert.Contains(t, h.msgs.String(), "create this release?")
}

func TestNewReleaseUnknownCommit(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.app.NewRelease(context.Background(), NewReleaseOptions{Name: "api", Commit: "nope", NoImage: true})
	var refErr *changelog.RefError
	assert.ErrorAs(t, err, &refErr)
}

func TestReleaseCurrentAndGet(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, h.app.ReleaseCurrent(ctx, "api"), ErrReleaseNotFound)

	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	h.out.Reset()
	require.NoError(t, h.app.ReleaseCurrent(ctx, "api"))
	var current types.Release
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &current))
	assert.Equal(t, 2, current.Version)

	h.out.Reset()
	require.NoError(t, h.app.ReleaseGet(ctx, "api", 1))
	var first types.Release
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &first))
	assert.Equal(t, h.a, first.Commit)

	assert.ErrorIs(t, h.app.ReleaseGet(ctx, "api", 9), ErrReleaseNotFound)
}

func TestReleaseList(t *testing.T) {
	h := newHarness(t, "")
	for _, commit := range []string{h.a, h.b, h.c} {
		h.release(t, commit, NewReleaseOptions{NoImage: true})
	}

	versions := func(last, since int) []int {
		h.out.Reset()
		require.NoError(t, h.app.ReleaseList(context.Background(), "api", last, since))
		var releases []types.Release
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &releases))
		var got []int
		for _, r := range releases {
			got = append(got, r.Version)
		}
		return got
	}

	assert.Equal(t, []int{3, 2, 1}, versions(0, 0))
	assert.Equal(t, []int{3, 2}, versions(2, 0))
	assert.Equal(t, []int{3, 2}, versions(0, 2))
}

func TestReleaseFind(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	d := h.git.Commit(t, "D", nil)

	find := func(commit string) (int, error) {
		h.out.Reset()
		if err := h.app.ReleaseFind(context.Background(), "api", commit); err != nil {
			return 0, err
		}
		var r types.Release
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &r))
		return r.Version, nil
	}

	v, err := find(h.a)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = find(h.b)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = find(d)
	assert.ErrorIs(t, err, ErrNotReleased)

	_, err = find("")
	assert.ErrorIs(t, err, ErrNotReleased)
}

func TestReleaseFindPrefersOldestReleaseOfCommit(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	require.NoError(t, h.app.ReleaseFind(context.Background(), "api", h.c))
	var r types.Release
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &r))
	assert.Equal(t, 1, r.Version)
}

func TestReleaseLog(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	ctx := context.Background()

	require.NoError(t, h.app.ReleaseLog(ctx, "api", "v1..v2", true))
	assert.Equal(t, h.a+"..."+h.c+"\n", h.out.String())

	h.out.Reset()
	require.NoError(t, h.app.ReleaseLog(ctx, "api", "v1..v2", false))
	assert.Contains(t, h.out.String(), "commit "+h.c)
	assert.Contains(t, h.out.String(), "commit "+h.b)
	assert.NotContains(t, h.out.String(), "commit "+h.a)

	assert.ErrorIs(t, h.app.ReleaseLog(ctx, "api", "v1..v7", true), ErrReleaseNotFound)
}

func TestReleaseDiff(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	require.NoError(t, h.app.ReleaseDiff(context.Background(), "api", 1, 2))
	diff := h.out.String()
	assert.Contains(t, diff, "--- v1")
	assert.Contains(t, diff, "+++ v2")
	assert.Contains(t, diff, `+  "commit": "`+h.c+`"`)
}

func TestDeployStartFirstReusesReleaseChangelog(t *testing.T) {
	h := newHarness(t, "")
	r := h.release(t, h.c, NewReleaseOptions{NoImage: true})

	d, err := h.app.DeployStart(context.Background(), DeployOptions{Name: "api", Env: "prod", Yes: true})
	require.NoError(t, err)
	assert.Equal(t, r.Version, d.Version)
	assert.Equal(t, r.Changelog, d.Changelog)
	assert.Equal(t, r.Commits, d.Commits)
	assert.NotEqual(t, r.VersionID, d.VersionID)
	assert.Contains(t, h.msgs.String(), "Started new deployment")

	assert.Len(t, h.history(t, "deploy-prod", "api"), 1)
}

func TestDeployStartReusesRecordedCommits(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{Name: "web", NoImage: true})
	h.release(t, h.c, NewReleaseOptions{Name: "web", NoImage: true})
	ctx := context.Background()

	_, err := h.app.DeployStart(ctx, DeployOptions{Name: "web", Env: "staging", Version: 1, Yes: true})
	require.NoError(t, err)

	d, err := h.app.DeployStart(ctx, DeployOptions{Name: "web", Env: "staging", Yes: true})
	require.NoError(t, err)
	assert.False(t, d.Rollback)
	assert.Equal(t, []string{h.b}, d.Commits)
}

func TestDeployStartSpansIntermediateReleases(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.deploy(t, DeployOptions{Env: "prod"})
	h.release(t, h.b, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})

	d := h.deploy(t, DeployOptions{Env: "prod"})
	assert.Equal(t, 3, d.Version)
	assert.False(t, d.Rollback)
	assert.Equal(t, []string{h.c, h.b}, d.Commits)
	assert.Contains(t, d.Changelog, "commit "+h.b)
	assert.Contains(t, d.Changelog, "commit "+h.c)
}

func TestDeployStartFallsBackToPathsWithoutRecordedCommits(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{Name: "web", NoImage: true})
	h.deploy(t, DeployOptions{Name: "web", Env: "prod"})

	author := "dev@example.com"
	_, err := h.app.ledger.Append(context.Background(), "releases", "web", types.Release{Version: 2, Commit: h.c, Author: &author})
	require.NoError(t, err)

	d := h.deploy(t, DeployOptions{Name: "web", Env: "prod"})
	assert.Equal(t, 2, d.Version)
	assert.Equal(t, []string{h.b}, d.Commits)
}

func TestDeployStartDryShowsActionType(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	ctx := context.Background()

	for _, automated := range []bool{false, true} {
		h.out.Reset()
		_, err := h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "prod", Dry: true, Automated: automated})
		require.NoError(t, err)

		var printed types.Release
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &printed))
		want := types.ActionManual
		if automated {
			want = types.ActionAutomated
		}
		assert.Equal(t, want, printed.ActionType)
	}
	assert.Empty(t, h.history(t, "deploy-prod", "api"))
}

func TestDeployStartRollback(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	ctx := context.Background()

	_, err := h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "prod", Yes: true})
	require.NoError(t, err)

	_, err = h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "prod", Version: 1, Yes: true})
	assert.ErrorIs(t, err, ErrAborted)

	d, err := h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "prod", Version: 1, Yes: true, Rollback: true})
	require.NoError(t, err)
	assert.True(t, d.Rollback)
	assert.Equal(t, []string{h.b, h.c}, d.Commits)
}

func TestDeployStartErrors(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "prod"})
	assert.ErrorIs(t, err, ErrReleaseNotFound)

	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	_, err = h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "qa"})
	var unknown *config.UnknownEnvironmentError
	assert.ErrorAs(t, err, &unknown)

	_, err = h.app.DeployStart(ctx, DeployOptions{Name: "api", Env: "qa", Bucket: "deploy-qa", Dry: true})
	assert.NoError(t, err)
	assert.Empty(t, h.history(t, "deploy-qa", "api"))
}

func TestDeployCurrent(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	ctx := context.Background()

	assert.ErrorIs(t, h.app.DeployCurrent(ctx, "api", "prod", ""), ErrReleaseNotFound)

	h.deploy(t, DeployOptions{Env: "prod"})

	require.NoError(t, h.app.DeployCurrent(ctx, "api", "prod", ""))
	var d types.Release
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &d))
	assert.Equal(t, h.c, d.Commit)
}

func TestProjectsList(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.a, NewReleaseOptions{NoImage: true})
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	h.deploy(t, DeployOptions{Env: "prod", Version: 1})

	require.NoError(t, h.app.ProjectsList(context.Background(), ProjectsOptions{Envs: []string{"prod"}, Contains: h.b}))

	var rows []report.Row
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, report.Yes, rows[0].Contains)
	assert.Equal(t, 1, rows[1].Behind)
	assert.Equal(t, report.No, rows[1].Contains)
}

func TestProjectsListRejectsBadInput(t *testing.T) {
	h := newHarness(t, "")

	err := h.app.ProjectsList(context.Background(), ProjectsOptions{Sort: []string{"colour"}})
	var invalid *report.InvalidSortKeyError
	assert.ErrorAs(t, err, &invalid)

	err = h.app.ProjectsList(context.Background(), ProjectsOptions{Envs: []string{"qa"}})
	var unknown *config.UnknownEnvironmentError
	assert.ErrorAs(t, err, &unknown)
}

type fakeTracker struct {
	prs []types.PullRequest
}

func (f fakeTracker) LinkedPullRequests(context.Context, string) ([]types.PullRequest, error) {
	return f.prs, nil
}

func TestTicketsFind(t *testing.T) {
	h := newHarness(t, "")
	h.release(t, h.c, NewReleaseOptions{NoImage: true})
	h.app.tracker = func() (tracker.Tracker, error) {
		return fakeTracker{prs: []types.PullRequest{
			{ID: "https://github.com/acme/api/pull/1", Repo: "api", State: types.PullRequestMerged, MergeCommit: h.b},
			{ID: "https://github.com/acme/api/pull/2", Repo: "api", State: types.PullRequestOpen},
			{ID: "https://github.com/acme/api/pull/3", Repo: "api", State: types.PullRequestClosed},
		}}, nil
	}

	require.NoError(t, h.app.TicketsFind(context.Background(), "sc-42", ProjectsOptions{ReleasesOnly: true}))

	msgs := h.msgs.String()
	assert.Contains(t, msgs, "https://github.com/acme/api/pull/2 is still open")
	assert.Contains(t, msgs, "Found 1 commit linked to sc-42")
	assert.Contains(t, msgs, "Commit 1/1: api: "+h.b)

	var rows []report.Row
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, report.Yes, rows[0].Contains)
}

func TestTicketsFindTrackerError(t *testing.T) {
	h := newHarness(t, "")
	boom := errors.New("unsupported tracker")
	h.app.tracker = func() (tracker.Tracker, error) { return nil, boom }

	assert.ErrorIs(t, h.app.TicketsFind(context.Background(), "sc-1", ProjectsOptions{}), boom)
}
