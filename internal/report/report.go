// Package report assembles per-project release and deploy status rows.
package report

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/onexay/catapult/internal/ledger"
	"github.com/onexay/catapult/internal/permission"
	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/types"
)

// RowType tells release rows from deploy rows.
type RowType string

const (
	TypeRelease RowType = "release"
	TypeDeploy  RowType = "deploy"
)

// Check is a tri-state answer. The zero value means the check was not requested.
type Check string

const (
	Yes     Check = "yes"
	No      Check = "no"
	Unknown Check = "?"
)

func checkOf(ok bool) Check {
	if ok {
		return Yes
	}
	return No
}

// Status describes whether a row's record could be read.
type Status string

const (
	StatusOK           Status = "ok"
	StatusMissing      Status = "missing"
	StatusAccessDenied Status = "access-denied"
)

// Row is one project's release, or its deploy in one environment.
type Row struct {
	Name       string           `json:"name"`
	Type       RowType          `json:"type"`
	Env        string           `json:"env,omitempty"`
	Version    int              `json:"version"`
	Behind     int              `json:"behind"`
	Age        time.Duration    `json:"age"`
	Timestamp  time.Time        `json:"timestamp"`
	Commit     string           `json:"commit"`
	ActionType types.ActionType `json:"action_type"`
	Contains   Check            `json:"contains,omitempty"`
	Permission Check            `json:"permission,omitempty"`
	Author     string           `json:"author,omitempty"`
	Status     Status           `json:"status"`
}

// Env is a deploy environment and the bucket holding its ledger.
type Env struct {
	Name   string
	Bucket string
}

// Options select what a listing contains.
type Options struct {
	// Only restricts the listing to these projects when non-empty.
	Only []string
	Envs []Env
	// ReleasesOnly skips deploy rows.
	ReleasesOnly bool
	// Contains, when set, marks each row with whether its commit includes this ref.
	Contains string
	// Permissions marks each row with whether the caller may write it.
	Permissions bool
	Now         time.Time
}

// Ancestry answers commit containment questions.
type Ancestry interface {
	ResolveRef(ref string) (string, error)
	IsAncestor(ancestor, commit string) (bool, error)
}

// PermissionChecker simulates write permissions for the caller.
type PermissionChecker interface {
	CallerIdentity(ctx context.Context) (string, error)
	Check(ctx context.Context, identity, action string, resources []string) (map[string]bool, error)
}

// Reporter builds status rows from the release ledger and the deploy ledgers.
type Reporter struct {
	store         storage.Store
	ledger        *ledger.Ledger
	releaseBucket string
	repo          Ancestry
	perms         PermissionChecker
	log           zerolog.Logger
}

// New returns a Reporter. repo and perms may be nil when the matching
// options are never requested.
func New(store storage.Store, l *ledger.Ledger, releaseBucket string, repo Ancestry, perms PermissionChecker, log zerolog.Logger) *Reporter {
	return &Reporter{
		store:         store,
		ledger:        l,
		releaseBucket: releaseBucket,
		repo:          repo,
		perms:         perms,
		log:           log.With().Str("component", "report").Logger(),
	}
}

// List returns a release row per project followed by its deploy rows.
// Projects are sorted by name.
func (r *Reporter) List(ctx context.Context, opts Options) ([]Row, error) {
	names, err := r.store.ListKeys(ctx, r.releaseBucket)
	if err != nil {
		return nil, err
	}
	if len(opts.Only) > 0 {
		names = slices.DeleteFunc(slices.Clone(names), func(n string) bool {
			return !slices.Contains(opts.Only, n)
		})
	}
	envs := opts.Envs
	if opts.ReleasesOnly {
		envs = nil
	}

	var allowed map[string]map[string]bool
	if opts.Permissions {
		if allowed, err = r.permissions(ctx, names, envs); err != nil {
			return nil, err
		}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var rows []Row
	for _, name := range names {
		release, err := r.row(ctx, r.releaseBucket, name, now)
		if err != nil {
			return nil, err
		}
		release.Type = TypeRelease
		if opts.Permissions {
			release.Permission = checkOf(allowed[r.releaseBucket][permission.ResourceARN(r.releaseBucket, name)])
		}
		rows = append(rows, release)

		for _, env := range envs {
			deploy, err := r.row(ctx, env.Bucket, name, now)
			if err != nil {
				return nil, err
			}
			deploy.Type = TypeDeploy
			deploy.Env = env.Name
			if release.Status == StatusOK && deploy.Status == StatusOK {
				deploy.Behind = release.Version - deploy.Version
			}
			if opts.Permissions {
				deploy.Permission = checkOf(allowed[env.Bucket][permission.ResourceARN(env.Bucket, name)])
			}
			rows = append(rows, deploy)
		}
	}

	if opts.Contains != "" {
		r.markContains(rows, opts.Contains)
	}
	return rows, nil
}

// row reads the latest record of name in bucket. Access denied degrades to a
// status on the row; other store errors abort the listing.
func (r *Reporter) row(ctx context.Context, bucket, name string, now time.Time) (Row, error) {
	row := Row{Name: name}

	latest, err := r.ledger.FetchLatest(ctx, bucket, name)
	var denied *storage.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		r.log.Warn().Err(err).Str("bucket", bucket).Str("project", name).Msg("access denied")
		row.Status = StatusAccessDenied
		return row, nil
	case err != nil:
		return Row{}, err
	case latest == nil:
		row.Status = StatusMissing
		return row, nil
	}

	row.Status = StatusOK
	row.Version = latest.Version
	row.Timestamp = latest.Timestamp
	row.Age = now.Sub(latest.Timestamp)
	row.Commit = latest.Commit
	row.ActionType = latest.ActionType
	row.Author = latest.AuthorName()
	return row, nil
}

// permissions simulates writes to every (bucket, project) pair, one
// simulation per bucket.
func (r *Reporter) permissions(ctx context.Context, names []string, envs []Env) (map[string]map[string]bool, error) {
	if r.perms == nil {
		return nil, errors.New("permission checks are not available")
	}
	identity, err := r.perms.CallerIdentity(ctx)
	if err != nil {
		return nil, err
	}

	buckets := []string{r.releaseBucket}
	for _, env := range envs {
		if !slices.Contains(buckets, env.Bucket) {
			buckets = append(buckets, env.Bucket)
		}
	}

	result := make(map[string]map[string]bool, len(buckets))
	for _, bucket := range buckets {
		resources := make([]string, 0, len(names))
		for _, name := range names {
			resources = append(resources, permission.ResourceARN(bucket, name))
		}
		allowed, err := r.perms.Check(ctx, identity, permission.ActionPutObject, resources)
		if err != nil {
			return nil, err
		}
		result[bucket] = allowed
	}
	return result, nil
}

// markContains sets Contains on every row. A ref or commit that cannot be
// found in the repository yields Unknown rather than failing the listing.
func (r *Reporter) markContains(rows []Row, ref string) {
	var (
		target string
		err    error
	)
	if r.repo == nil {
		err = errors.New("no git repository")
	} else {
		target, err = r.repo.ResolveRef(ref)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("ref", ref).Msg("cannot resolve commit")
		for i := range rows {
			rows[i].Contains = Unknown
		}
		return
	}

	for i := range rows {
		if rows[i].Status != StatusOK || rows[i].Commit == "" {
			rows[i].Contains = Unknown
			continue
		}
		ok, err := r.repo.IsAncestor(target, rows[i].Commit)
		if err != nil {
			r.log.Debug().Err(err).Str("commit", rows[i].Commit).Msg("containment undetermined")
			rows[i].Contains = Unknown
			continue
		}
		rows[i].Contains = checkOf(ok)
	}
}
