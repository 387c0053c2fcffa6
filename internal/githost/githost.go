// Package githost looks up pull requests on the code hosting service.
package githost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/onexay/catapult/internal/types"
)

// Provider names a git hosting service.
type Provider string

const ProviderGitHub Provider = "github"

// UnsupportedProviderError reports a provider name with no implementation.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported git provider type %q - try one of [%s]", e.Name, ProviderGitHub)
}

// InvalidPullRequestError reports a pull request reference the host cannot parse.
type InvalidPullRequestError struct {
	Ref string
}

func (e *InvalidPullRequestError) Error() string {
	return fmt.Sprintf("not a pull request URL: %q", e.Ref)
}

// Host resolves pull request URLs.
type Host interface {
	PullRequest(ctx context.Context, url string) (types.PullRequest, error)
}

// Config selects and authenticates the host.
type Config struct {
	Provider string
	Token    string
	// Endpoint overrides the API URL.
	Endpoint string
	Client   *http.Client
	Logger   zerolog.Logger
}

// New returns the Host for cfg.Provider.
func New(cfg Config) (Host, error) {
	switch Provider(strings.ToLower(cfg.Provider)) {
	case ProviderGitHub:
		return newGitHub(cfg), nil
	}
	return nil, &UnsupportedProviderError{Name: cfg.Provider}
}

const (
	githubEndpoint = "https://api.github.com/graphql"

	pullRequestQuery = `query($owner: String!, $repo_name: String!, $pr_number: Int!) {
  repository(owner: $owner, name: $repo_name) {
    pullRequest(number: $pr_number) {
      title
      state
      mergeCommit {
        oid
      }
    }
  }
}`
)

var pullRequestURL = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)$`)

// GitHub queries the GitHub GraphQL API.
type GitHub struct {
	endpoint string
	token    string
	client   *http.Client
	log      zerolog.Logger
}

func newGitHub(cfg Config) *GitHub {
	g := &GitHub{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   cfg.Client,
		log:      cfg.Logger.With().Str("component", "github").Logger(),
	}
	if g.endpoint == "" {
		g.endpoint = githubEndpoint
	}
	if g.client == nil {
		g.client = http.DefaultClient
	}
	return g
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Repository *struct {
			PullRequest *struct {
				Title       string `json:"title"`
				State       string `json:"state"`
				MergeCommit *struct {
					OID string `json:"oid"`
				} `json:"mergeCommit"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// PullRequest fetches the pull request at url, e.g.
// https://github.com/acme/api/pull/42.
func (g *GitHub) PullRequest(ctx context.Context, url string) (types.PullRequest, error) {
	m := pullRequestURL.FindStringSubmatch(url)
	if m == nil {
		return types.PullRequest{}, &InvalidPullRequestError{Ref: url}
	}
	owner, repo := m[1], m[2]
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return types.PullRequest{}, &InvalidPullRequestError{Ref: url}
	}

	body, err := json.Marshal(graphQLRequest{
		Query: pullRequestQuery,
		Variables: map[string]any{
			"owner":     owner,
			"repo_name": repo,
			"pr_number": number,
		},
	})
	if err != nil {
		return types.PullRequest{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.PullRequest{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return types.PullRequest{}, fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.PullRequest{}, fmt.Errorf("query %s: %s: %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}

	var out graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.PullRequest{}, fmt.Errorf("decode response: %w", err)
	}
	for _, e := range out.Errors {
		g.log.Warn().Str("type", e.Type).Str("pr", url).Msg(e.Message)
	}
	if out.Data.Repository == nil || out.Data.Repository.PullRequest == nil {
		return types.PullRequest{}, fmt.Errorf("pull request %s not found", url)
	}

	pr := out.Data.Repository.PullRequest
	result := types.PullRequest{
		ID:    url,
		Repo:  repo,
		Title: pr.Title,
		State: types.PullRequestState(pr.State),
	}
	if pr.MergeCommit != nil {
		result.MergeCommit = pr.MergeCommit.OID
	}
	return result, nil
}
