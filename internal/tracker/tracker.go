// Package tracker finds the pull requests linked to an issue tracker ticket.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/onexay/catapult/internal/githost"
	"github.com/onexay/catapult/internal/types"
)

// Provider names an issue tracker.
type Provider string

const (
	ProviderShortcut  Provider = "shortcut"
	ProviderClubhouse Provider = "clubhouse"
)

// UnsupportedProviderError reports a tracker name with no implementation.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported tracker type %q - try one of [%s %s]", e.Name, ProviderClubhouse, ProviderShortcut)
}

// MissingTokenError reports a tracker used without its API token.
type MissingTokenError struct {
	Provider Provider
	Env      string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("%s requires an API token in %s", e.Provider, e.Env)
}

// Tracker lists the pull requests linked to a ticket.
type Tracker interface {
	LinkedPullRequests(ctx context.Context, ticket string) ([]types.PullRequest, error)
}

// Config selects and authenticates the tracker.
type Config struct {
	Provider       string
	ShortcutToken  string
	ClubhouseToken string
	// Endpoint overrides the story API base URL.
	Endpoint string
	Host     githost.Host
	Client   *http.Client
	Logger   zerolog.Logger
}

// New returns the Tracker for cfg.Provider.
func New(cfg Config) (Tracker, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	s := &storyTracker{
		host:   cfg.Host,
		client: client,
		log:    cfg.Logger.With().Str("component", "tracker").Str("provider", cfg.Provider).Logger(),
	}
	switch Provider(strings.ToLower(cfg.Provider)) {
	case ProviderShortcut:
		if cfg.ShortcutToken == "" {
			return nil, &MissingTokenError{Provider: ProviderShortcut, Env: "SHORTCUT_API_TOKEN"}
		}
		s.prefix = "sc-"
		s.endpoint = orDefault(cfg.Endpoint, "https://api.app.shortcut.com/api/v3/stories/")
		s.authorize = func(req *http.Request) {
			req.Header.Set("Shortcut-Token", cfg.ShortcutToken)
		}
	case ProviderClubhouse:
		if cfg.ClubhouseToken == "" {
			return nil, &MissingTokenError{Provider: ProviderClubhouse, Env: "CH_TOKEN"}
		}
		s.prefix = "ch"
		s.endpoint = orDefault(cfg.Endpoint, "https://api.clubhouse.io/api/v3/stories/")
		s.authorize = func(req *http.Request) {
			q := req.URL.Query()
			q.Set("token", cfg.ClubhouseToken)
			req.URL.RawQuery = q.Encode()
		}
	default:
		return nil, &UnsupportedProviderError{Name: cfg.Provider}
	}
	return s, nil
}

// storyTracker serves trackers exposing Shortcut-style story documents,
// whose branches list their pull request URLs.
type storyTracker struct {
	prefix    string
	endpoint  string
	authorize func(*http.Request)
	host      githost.Host
	client    *http.Client
	log       zerolog.Logger
}

type story struct {
	Branches []struct {
		PullRequests []struct {
			URL string `json:"url"`
		} `json:"pull_requests"`
	} `json:"branches"`
}

func (s *storyTracker) LinkedPullRequests(ctx context.Context, ticket string) ([]types.PullRequest, error) {
	id := strings.TrimPrefix(ticket, s.prefix)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.endpoint, "/")+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch story %s: %w", ticket, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch story %s: %s: %s", ticket, resp.Status, strings.TrimSpace(string(msg)))
	}

	var st story
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode story %s: %w", ticket, err)
	}

	var prs []types.PullRequest
	for _, branch := range st.Branches {
		for _, link := range branch.PullRequests {
			pr, err := s.host.PullRequest(ctx, link.URL)
			if err != nil {
				return nil, err
			}
			prs = append(prs, pr)
		}
	}
	s.log.Debug().Str("ticket", ticket).Int("pull_requests", len(prs)).Msg("resolved linked pull requests")
	return prs, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
