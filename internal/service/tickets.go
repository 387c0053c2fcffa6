package service

import (
	"context"
	"errors"

	"github.com/onexay/catapult/internal/types"
)

// mergedCommit is the merge commit of a pull request in repo.
type mergedCommit struct {
	repo   string
	commit string
}

// TicketsFind reports which releases and deploys contain the merged pull
// requests linked to ticket. The projects listing runs once per commit.
func (a *App) TicketsFind(ctx context.Context, ticket string, opts ProjectsOptions) error {
	if a.tracker == nil {
		return errors.New("no issue tracker configured")
	}
	tr, err := a.tracker()
	if err != nil {
		return err
	}

	prs, err := tr.LinkedPullRequests(ctx, ticket)
	if err != nil {
		return err
	}
	commits := a.mergedCommits(prs)

	plural := "s"
	if len(commits) == 1 {
		plural = ""
	}
	a.out.Alert("Found %d commit%s linked to %s", len(commits), plural, ticket)

	for i, mc := range commits {
		a.out.Alert("Commit %d/%d: %s: %s", i+1, len(commits), mc.repo, mc.commit)
		opts.Contains = mc.commit
		if err := a.ProjectsList(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

// mergedCommits returns the merge commits of prs grouped by repository in
// first-seen order, warning about pull requests that are still open.
func (a *App) mergedCommits(prs []types.PullRequest) []mergedCommit {
	if len(prs) == 0 {
		a.out.Warning("No PRs linked to this ticket")
	}

	var repos []string
	byRepo := make(map[string][]string)
	for _, pr := range prs {
		switch pr.State {
		case types.PullRequestOpen:
			a.out.Warning("%s is still open", pr.ID)
		case types.PullRequestMerged:
			if _, ok := byRepo[pr.Repo]; !ok {
				repos = append(repos, pr.Repo)
			}
			byRepo[pr.Repo] = append(byRepo[pr.Repo], pr.MergeCommit)
		}
	}

	var out []mergedCommit
	for _, repo := range repos {
		for _, commit := range byRepo[repo] {
			out = append(out, mergedCommit{repo: repo, commit: commit})
		}
	}
	return out
}
