package types

import "time"

// ActionType records whether a release or deploy was written by a person or a pipeline.
type ActionType string

const (
	// ActionManual marks writes made by an operator.
	ActionManual ActionType = "manual"
	// ActionAutomated marks writes made by CI or other tooling.
	ActionAutomated ActionType = "automated"
)

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	return a == ActionManual || a == ActionAutomated
}

// Release captures one stored version of a project's release or deploy record.
type Release struct {
	Version    int        `json:"version"`
	Commit     string     `json:"commit"`
	VersionID  string     `json:"version_id"`
	Image      *string    `json:"image"`
	Timestamp  time.Time  `json:"timestamp"`
	Author     *string    `json:"author"`
	Changelog  string     `json:"changelog"`
	Rollback   bool       `json:"rollback"`
	ActionType ActionType `json:"action_type"`
	Commits    []string   `json:"commits,omitempty"`
}

// AuthorName returns the author or an empty string when unknown.
func (r Release) AuthorName() string {
	if r.Author == nil {
		return ""
	}
	return *r.Author
}

// ImageRef returns the image or an empty string when the project has none.
func (r Release) ImageRef() string {
	if r.Image == nil {
		return ""
	}
	return *r.Image
}

// Signature identifies a commit author.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is a source-control commit as seen by the changelog engine.
type Commit struct {
	ID      string    `json:"id"`
	ShortID string    `json:"short_id"`
	Author  Signature `json:"author"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	Parents []string  `json:"parents,omitempty"`
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// PullRequestState mirrors the pull request states exposed by git hosts.
type PullRequestState string

const (
	PullRequestOpen   PullRequestState = "OPEN"
	PullRequestMerged PullRequestState = "MERGED"
	PullRequestClosed PullRequestState = "CLOSED"
)

// PullRequest is a pull request linked to an issue tracker ticket.
type PullRequest struct {
	ID          string           `json:"id"`
	Repo        string           `json:"repo"`
	Title       string           `json:"title"`
	State       PullRequestState `json:"state"`
	MergeCommit string           `json:"merge_commit,omitempty"`
}
