package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/types"
)

const unavailableChangelog = "<changelog unavailable>"

var requiredKeys = []string{"version", "commit", "image", "author"}

// InvalidReleaseError reports a stored object that is not a usable release.
type InvalidReleaseError struct {
	Key       string
	VersionID string
	Reason    string
	Err       error
}

func (e *InvalidReleaseError) Error() string {
	msg := "invalid release"
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.VersionID != "" {
		msg += "@" + e.VersionID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidReleaseError) Unwrap() error {
	return e.Err
}

// record is the persisted JSON shape of a release.
type record struct {
	Version    int               `json:"version"`
	Commit     *string           `json:"commit"`
	Image      *string           `json:"image"`
	Author     *string           `json:"author"`
	Changelog  *string           `json:"changelog"`
	Rollback   bool              `json:"rollback"`
	ActionType *types.ActionType `json:"action_type"`
	Commits    []string          `json:"commits"`
}

// Parse decodes a stored object into a Release. The version id and timestamp
// come from the object's store metadata, never from the body.
func Parse(obj storage.Object) (types.Release, error) {
	invalid := func(reason string, err error) error {
		return &InvalidReleaseError{Key: obj.Key, VersionID: obj.VersionID, Reason: reason, Err: err}
	}

	if obj.VersionID == "" || obj.VersionID == "null" {
		// written while the bucket had versioning disabled
		return types.Release{}, invalid("object has no version id", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(obj.Body, &fields); err != nil {
		return types.Release{}, invalid("invalid JSON data", err)
	}
	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			return types.Release{}, invalid(fmt.Sprintf("missing property %q", k), nil)
		}
	}

	var rec record
	if err := json.Unmarshal(obj.Body, &rec); err != nil {
		return types.Release{}, invalid("invalid JSON data", err)
	}
	if rec.Version <= 0 {
		return types.Release{}, invalid(fmt.Sprintf("version %d is not positive", rec.Version), nil)
	}

	release := types.Release{
		Version:   rec.Version,
		VersionID: obj.VersionID,
		Image:     rec.Image,
		Timestamp: obj.LastModified,
		Author:    rec.Author,
		Changelog: unavailableChangelog,
		Rollback:  rec.Rollback,
		Commits:   rec.Commits,
	}
	if rec.Commit != nil {
		release.Commit = *rec.Commit
	}
	if rec.Changelog != nil {
		release.Changelog = *rec.Changelog
	}

	switch {
	case rec.ActionType == nil:
		release.ActionType = inferActionType(rec.Author)
	case rec.ActionType.Valid():
		release.ActionType = *rec.ActionType
	default:
		return types.Release{}, invalid(fmt.Sprintf("unknown action_type %q", *rec.ActionType), nil)
	}

	return release, nil
}

// Marshal encodes release in its persisted form. action_type is always written.
func Marshal(release types.Release) ([]byte, error) {
	return json.Marshal(toRecord(release))
}

func toRecord(release types.Release) record {
	action := release.ActionType
	if action == "" {
		action = inferActionType(release.Author)
	}
	commit := release.Commit
	changelog := release.Changelog
	return record{
		Version:    release.Version,
		Commit:     &commit,
		Image:      release.Image,
		Author:     release.Author,
		Changelog:  &changelog,
		Rollback:   release.Rollback,
		ActionType: &action,
		Commits:    release.Commits,
	}
}

// inferActionType classifies legacy records that predate action_type.
func inferActionType(author *string) types.ActionType {
	if author == nil {
		return types.ActionAutomated
	}
	return types.ActionManual
}
