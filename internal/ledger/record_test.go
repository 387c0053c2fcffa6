package ledger

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onexay/catapult/internal/storage"
	"github.com/onexay/catapult/internal/types"
)

func object(body string) storage.Object {
	return storage.Object{
		Key:          "api",
		Body:         []byte(body),
		VersionID:    "3HL4kqtJlcpXroDTDmJ",
		LastModified: time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestParseLegacyRecord(t *testing.T) {
	r, err := Parse(object(`{"version": 3, "commit": "abc", "image": "sha256:1", "author": "dev@example.com"}`))
	require.NoError(t, err)

	assert.Equal(t, 3, r.Version)
	assert.Equal(t, "abc", r.Commit)
	assert.Equal(t, "3HL4kqtJlcpXroDTDmJ", r.VersionID)
	assert.Equal(t, time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, "<changelog unavailable>", r.Changelog)
	assert.Equal(t, types.ActionManual, r.ActionType)
	assert.False(t, r.Rollback)
	assert.Nil(t, r.Commits)
}

func TestParseInfersAutomatedWithoutAuthor(t *testing.T) {
	r, err := Parse(object(`{"version": 3, "commit": "abc", "image": null, "author": null}`))
	require.NoError(t, err)
	assert.Equal(t, types.ActionAutomated, r.ActionType)
	assert.Nil(t, r.Image)
	assert.Nil(t, r.Author)
}

func TestParseToleratesNullCommit(t *testing.T) {
	r, err := Parse(object(`{"version": 1, "commit": null, "image": null, "author": "a"}`))
	require.NoError(t, err)
	assert.Empty(t, r.Commit)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]struct {
		body      string
		versionID string
		reason    string
	}{
		"bad json":         {body: `{"version":`, reason: "invalid JSON"},
		"missing version":  {body: `{"commit":"a","image":null,"author":"a"}`, reason: `"version"`},
		"missing commit":   {body: `{"version":1,"image":null,"author":"a"}`, reason: `"commit"`},
		"missing image":    {body: `{"version":1,"commit":"a","author":"a"}`, reason: `"image"`},
		"missing author":   {body: `{"version":1,"commit":"a","image":null}`, reason: `"author"`},
		"zero version":     {body: `{"version":0,"commit":"a","image":null,"author":"a"}`, reason: "not positive"},
		"unknown action":   {body: `{"version":1,"commit":"a","image":null,"author":"a","action_type":"robot"}`, reason: "action_type"},
		"unversioned":      {body: releaseBody(1), versionID: "null", reason: "no version id"},
		"empty version id": {body: releaseBody(1), versionID: "-", reason: "no version id"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			obj := object(tc.body)
			switch tc.versionID {
			case "-":
				obj.VersionID = ""
			case "":
			default:
				obj.VersionID = tc.versionID
			}

			_, err := Parse(obj)
			var invalid *InvalidReleaseError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, invalid.Error(), tc.reason)
		})
	}
}

func TestMarshalAlwaysWritesActionType(t *testing.T) {
	body, err := Marshal(types.Release{Version: 2, Commit: "abc"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, "automated", fields["action_type"])
	assert.Contains(t, fields, "image")
	assert.Contains(t, fields, "author")
	assert.Nil(t, fields["commits"])
	assert.NotContains(t, fields, "version_id")
	assert.NotContains(t, fields, "timestamp")
}

func TestDiff(t *testing.T) {
	a := types.Release{Version: 1, Commit: "aaa", Author: strptr("dev@example.com"), Changelog: "first\nshared"}
	b := a
	b.Version = 2
	b.Commit = "bbb"
	b.Changelog = "second\nshared"

	out, err := Diff(a, b)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "--- v1\n+++ v2"), out)
	assert.Contains(t, out, `-  "commit": "aaa",`)
	assert.Contains(t, out, `+  "commit": "bbb",`)
	assert.Contains(t, out, "-first")
	assert.Contains(t, out, "+second")
	assert.NotContains(t, out, "-shared")

	same, err := Diff(a, a)
	require.NoError(t, err)
	assert.Empty(t, same)
}
