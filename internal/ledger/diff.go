package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/onexay/catapult/internal/types"
)

// Diff renders a unified diff between two releases. The stored fields are
// compared as indented JSON and the changelog is compared line by line after it.
// It returns an empty string when they are identical.
func Diff(previous, current types.Release) (string, error) {
	a, err := renderForDiff(previous)
	if err != nil {
		return "", err
	}
	b, err := renderForDiff(current)
	if err != nil {
		return "", err
	}
	return computeDiff(a, b, fmt.Sprintf("v%d", previous.Version), fmt.Sprintf("v%d", current.Version)), nil
}

func renderForDiff(release types.Release) (string, error) {
	raw, err := Marshal(release)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", err
	}
	delete(fields, "changelog")

	body, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", err
	}
	return string(body) + "\n\n" + release.Changelog + "\n", nil
}

func computeDiff(previous, current, fromFile, toFile string) string {
	if previous == current {
		return ""
	}

	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(previous),
		B:        difflib.SplitLines(current),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	}

	res, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return strings.TrimSpace(current)
	}

	return strings.TrimSpace(res)
}
