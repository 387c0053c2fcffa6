package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name + "/" + string(r.Type)
	}
	return out
}

func TestSort(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{
		{Name: "web", Type: TypeRelease, Version: 3, Timestamp: base.Add(2 * time.Hour)},
		{Name: "api", Type: TypeDeploy, Version: 7, Timestamp: base},
		{Name: "api", Type: TypeRelease, Version: 7, Timestamp: base.Add(time.Hour)},
	}

	require.NoError(t, Sort(rows, []string{"version"}, false))
	assert.Equal(t, []string{"web/release", "api/deploy", "api/release"}, names(rows))

	require.NoError(t, Sort(rows, []string{"name", "type"}, false))
	assert.Equal(t, []string{"api/deploy", "api/release", "web/release"}, names(rows))

	require.NoError(t, Sort(rows, []string{"timestamp"}, true))
	assert.Equal(t, []string{"web/release", "api/release", "api/deploy"}, names(rows))
}

func TestSortWithoutKeysKeepsOrder(t *testing.T) {
	rows := []Row{{Name: "b"}, {Name: "a"}}
	require.NoError(t, Sort(rows, nil, true))
	assert.Equal(t, "b", rows[0].Name)
}

func TestSortRejectsUnknownKey(t *testing.T) {
	rows := []Row{{Name: "b"}, {Name: "a"}}
	err := Sort(rows, []string{"name", "colour"}, false)

	var invalid *InvalidSortKeyError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "colour", invalid.Key)
	assert.Equal(t, "b", rows[0].Name)
}
