package rank

import (
	"testing"

	"github.com/openclub/kudos/internal/models"
	"github.com/stretchr/testify/require"
)

var table = []models.RankThreshold{
	{Rank: 1, MinXP: 0, Label: "Newcomer"},
	{Rank: 2, MinXP: 100, Label: "Contributor"},
	{Rank: 3, MinXP: 500, Label: "Regular"},
}

func TestComputeBoundaries(t *testing.T) {
	tests := []struct {
		xp   int64
		want int
	}{
		{0, 1},
		{99, 1},
		{100, 2}, // exactly at a threshold counts
		{499, 2},
		{500, 3},
		{1_000_000, 3},
	}
	for _, tt := range tests {
		got := Compute(tt.xp, table)
		require.Equal(t, tt.want, got.Rank, "xp=%d", tt.xp)
	}
}

func TestComputeLowestRankWhenNoneMatch(t *testing.T) {
	// A table starting above zero still gives low users a rank.
	high := []models.RankThreshold{
		{Rank: 1, MinXP: 50, Label: "Bronze"},
		{Rank: 2, MinXP: 200, Label: "Silver"},
	}
	require.Equal(t, "Bronze", Compute(0, high).Label)
	require.Equal(t, "Bronze", Compute(-10, high).Label)
}

func TestComputeEmptyTable(t *testing.T) {
	got := Compute(1000, nil)
	require.Equal(t, 1, got.Rank)
}

func TestComputeMonotonic(t *testing.T) {
	prev := 0
	for xp := int64(0); xp <= 600; xp++ {
		r := Compute(xp, table).Rank
		require.GreaterOrEqual(t, r, prev, "rank regressed at xp=%d", xp)
		prev = r
	}
}

func TestToNext(t *testing.T) {
	next := ToNext(0, table)
	require.NotNil(t, next)
	require.Equal(t, "Contributor", next.Rank.Label)
	require.Equal(t, int64(100), next.XPNeeded)

	next = ToNext(85, table)
	require.NotNil(t, next)
	require.Equal(t, int64(15), next.XPNeeded)

	// At the top rank there is nothing next.
	require.Nil(t, ToNext(500, table))
	require.Nil(t, ToNext(99999, table))
}
