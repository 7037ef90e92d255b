package memory

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

func rec(date civil.Date, raceNo int, place string) crawler.RaceRecord {
	return crawler.RaceRecord{Date: date, RaceNo: raceNo, Place: place, HorseName: "馬" + place, WinOdds: 4.5}
}

var (
	mar3  = civil.Date{Year: 2024, Month: 3, Day: 3}
	mar10 = civil.Date{Year: 2024, Month: 3, Day: 10}
)

func TestRaceStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewRaceStore()
	in := []crawler.RaceRecord{rec(mar10, 2, "1"), rec(mar10, 1, "1"), rec(mar3, 5, "1"), rec(mar10, 1, "2")}
	require.NoError(t, store.BulkInsert(ctx, in))

	all, err := store.ListRaces(ctx)
	require.NoError(t, err)
	require.Equal(t, []crawler.RaceRecord{
		rec(mar3, 5, "1"),
		rec(mar10, 1, "1"),
		rec(mar10, 1, "2"),
		rec(mar10, 2, "1"),
	}, all)
}

func TestRaceStoreIsRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewRaceStore()
	require.NoError(t, store.BulkInsert(ctx, []crawler.RaceRecord{rec(mar10, 3, "1")}))

	ok, err := store.IsRecorded(ctx, mar10, 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.IsRecorded(ctx, mar10, 4)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.IsRecorded(ctx, mar3, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRaceStoreListByDate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewRaceStore()
	require.NoError(t, store.BulkInsert(ctx, []crawler.RaceRecord{
		rec(mar10, 2, "1"), rec(mar3, 1, "1"), rec(mar10, 1, "1"),
	}))

	day, err := store.ListRacesByDate(ctx, mar10, nil)
	require.NoError(t, err)
	require.Len(t, day, 2)
	require.Equal(t, 1, day[0].RaceNo)

	two := 2
	race, err := store.ListRacesByDate(ctx, mar10, &two)
	require.NoError(t, err)
	require.Equal(t, []crawler.RaceRecord{rec(mar10, 2, "1")}, race)

	none, err := store.ListRacesByDate(ctx, civil.Date{Year: 2023, Month: 1, Day: 1}, nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRaceStoreAllowsDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewRaceStore()
	require.NoError(t, store.BulkInsert(ctx, []crawler.RaceRecord{rec(mar10, 1, "1")}))
	require.NoError(t, store.BulkInsert(ctx, []crawler.RaceRecord{rec(mar10, 1, "1")}))
	require.Equal(t, 2, store.Len())
	require.NoError(t, store.Ping(ctx))
}
