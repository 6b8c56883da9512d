package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petri/pkg/domain"
)

func marketTree(id domain.TreeID, owner int64, health int, species domain.Species, nickname string, day int) domain.TreeRecord {
	rec := record(id, owner, health)
	rec.Species = species
	rec.Nickname = nickname
	rec.PlantingDate = plantedAt.Add(time.Duration(day) * 24 * time.Hour)
	return rec
}

// newMarketFixture lists every tree but 5; tree 1 belongs to the signed-in user.
func newMarketFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(
		marketTree(1, 1, 95, domain.SpeciesOak, "Mine", 5),
		marketTree(2, 7, 95, domain.SpeciesPine, "Pip", 4),
		marketTree(3, 7, 89, domain.SpeciesMaple, "Red", 3),
		marketTree(4, 8, 72, domain.SpeciesOak, "Olive", 2),
		marketTree(5, 8, 60, domain.SpeciesElm, "Kept", 1),
		marketTree(6, 9, 40, domain.SpeciesBirch, "Silver", 0),
	)
	f.refresh(t)
	for id, price := range map[domain.TreeID]float64{1: 50, 2: 30, 3: 25, 4: 10, 6: 20} {
		_, err := f.sync.ListForSale(ctx, id, price)
		require.NoError(t, err)
	}
	return f
}

func TestMarketplaceDefaultsToNewestOffers(t *testing.T) {
	f := newMarketFixture(t)
	offers, err := f.sync.Marketplace(MarketFilter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.TreeID{2, 3, 4, 6}, ids(offers), "own and unlisted trees excluded")
}

func TestMarketplaceFilters(t *testing.T) {
	f := newMarketFixture(t)
	cases := []struct {
		name   string
		filter MarketFilter
		want   []domain.TreeID
	}{
		{"excellent", MarketFilter{Health: HealthExcellent}, []domain.TreeID{2}},
		{"good", MarketFilter{Health: HealthGood}, []domain.TreeID{3, 4}},
		{"fair", MarketFilter{Health: HealthFair}, []domain.TreeID{6}},
		{"all", MarketFilter{Health: HealthAll}, []domain.TreeID{2, 3, 4, 6}},
		{"species", MarketFilter{Query: "OAK"}, []domain.TreeID{4}},
		{"nickname", MarketFilter{Query: "silv"}, []domain.TreeID{6}},
		{"no match", MarketFilter{Query: "baobab"}, []domain.TreeID{}},
		{"price", MarketFilter{Sort: SortPrice}, []domain.TreeID{4, 6, 3, 2}},
		{"health", MarketFilter{Sort: SortHealth}, []domain.TreeID{2, 3, 4, 6}},
		{"combined", MarketFilter{Query: "o", Health: HealthGood, Sort: SortPrice}, []domain.TreeID{4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			offers, err := f.sync.Marketplace(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(offers))
		})
	}
}

func TestMarketplaceUnpricedListingSortsFirst(t *testing.T) {
	f := newMarketFixture(t)
	f.sync.mu.Lock()
	f.sync.trees[f.sync.indexOf(2)].Price = nil
	f.sync.mu.Unlock()

	offers, err := f.sync.Marketplace(MarketFilter{Sort: SortPrice})
	require.NoError(t, err)
	assert.Equal(t, []domain.TreeID{2, 4, 6, 3}, ids(offers))
}

func TestMarketplaceRejectsUnknownFilter(t *testing.T) {
	f := newMarketFixture(t)
	_, err := f.sync.Marketplace(MarketFilter{Health: "great"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.sync.Marketplace(MarketFilter{Sort: "oldest"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMarketplaceAfterPurchase(t *testing.T) {
	f := newMarketFixture(t)
	_, err := f.sync.Buy(context.Background(), 4)
	require.NoError(t, err)
	offers, err := f.sync.Marketplace(MarketFilter{})
	require.NoError(t, err)
	assert.Equal(t, []domain.TreeID{2, 3, 6}, ids(offers))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 90), record(2, 1, 75), record(3, 1, 60), record(4, 7, 10))
	f.refresh(t)
	_, err := f.sync.CompleteLesson(ctx, 1, "roots")
	require.NoError(t, err)
	_, err = f.sync.CompleteLesson(ctx, 2, "leaves")
	require.NoError(t, err)
	_, err = f.sync.ListForSale(ctx, 3, 12.5)
	require.NoError(t, err)

	st := f.sync.Stats(testUser)
	assert.Equal(t, ProfileStats{Trees: 3, Owned: 2, Listed: 1, AverageHealth: 75, Stewardship: 10, ListedValue: 12.5}, st)

	assert.Equal(t, ProfileStats{}, f.sync.Stats(domain.User{ID: 99}))
}

func TestStatsRoundsAverageHealth(t *testing.T) {
	f := newFixture(t)
	f.remote.setTrees(record(1, 1, 90), record(2, 1, 81))
	f.refresh(t)
	assert.Equal(t, 86, f.sync.Stats(testUser).AverageHealth)
}
