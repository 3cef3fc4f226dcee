package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocbot/ocbot/pkg/persistence"
	"github.com/ocbot/ocbot/pkg/types"
)

func TestApplySubscriptionOverrides(t *testing.T) {
	ps := persistence.NewMemoryService()

	threshold := 2.5
	stall := int64(45)
	require.NoError(t, ps.NewStore("subscription", "7").Save(subscriptionOverride{
		Threshold:    &threshold,
		StallSeconds: &stall,
	}))

	subs := applySubscriptionOverrides(ps, []types.Subscription{
		{ID: 7, Symbol: "BTCUSDT", Threshold: 1.0},
		{ID: 8, Symbol: "ETHUSDT", Threshold: 1.0},
	})

	assert.Equal(t, 2.5, subs[0].Threshold)
	assert.Equal(t, types.Duration(45*time.Second), subs[0].StallDuration)

	// no stored override: the row stays untouched
	assert.Equal(t, 1.0, subs[1].Threshold)
}

func TestFilterSupportedSubscriptions(t *testing.T) {
	subs := filterSupportedSubscriptions([]types.Subscription{
		{ID: 1, Symbol: "BTCUSDT", Interval: types.Interval1m},
		{ID: 2, Symbol: "BTCUSDT", Interval: types.Interval("1M")},
		{ID: 3, Symbol: "ETHUSDT", Interval: types.Interval6h},
	})

	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].ID)
	assert.Equal(t, int64(3), subs[1].ID)
}

func TestCollectSubscriptionTargets(t *testing.T) {
	symbols, intervals := collectSubscriptionTargets([]types.Subscription{
		{Symbol: "BTCUSDT", Interval: types.Interval1m},
		{Symbol: "BTCUSDT", Interval: types.Interval5m},
		{Symbol: "ETHUSDT", Interval: types.Interval1m},
	})

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
	assert.Equal(t, []types.Interval{types.Interval1m, types.Interval5m}, intervals)
}
