package swapmode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
)

func TestFactory(t *testing.T) {
	donations := feed.NewDonationFeed()

	mode, err := New(internal.SwapModeConfig{SwapMode: internal.SwapModeManual}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ManualSwapMode{}, mode)

	mode, err = New(internal.SwapModeConfig{SwapMode: internal.SwapModeTimer, ExtraData: "3|10"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TimerSwapMode{}, mode)
	mode.Cleanup()

	mode, err = New(internal.SwapModeConfig{SwapMode: internal.SwapModeDonation, ExtraData: "c1"}, donations)
	require.NoError(t, err)
	assert.IsType(t, &DonationSwapMode{}, mode)
	mode.Cleanup()

	_, err = New(internal.SwapModeConfig{SwapMode: "lunar-phase"}, nil)
	assert.Error(t, err)
}

func TestTimerSwapModeRejectsBadConfig(t *testing.T) {
	for _, config := range []string{"", "10", "a|b", "0|5", "10|3"} {
		_, err := NewTimerSwapMode(config)
		assert.Error(t, err, "config %q should be rejected", config)
	}
}

func TestTimerSwapModeFiresAndReschedules(t *testing.T) {
	mode, err := NewTimerSwapMode("1|1")
	require.NoError(t, err)
	defer mode.Cleanup()

	var mu sync.Mutex
	fired := 0
	mode.Bind(func(labels []string) {
		mu.Lock()
		defer mu.Unlock()
		fired++
		assert.Equal(t, []string{"Timer Swap Event"}, labels)
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired >= 2
	}, 5*time.Second, 50*time.Millisecond, "timer should fire repeatedly")
}

func TestTimerSwapModeCleanupStopsFiring(t *testing.T) {
	mode, err := NewTimerSwapMode("1|1")
	require.NoError(t, err)

	var mu sync.Mutex
	fired := 0
	mode.Bind(func([]string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	mode.Cleanup()

	time.Sleep(1500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, fired)
}

func TestDonationSwapModeBatchSize(t *testing.T) {
	donations := feed.NewDonationFeed()
	mode, err := NewDonationSwapMode("c1", donations)
	require.NoError(t, err)
	defer mode.Cleanup()

	var batches [][]string
	mode.Bind(func(labels []string) {
		batches = append(batches, labels)
	})

	donations.Publish(internal.DonationEvent{Id: "evt-1", CampaignId: "c1", Amount: 5.00, Currency: "EUR"})

	require.Len(t, batches, 1, "one donation should produce one batch")
	assert.Len(t, batches[0], 3, "5.00 should buy exactly 3 swaps")
	assert.Equal(t, "Donation: 5.00 EUR (1/3)", batches[0][0])
	assert.Equal(t, "Donation: 5.00 EUR (3/3)", batches[0][2])
}

func TestDonationSwapModeCampaignFilter(t *testing.T) {
	donations := feed.NewDonationFeed()
	mode, err := NewDonationSwapMode("c1", donations)
	require.NoError(t, err)
	defer mode.Cleanup()

	triggered := false
	mode.Bind(func([]string) { triggered = true })

	donations.Publish(internal.DonationEvent{Id: "evt-2", CampaignId: "other", Amount: 10})
	assert.False(t, triggered, "non-matching campaign must not trigger")

	wildcard, err := NewDonationSwapMode("*", donations)
	require.NoError(t, err)
	defer wildcard.Cleanup()
	wildcard.Bind(func([]string) { triggered = true })

	donations.Publish(internal.DonationEvent{Id: "evt-3", CampaignId: "whatever", Amount: 2})
	assert.True(t, triggered, "wildcard campaign accepts anything")
}

func TestSwapsForAmount(t *testing.T) {
	cases := []struct {
		amount float64
		swaps  int
	}{
		{0.99, 0},
		{1.00, 1},
		{2.50, 1},
		{3.00, 2},
		{5.00, 3},
		{6.99, 3},
		{100.00, 50},
		{1000.00, 50},
	}
	for _, c := range cases {
		assert.Equal(t, c.swaps, SwapsForAmount(c.amount), "amount %.2f", c.amount)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	donations := feed.NewDonationFeed()
	mode, err := NewDonationSwapMode("*", donations)
	require.NoError(t, err)

	count := 0
	mode.Bind(func([]string) { count++ })
	mode.Cleanup()

	donations.Publish(internal.DonationEvent{Id: "evt-4", CampaignId: "c1", Amount: 4})
	assert.Zero(t, count)
}
