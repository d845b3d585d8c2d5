package swapmode

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
)

// DonationSwapMode subscribes to the validated donation feed and converts
// each matching donation into a batch of swap triggers: one swap for the
// first currency unit, one more for every two units after that, capped at
// MaxSwapsPerDonation.
type DonationSwapMode struct {
	mu         sync.Mutex
	sink       Sink
	campaignId string
	sub        *feed.Subscription
}

// NewDonationSwapMode accepts a campaign id, or "*" to match any campaign.
func NewDonationSwapMode(campaignId string, donations *feed.DonationFeed) (*DonationSwapMode, error) {
	if campaignId == "" {
		return nil, fmt.Errorf("donation swap mode requires a campaign id (or \"*\")")
	}
	if donations == nil {
		return nil, fmt.Errorf("donation swap mode requires a donation feed")
	}

	d := &DonationSwapMode{campaignId: campaignId}
	d.sub = donations.Subscribe(d.onDonation)
	return d, nil
}

func (d *DonationSwapMode) Bind(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

func (d *DonationSwapMode) Cleanup() {
	d.sub.Unsubscribe()
}

func (d *DonationSwapMode) onDonation(event internal.DonationEvent) {
	if event.CampaignId != d.campaignId && d.campaignId != "*" {
		log.Printf("[DonationSwapMode] Campaign id %s did not match, skipping", event.CampaignId)
		return
	}

	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink == nil {
		log.Printf("[DonationSwapMode] Donation matched but no sink bound, skipping")
		return
	}

	count := SwapsForAmount(event.Amount)
	if count < 1 {
		log.Printf("[DonationSwapMode] Donation of %.2f %s below swap threshold, skipping", event.Amount, event.Currency)
		return
	}

	info := fmt.Sprintf("Donation: %.2f %s", event.Amount, event.Currency)
	labels := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		labels = append(labels, fmt.Sprintf("%s (%d/%d)", info, i, count))
	}
	log.Printf("[DonationSwapMode] Donation %s triggers %d swap(s)", event.Id, count)
	sink(labels)
}

// SwapsForAmount maps a donation amount to a swap count. Cents are dropped
// first, then: 1-2 units = 1 swap, 3-4 = 2, 5-6 = 3, and so on, capped.
func SwapsForAmount(amount float64) int {
	count := int(math.Ceil(math.Floor(amount) / 2))
	if count > internal.MaxSwapsPerDonation {
		return internal.MaxSwapsPerDonation
	}
	return count
}
