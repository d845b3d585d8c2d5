// Package webhooks receives donation notifications from the payment
// provider, verifies them and feeds validated events to the donation feed.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
)

const (
	headerTimestamp = "X-Webhook-Timestamp"
	headerSignature = "X-Webhook-Signature"
	headerEndpoint  = "X-Webhook-Endpoint"

	expectedUserAgent = "Donation Outgoing Webhook"

	// Signed timestamps older than this are replays.
	timestampMaxAge = 60 * time.Second

	// Seen event ids are kept at least this long.
	seenEventTTL = 5 * time.Minute
)

// providerEvent is the wire shape the provider posts. Amounts arrive as
// decimal strings.
type providerEvent struct {
	Data struct {
		Amount struct {
			Currency string `json:"currency"`
			Value    string `json:"value"`
		} `json:"amount"`
		CampaignId string `json:"campaign_id"`
		DonorName  string `json:"donor_name"`
	} `json:"data"`
	Meta struct {
		Id        string `json:"id"`
		EventType string `json:"event_type"`
	} `json:"meta"`
}

type DonationWebhook struct {
	webhookId string
	secret    string
	donations *feed.DonationFeed

	now func() time.Time

	mu      sync.Mutex
	seenIds map[string]time.Time // event id -> expiry
}

func NewDonationWebhook(webhookId, secret string, donations *feed.DonationFeed) *DonationWebhook {
	return &DonationWebhook{
		webhookId: webhookId,
		secret:    secret,
		donations: donations,
		now:       time.Now,
		seenIds:   make(map[string]time.Time),
	}
}

// HandleWebhook answers 200 for everything that was verified, including
// duplicates and event types we do not act on; the provider retries anything
// else. Verification failures get a 400.
func (d *DonationWebhook) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if ua := r.Header.Get("User-Agent"); ua != expectedUserAgent {
		log.Printf("[DonationWebhook] Rejected request with user agent %q", ua)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if endpoint := r.Header.Get(headerEndpoint); endpoint != d.webhookId {
		log.Printf("[DonationWebhook] Rejected request for unknown endpoint %q", endpoint)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get(headerTimestamp)
	sent, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		log.Printf("[DonationWebhook] Rejected request with unparseable timestamp %q", timestamp)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if age := d.now().Sub(sent); age < 0 || age > timestampMaxAge {
		log.Printf("[DonationWebhook] Rejected request with outdated timestamp %q", timestamp)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !d.verifySignature(timestamp, body, r.Header.Get(headerSignature)) {
		log.Printf("[DonationWebhook] Rejected request with bad signature")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var event providerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[DonationWebhook] Rejected request with malformed body: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if d.alreadySeen(event.Meta.Id) {
		log.Printf("[DonationWebhook] Duplicate event id %q, skipping", event.Meta.Id)
		w.Write([]byte("OK"))
		return
	}
	if !strings.Contains(event.Meta.EventType, "donation") {
		log.Printf("[DonationWebhook] Unsupported event type %q, skipping", event.Meta.EventType)
		w.Write([]byte("OK"))
		return
	}
	d.markSeen(event.Meta.Id)

	amount, err := strconv.ParseFloat(event.Data.Amount.Value, 64)
	if err != nil {
		log.Printf("[DonationWebhook] Event %q has unparseable amount %q, skipping", event.Meta.Id, event.Data.Amount.Value)
		w.Write([]byte("OK"))
		return
	}

	log.Printf("[DonationWebhook] Donation %q: %.2f %s for campaign %q",
		event.Meta.Id, amount, event.Data.Amount.Currency, event.Data.CampaignId)
	d.donations.Publish(internal.DonationEvent{
		Id:         event.Meta.Id,
		CampaignId: event.Data.CampaignId,
		DonorName:  event.Data.DonorName,
		Amount:     amount,
		Currency:   event.Data.Amount.Currency,
	})
	w.Write([]byte("OK"))
}

// Signature computes HMAC-SHA256 over "<timestamp>.<raw body>", base64.
func Signature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (d *DonationWebhook) verifySignature(timestamp string, body []byte, got string) bool {
	want := Signature(d.secret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(got))
}

func (d *DonationWebhook) alreadySeen(eventId string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.seenIds[eventId]
	return ok && d.now().Before(expiry)
}

func (d *DonationWebhook) markSeen(eventId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, expiry := range d.seenIds {
		if !now.Before(expiry) {
			delete(d.seenIds, id)
		}
	}
	d.seenIds[eventId] = now.Add(seenEventTTL)
}
