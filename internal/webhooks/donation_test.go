package webhooks

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
)

const (
	testWebhookId = "endpoint-1"
	testSecret    = "top-secret"
)

type capturedEvents struct {
	mu     sync.Mutex
	events []internal.DonationEvent
}

func (c *capturedEvents) add(event internal.DonationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *capturedEvents) all() []internal.DonationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]internal.DonationEvent(nil), c.events...)
}

func newTestWebhook(t *testing.T) (*DonationWebhook, *capturedEvents) {
	t.Helper()
	donations := feed.NewDonationFeed()
	captured := &capturedEvents{}
	sub := donations.Subscribe(captured.add)
	t.Cleanup(sub.Unsubscribe)
	return NewDonationWebhook(testWebhookId, testSecret, donations), captured
}

func donationBody(eventId, campaignId, value string) []byte {
	return []byte(fmt.Sprintf(`{
		"data": {
			"amount": {"currency": "EUR", "value": %q},
			"campaign_id": %q,
			"donor_name": "generous-person"
		},
		"meta": {"id": %q, "event_type": "public:direct:donation_updated"}
	}`, value, campaignId, eventId))
}

func signedRequest(body []byte, mutate func(*http.Request)) *http.Request {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, "/webhook/donation", bytes.NewReader(body))
	req.Header.Set("User-Agent", expectedUserAgent)
	req.Header.Set(headerEndpoint, testWebhookId)
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, Signature(testSecret, timestamp, body))
	if mutate != nil {
		mutate(req)
	}
	return req
}

func serve(webhook *DonationWebhook, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	webhook.HandleWebhook(recorder, req)
	return recorder
}

func TestValidDonationIsPublished(t *testing.T) {
	webhook, captured := newTestWebhook(t)

	resp := serve(webhook, signedRequest(donationBody("evt-1", "c1", "12.50"), nil))
	require.Equal(t, http.StatusOK, resp.Code)

	events := captured.all()
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].Id)
	assert.Equal(t, "c1", events[0].CampaignId)
	assert.Equal(t, "generous-person", events[0].DonorName)
	assert.Equal(t, 12.50, events[0].Amount)
	assert.Equal(t, "EUR", events[0].Currency)
}

func TestRejectionPaths(t *testing.T) {
	body := donationBody("evt-2", "c1", "5.00")
	cases := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"wrong user agent", func(r *http.Request) { r.Header.Set("User-Agent", "curl/8.0") }},
		{"wrong endpoint", func(r *http.Request) { r.Header.Set(headerEndpoint, "endpoint-2") }},
		{"missing timestamp", func(r *http.Request) { r.Header.Del(headerTimestamp) }},
		{"tampered signature", func(r *http.Request) { r.Header.Set(headerSignature, "bm9wZQ==") }},
		{"future timestamp", func(r *http.Request) {
			future := time.Now().Add(5 * time.Minute).UTC().Format(time.RFC3339)
			r.Header.Set(headerTimestamp, future)
			r.Header.Set(headerSignature, Signature(testSecret, future, body))
		}},
		{"stale timestamp", func(r *http.Request) {
			stale := time.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
			r.Header.Set(headerTimestamp, stale)
			r.Header.Set(headerSignature, Signature(testSecret, stale, body))
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			webhook, captured := newTestWebhook(t)
			resp := serve(webhook, signedRequest(body, c.mutate))
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Empty(t, captured.all())
		})
	}
}

func TestSignatureCoversBody(t *testing.T) {
	webhook, captured := newTestWebhook(t)

	// Sign one body, send another.
	req := signedRequest(donationBody("evt-3", "c1", "5.00"), nil)
	tampered := donationBody("evt-3", "c1", "5000.00")
	req.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(tampered)).Body

	resp := serve(webhook, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, captured.all())
}

func TestDuplicateEventIdsAreAcceptedOnce(t *testing.T) {
	webhook, captured := newTestWebhook(t)

	resp := serve(webhook, signedRequest(donationBody("evt-4", "c1", "3.00"), nil))
	require.Equal(t, http.StatusOK, resp.Code)
	resp = serve(webhook, signedRequest(donationBody("evt-4", "c1", "3.00"), nil))
	assert.Equal(t, http.StatusOK, resp.Code, "duplicates are acknowledged, not retried")

	assert.Len(t, captured.all(), 1)
}

func TestDuplicateWindowExpires(t *testing.T) {
	webhook, captured := newTestWebhook(t)

	current := time.Now()
	webhook.now = func() time.Time { return current }

	timestamp := current.UTC().Format(time.RFC3339)
	body := donationBody("evt-5", "c1", "3.00")
	send := func() *httptest.ResponseRecorder {
		timestamp = current.UTC().Format(time.RFC3339)
		req := httptest.NewRequest(http.MethodPost, "/webhook/donation", bytes.NewReader(body))
		req.Header.Set("User-Agent", expectedUserAgent)
		req.Header.Set(headerEndpoint, testWebhookId)
		req.Header.Set(headerTimestamp, timestamp)
		req.Header.Set(headerSignature, Signature(testSecret, timestamp, body))
		return serve(webhook, req)
	}

	require.Equal(t, http.StatusOK, send().Code)
	current = current.Add(seenEventTTL + time.Second)
	require.Equal(t, http.StatusOK, send().Code)

	assert.Len(t, captured.all(), 2, "an expired event id may be processed again")
}

func TestNonDonationEventTypesAreIgnored(t *testing.T) {
	webhook, captured := newTestWebhook(t)

	body := []byte(`{
		"data": {"amount": {"currency": "EUR", "value": "9.00"}, "campaign_id": "c1"},
		"meta": {"id": "evt-6", "event_type": "public:campaign_updated"}
	}`)
	resp := serve(webhook, signedRequest(body, nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, captured.all())
}
