package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

func testMessage() *loanmaster.OutboxMessage {
	return &loanmaster.OutboxMessage{
		ID:          "msg-1",
		AggregateID: "loan-1",
		EventType:   "LoanFunded",
		Payload:     []byte(`{"loanId":"loan-1","amount":500000}`),
		Headers: map[string]string{
			"eventId":     "evt-1",
			"eventType":   "LoanFunded",
			"aggregateId": "loan-1",
			"version":     "4",
		},
	}
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("posts payload with forwarded headers", func(t *testing.T) {
		var gotBody []byte
		var gotHeader http.Header
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotBody, _ = io.ReadAll(r.Body)
			gotHeader = r.Header.Clone()
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		publisher := New(WithDefaultHeaders(map[string]string{"Authorization": "Bearer token-1"}))
		dest := loanmaster.Destination{Scheme: "webhook", Target: server.URL}

		require.NoError(t, publisher.Publish(context.Background(), dest, testMessage()))
		assert.JSONEq(t, `{"loanId":"loan-1","amount":500000}`, string(gotBody))
		assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
		assert.Equal(t, "Bearer token-1", gotHeader.Get("Authorization"))
		assert.Equal(t, "LoanFunded", gotHeader.Get("X-Outbox-eventType"))
		assert.Equal(t, "loan-1", gotHeader.Get("X-Outbox-aggregateId"))
		assert.Equal(t, "4", gotHeader.Get("X-Outbox-version"))
	})

	t.Run("4xx and 5xx responses are errors", func(t *testing.T) {
		for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError} {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))

			publisher := New()
			dest := loanmaster.Destination{Scheme: "webhook", Target: server.URL}
			err := publisher.Publish(context.Background(), dest, testMessage())
			assert.Error(t, err)
			server.Close()
		}
	})

	t.Run("unreachable target", func(t *testing.T) {
		publisher := New()
		dest := loanmaster.Destination{Scheme: "webhook", Target: "http://127.0.0.1:1"}
		err := publisher.Publish(context.Background(), dest, testMessage())
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		publisher := New()
		dest := loanmaster.Destination{Scheme: "webhook", Target: server.URL}
		err := publisher.Publish(ctx, dest, testMessage())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPublisher_Scheme(t *testing.T) {
	assert.Equal(t, "webhook", New().Scheme())
}
