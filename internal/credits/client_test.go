package credits_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvai/bracket_orchestrator/internal/credits"
	"github.com/mvai/bracket_orchestrator/internal/domain"
)

func TestClient_Reserve(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/credits/reserve", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{"balance": 7})
	}))
	defer server.Close()

	client := credits.NewClient(server.URL, time.Second)

	balance, err := client.Reserve(t.Context(), "user-1", "job-1", 3, credits.ReserveKey("job-1"))

	require.NoError(t, err)
	assert.Equal(t, 7, balance)
	assert.Equal(t, "user-1", got["user_id"])
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, float64(3), got["units"])
	assert.Equal(t, "reserve:job-1", got["idempotency_key"])
}

func TestClient_Reserve_InsufficientCredits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client := credits.NewClient(server.URL, time.Second)

	_, err := client.Reserve(t.Context(), "user-1", "job-1", 3, credits.ReserveKey("job-1"))

	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
}

func TestClient_Release(t *testing.T) {
	t.Parallel()

	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"balance": 10})
	}))
	defer server.Close()

	client := credits.NewClient(server.URL, time.Second)

	err := client.Release(t.Context(), "user-1", "job-1", 2, credits.CancelReleaseKey("job-1"))

	require.NoError(t, err)
	assert.Equal(t, "/v1/credits/release", path)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := credits.NewClient(server.URL, time.Second)

	_, err := client.Reserve(t.Context(), "user-1", "job-1", 1, credits.ReserveKey("job-1"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInsufficientCredits)
}

func TestIdempotencyKeys_DistinctPerPhase(t *testing.T) {
	t.Parallel()

	keys := []string{
		credits.ReserveKey("job-1"),
		credits.RetryReserveKey("job-1", 1),
		credits.RetryReserveKey("job-1", 2),
		credits.CancelReleaseKey("job-1"),
		credits.DispatchReleaseKey("job-1"),
		credits.SettleReleaseKey("job-1", 0),
		credits.SettleReleaseKey("job-1", 1),
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %q", k)
		seen[k] = true
	}

	assert.NotEqual(t, credits.ReserveKey("job-1"), credits.ReserveKey("job-2"))
}
