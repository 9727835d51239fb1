package sui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbtc-relay/relayer/internal/deposit"
)

// newTestServer returns an httptest.Server whose /deposits/<id> handler
// responds with body for any id, standing in for the real status endpoint
// (spec.md §4.4).
func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *Handler) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if body != "" {
			fmt.Fprint(w, body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, NewHandler(Config{StatusEndpoint: srv.URL})
}

func sampleQueuedRecord(id string, lastActivityAt int64) deposit.Record {
	r := deposit.NewQueued(id, "deadbeef", 0, deposit.Receipt{}, deposit.L1OutputEvent{}, "0xowner", lastActivityAt)
	r.Dates.LastActivityAt = lastActivityAt
	return r
}

func TestInitializeDeposit_NotYetInitializedBumpsActivityOnly(t *testing.T) {
	_, h := newTestServer(t, http.StatusNotFound, "")
	record := sampleQueuedRecord("1", 1000)

	updated, err := h.InitializeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Queued, updated.Status)
	assert.Greater(t, updated.Dates.LastActivityAt, int64(1000), "lastActivityAt must advance past the stale record value on every poll")
}

func TestInitializeDeposit_InitializedAdvancesStatus(t *testing.T) {
	hash := "0xabc"
	_, h := newTestServer(t, http.StatusOK, fmt.Sprintf(`{"status":"INITIALIZED","txHash":%q}`, hash))
	record := sampleQueuedRecord("1", 1000)

	updated, err := h.InitializeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Initialized, updated.Status)
	require.NotNil(t, updated.Hashes.InitializeTxHash)
	assert.Equal(t, hash, *updated.Hashes.InitializeTxHash)
	assert.Greater(t, updated.Dates.LastActivityAt, int64(1000))
}

func TestFinalizeDeposit_NotYetFinalizedBumpsActivityOnly(t *testing.T) {
	_, h := newTestServer(t, http.StatusOK, `{"status":"INITIALIZED"}`)
	record := sampleQueuedRecord("1", 1000)
	record.Status = deposit.Initialized

	updated, err := h.FinalizeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Initialized, updated.Status)
	assert.Greater(t, updated.Dates.LastActivityAt, int64(1000), "lastActivityAt must advance past the stale record value on every poll")
}

func TestFinalizeDeposit_FinalizedAdvancesStatus(t *testing.T) {
	hash := "0xdef"
	_, h := newTestServer(t, http.StatusOK, fmt.Sprintf(`{"status":"FINALIZED","txHash":%q}`, hash))
	record := sampleQueuedRecord("1", 1000)
	record.Status = deposit.Initialized

	updated, err := h.FinalizeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Finalized, updated.Status)
	require.NotNil(t, updated.Hashes.FinalizeTxHash)
	assert.Equal(t, hash, *updated.Hashes.FinalizeTxHash)
}

func TestCheckDepositStatus_MapsKnownStates(t *testing.T) {
	_, h := newTestServer(t, http.StatusOK, `{"status":"FINALIZED"}`)
	status, ok, err := h.CheckDepositStatus(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, deposit.Finalized, status)
}

func TestCheckDepositStatus_UnknownStateIsAbsent(t *testing.T) {
	_, h := newTestServer(t, http.StatusOK, `{"status":"WEIRD"}`)
	_, ok, err := h.CheckDepositStatus(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessInitializeDeposits_ThrottlesRecentRecords(t *testing.T) {
	_, h := newTestServer(t, http.StatusOK, `{"status":"INITIALIZED","txHash":"0xabc"}`)
	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	record := sampleQueuedRecord("1", time.Now().UnixMilli())
	require.NoError(t, store.Put(record))

	require.NoError(t, h.ProcessInitializeDeposits(context.Background(), store))

	got, ok, err := store.Get("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Queued, got.Status, "a just-touched record must not be retried before the throttle window elapses")
}

func TestProcessInitializeDeposits_RetriesStaleRecords(t *testing.T) {
	_, h := newTestServer(t, http.StatusOK, `{"status":"INITIALIZED","txHash":"0xabc"}`)
	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	record := sampleQueuedRecord("1", time.Now().UnixMilli()-retryThrottleMillis-1)
	require.NoError(t, store.Put(record))

	require.NoError(t, h.ProcessInitializeDeposits(context.Background(), store))

	got, ok, err := store.Get("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Initialized, got.Status)
}

func TestSupportsPastDepositCheck_IsFalse(t *testing.T) {
	h := NewHandler(Config{StatusEndpoint: "http://example.invalid"})
	assert.False(t, h.SupportsPastDepositCheck())
}
