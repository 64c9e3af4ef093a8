package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foundermatch/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

type fakeLedgerReader struct {
	balances map[string]int64
	entries  map[string][]models.LedgerEntry
}

func (f *fakeLedgerReader) GetBalance(ctx context.Context, accountID string) (int64, error) {
	return f.balances[accountID], nil
}

func (f *fakeLedgerReader) History(ctx context.Context, accountID string, limit int) ([]models.LedgerEntry, error) {
	entries := f.entries[accountID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func TestCreditsHandler_GetBalance(t *testing.T) {
	handler := NewCreditsHandler(&fakeLedgerReader{
		balances: map[string]int64{"acct-1": 42},
	})

	t.Run("returns the balance", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetBalance(w, authedRequest(http.MethodGet, "/api/v1/credits/balance", "acct-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Credits int64 `json:"credits"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(42), resp.Credits)
	})

	t.Run("unseen accounts read as zero", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetBalance(w, authedRequest(http.MethodGet, "/api/v1/credits/balance", "acct-new", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Credits int64 `json:"credits"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(0), resp.Credits)
	})

	t.Run("missing auth context", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetBalance(w, httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCreditsHandler_GetHistory(t *testing.T) {
	now := time.Now()
	reader := &fakeLedgerReader{
		entries: map[string][]models.LedgerEntry{
			"acct-1": {
				{EntryID: "e2", AccountID: "acct-1", Delta: -1, Reason: models.ReasonUnlockSpend, CreatedAt: now},
				{EntryID: "e1", AccountID: "acct-1", Delta: 100, Reason: models.ReasonTopup, CreatedAt: now.Add(-time.Hour)},
			},
		},
	}
	handler := NewCreditsHandler(reader)

	t.Run("returns entries with count", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetHistory(w, authedRequest(http.MethodGet, "/api/v1/credits/history", "acct-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Entries []models.LedgerEntry `json:"entries"`
			Count   int                  `json:"count"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "e2", resp.Entries[0].EntryID)
	})

	t.Run("limit query parameter honored", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetHistory(w, authedRequest(http.MethodGet, "/api/v1/credits/history?limit=1", "acct-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Count int `json:"count"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("limit above the cap rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetHistory(w, authedRequest(http.MethodGet, "/api/v1/credits/history?limit=500", "acct-1", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
