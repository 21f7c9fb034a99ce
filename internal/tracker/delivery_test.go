package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotepulse-backend/internal/models"
)

func TestHTTPDeliverer(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody models.IngestRequest
	status := http.StatusCreated

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"activityId":"00000000-0000-0000-0000-000000000000","sessionId":"s-1"}`))
	}))
	defer srv.Close()

	d := NewHTTPDeliverer(srv.URL+"/api/v1/", srv.Client())
	req := models.IngestRequest{SessionID: "s-1", EventType: models.EventScroll, EventData: json.RawMessage(`{"scrollDepth":50}`)}

	require.NoError(t, d.Deliver(context.Background(), "quote 1", req))
	assert.Equal(t, "/api/v1/activities/quote 1", gotPath)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "s-1", gotBody.SessionID)
	assert.JSONEq(t, `{"scrollDepth":50}`, string(gotBody.EventData))

	require.NoError(t, d.Beacon(context.Background(), "quote-1", req))
	assert.Equal(t, "text/plain;charset=UTF-8", gotContentType)

	status = http.StatusNotFound
	assert.Error(t, d.Deliver(context.Background(), "quote-1", req))
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := OpenBoltStore(path)
	require.NoError(t, err)

	_, ok, err := store.Load(sessionKey("q-1", "tab"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(sessionKey("q-1", "tab"), "s-42"))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	id, ok, err := reopened.Load(sessionKey("q-1", "tab"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s-42", id)
}

func TestPositionDepth(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want int
	}{
		{"top", Position{Top: 0, DocumentHeight: 2000, ViewportHeight: 800}, 0},
		{"middle", Position{Top: 600, DocumentHeight: 2000, ViewportHeight: 800}, 50},
		{"bottom", Position{Top: 1200, DocumentHeight: 2000, ViewportHeight: 800}, 100},
		{"overscroll", Position{Top: 1300, DocumentHeight: 2000, ViewportHeight: 800}, 100},
		{"negative", Position{Top: -20, DocumentHeight: 2000, ViewportHeight: 800}, 0},
		{"fits viewport", Position{Top: 0, DocumentHeight: 600, ViewportHeight: 800}, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.pos.Depth())
		})
	}
}
