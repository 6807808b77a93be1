package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	srv.Update(Snapshot{
		Name:         "alpha",
		LocalID:      2,
		Accepted:     true,
		Transactions: 1,
		Peers:        []PeerInfo{{ID: 1, Addr: "127.0.0.1:7530", Accepted: true, Endowed: true}},
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, "alpha", snap.Name)
	require.Equal(t, uint32(2), snap.LocalID)
	require.Len(t, snap.Peers, 1)
	require.True(t, snap.Peers[0].Endowed)
	require.False(t, snap.UpdatedAt.IsZero())
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
