package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	srv, err := New("test", "")
	require.NoError(t, err)
	require.NoError(t, srv.ListenAndServe(), "no listener without an address")

	session := NewSessionMetrics(srv.Registry(), "test")
	session.SetStatus("connected", []string{"disconnected", "connected"})
	assert.Equal(t, 1.0, testutil.ToFloat64(session.status.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(session.status.WithLabelValues("disconnected")))

	tx := NewTxMetrics(srv.Registry(), "test")
	tx.Submitted("saveTokens")
	tx.Submitted("clearTokens")
	tx.Finished("saveTokens", "confirmed", time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(tx.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(tx.outcomes.WithLabelValues("saveTokens", "confirmed")))

	sync := NewSyncMetrics(srv.Registry(), "test")
	sync.Snapshot(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(sync.records))
}

func TestNilCollectors(t *testing.T) {
	var session *SessionMetrics
	var sync *SyncMetrics
	var tx *TxMetrics

	assert.NotPanics(t, func() {
		session.SetStatus("connected", nil)
		session.Event("chainChanged")
		sync.Refreshed("ok", time.Second)
		sync.Snapshot(1, 0)
		sync.Joined()
		tx.Submitted("saveTokens")
		tx.Finished("saveTokens", "failed", time.Second)
	})
}
