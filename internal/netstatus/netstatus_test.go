package netstatus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"offpay/internal/netstatus"
)

func TestManualNotifiesOnTransitionsOnly(t *testing.T) {
	m := netstatus.NewManual(false, nil)
	var got []bool
	unsubscribe := m.Subscribe(func(online bool) { got = append(got, online) })
	m.Subscribe(func(bool) { panic("boom") })

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)
	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, m.Online())

	unsubscribe()
	m.Set(true)
	assert.Len(t, got, 2)
	assert.True(t, m.Online())
}

func TestChecker(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := netstatus.NewChecker(srv.URL+"/health", 0, netstatus.WithHTTPClient(srv.Client()))
	var changes atomic.Int32
	p.Subscribe(func(bool) { changes.Add(1) })

	ctx := context.Background()
	assert.False(t, p.Check(ctx))
	assert.Zero(t, changes.Load())

	healthy.Store(true)
	assert.True(t, p.Check(ctx))
	assert.True(t, p.Online())
	assert.EqualValues(t, 1, changes.Load())

	srv.Close()
	assert.False(t, p.Check(ctx))
	assert.EqualValues(t, 2, changes.Load())
}
