package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offpay/internal/backend"
	"offpay/internal/domain"
	domaintypes "offpay/internal/domain/types"
	"offpay/internal/store"
	"offpay/internal/transport"
)

const secret = "0123456789abcdef-test-secret"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newJWT(t *testing.T) *backend.JWTService {
	t.Helper()
	j, err := backend.NewJWTService(secret, time.Hour)
	require.NoError(t, err)
	return j
}

type env struct {
	server *backend.Server
	http   *httptest.Server
	jwt    *backend.JWTService
}

func newEnv(t *testing.T, opts ...backend.ServerOption) *env {
	t.Helper()
	j := newJWT(t)
	srv := backend.NewServer(j, opts...)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &env{server: srv, http: hs, jwt: j}
}

func (e *env) client(t *testing.T, device domain.DeviceID) *backend.Client {
	t.Helper()
	token, err := e.jwt.SignToken(device)
	require.NoError(t, err)
	c, err := backend.NewClient(backend.ClientConfig{URL: e.http.URL, Token: token})
	require.NoError(t, err)
	return c
}

func sent(id string, amount domain.Amount) domain.OfflineTransaction {
	return domain.OfflineTransaction{
		ID:                  id,
		Type:                domaintypes.DirectionSent,
		Amount:              amount,
		Currency:            "USD",
		CounterpartDeviceID: "bob",
		Timestamp:           t0,
		Status:              domaintypes.TxTransmitted,
		Signatures:          domain.Signatures{Sender: []byte("alice-sig")},
		Nonce:               "n-" + id,
		Balance:             domain.BalanceSnapshot{Before: 1000, After: 1000 - amount},
	}
}

func received(id string, amount domain.Amount) domain.OfflineTransaction {
	tx := sent(id, amount)
	tx.Type = domaintypes.DirectionReceived
	tx.CounterpartDeviceID = "alice"
	tx.Status = domaintypes.TxConfirmed
	tx.Signatures.Receiver = []byte("bob-sig")
	tx.Balance = domain.BalanceSnapshot{Before: 0, After: amount}
	return tx
}

func TestJWTService(t *testing.T) {
	j := newJWT(t)
	token, err := j.SignToken("alice")
	require.NoError(t, err)

	claims, err := j.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceID("alice"), claims.DeviceID)
	assert.Equal(t, "alice", claims.Subject)

	other, err := backend.NewJWTService("another-secret-of-16+", time.Hour)
	require.NoError(t, err)
	_, err = other.VerifyToken(token)
	assert.Error(t, err)

	_, err = j.SignToken("")
	assert.Error(t, err)
	_, err = backend.NewJWTService("short", time.Hour)
	assert.Error(t, err)
}

func TestBothPartiesMergeIntoOneRecord(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.client(t, "alice"), e.client(t, "bob")

	first, err := alice.Submit(ctx, sent("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)
	require.True(t, first.Accepted)
	require.NotEmpty(t, first.ServerID)

	second, err := bob.Submit(ctx, received("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.Equal(t, first.ServerID, second.ServerID)

	rec, ok := e.server.Record("tx1")
	require.True(t, ok)
	assert.Equal(t, domain.DeviceID("alice"), rec.From)
	assert.Equal(t, domain.DeviceID("bob"), rec.To)
	assert.Equal(t, []byte("alice-sig"), rec.SenderSig)
	assert.Equal(t, []byte("bob-sig"), rec.ReceiverSig)
	assert.True(t, rec.Confirmed)
	assert.Equal(t, []domain.DeviceID{"alice", "bob"}, rec.SubmittedBy)

	view, err := alice.Get(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, domaintypes.DirectionSent, view.Type)
	assert.Equal(t, domain.DeviceID("bob"), view.CounterpartDeviceID)
	assert.Equal(t, domaintypes.TxConfirmed, view.Status)
	assert.Equal(t, first.ServerID, view.ServerID)

	again, err := alice.Submit(ctx, sent("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)
	assert.True(t, again.Accepted)
}

func TestConflictingVersion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, bob := e.client(t, "alice"), e.client(t, "bob")

	_, err := alice.Submit(ctx, sent("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)

	res, err := bob.Submit(ctx, received("tx1", 300), domain.SubmitOptions{})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	require.True(t, res.Conflict)
	require.NotNil(t, res.ServerVersion)
	assert.Equal(t, domain.Amount(250), res.ServerVersion.Amount)
	assert.Equal(t, domaintypes.DirectionReceived, res.ServerVersion.Type)
	assert.Equal(t, domain.DeviceID("alice"), res.ServerVersion.CounterpartDeviceID)

	forced, err := bob.Submit(ctx, received("tx1", 300), domain.SubmitOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, forced.Accepted)
	rec, _ := e.server.Record("tx1")
	assert.Equal(t, domain.Amount(300), rec.Amount)
}

func TestOutsiderCannotTouchRecord(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice, carol := e.client(t, "alice"), e.client(t, "carol")

	_, err := alice.Submit(ctx, sent("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)

	_, err = carol.Get(ctx, "tx1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	hijack := sent("tx1", 999)
	hijack.CounterpartDeviceID = "dave"
	res, err := carol.Submit(ctx, hijack, domain.SubmitOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	assert.Nil(t, res.ServerVersion)
	rec, _ := e.server.Record("tx1")
	assert.Equal(t, domain.Amount(250), rec.Amount)
}

func TestAuthAndValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	anon, err := backend.NewClient(backend.ClientConfig{URL: e.http.URL})
	require.NoError(t, err)
	_, err = anon.Submit(ctx, sent("tx1", 1), domain.SubmitOptions{})
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "missing authorization header", se.Message)

	alice := e.client(t, "alice")
	bad := sent("tx2", 1)
	bad.Nonce = ""
	_, err = alice.Submit(ctx, bad, domain.SubmitOptions{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)

	self := sent("tx3", 1)
	self.CounterpartDeviceID = "alice"
	_, err = alice.Submit(ctx, self, domain.SubmitOptions{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "closed", alice.State())

	resp, err := http.Get(e.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hs.Close()

	c, err := backend.NewClient(backend.ClientConfig{
		URL:     hs.URL,
		Breaker: backend.BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Hour},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for range 2 {
		_, err := c.Submit(ctx, sent("tx1", 1), domain.SubmitOptions{})
		var se *backend.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
	}
	_, err = c.Submit(ctx, sent("tx1", 1), domain.SubmitOptions{})
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "open", c.State())
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer hs.Close()
	defer close(release)

	c, err := backend.NewClient(backend.ClientConfig{URL: hs.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), sent("tx1", 1), domain.SubmitOptions{})
	assert.ErrorIs(t, err, domain.ErrTransportTimeout)
}

func TestRecordsPersist(t *testing.T) {
	ctx := context.Background()
	bs := store.NewMemoryBlobStore()
	e := newEnv(t, backend.WithStore(bs))
	res, err := e.client(t, "alice").Submit(ctx, sent("tx1", 250), domain.SubmitOptions{})
	require.NoError(t, err)

	restarted := backend.NewServer(newJWT(t), backend.WithStore(bs))
	require.NoError(t, restarted.Load(ctx))
	rec, ok := restarted.Record("tx1")
	require.True(t, ok)
	assert.Equal(t, res.ServerID, rec.ServerID)
	assert.Equal(t, domain.Amount(250), rec.Amount)
}

func TestRelayMounted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, backend.WithMailbox(transport.NewMailbox()))
	relay := transport.NewHTTP(e.http.URL, e.http.Client())

	env := domain.Envelope{Kind: domaintypes.KindRequest, From: "alice", To: "bob", Payload: []byte(`{"id":"r1"}`)}
	require.NoError(t, relay.Send(ctx, env))
	got, err := relay.Fetch(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domaintypes.KindRequest, got[0].Kind)
	require.NoError(t, relay.Ack(ctx, "bob", 1))
	got, err = relay.Fetch(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
