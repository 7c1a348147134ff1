package main

import (
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/promorang/maturity/pkg/maturity"
)

// backend answers the two maturity endpoints from a counter.
type backend struct {
	count atomic.Int32
	ln    *fasthttputil.InmemoryListener
}

func newBackend(t *testing.T, count int32) *backend {
	t.Helper()
	b := &backend{ln: fasthttputil.NewInmemoryListener()}
	b.count.Store(count)
	srv := &fasthttp.Server{Handler: b.handle}
	go srv.Serve(b.ln) //nolint:errcheck
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = b.ln.Close()
	})
	return b
}

func (b *backend) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) != "Bearer tok" {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"status":"error","code":"UNAUTHORIZED"}`)
		return
	}
	count := int(b.count.Load())
	if string(ctx.Path()) == "/api/maturity/action" {
		count = int(b.count.Add(1))
	}
	level := maturity.FirstTime
	if count >= maturity.ActiveThreshold {
		level = maturity.Active
	}
	body, _ := json.Marshal(map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"maturity_state":         int(level),
			"verified_actions_count": count,
			"source":                 "server",
		},
	})
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (b *backend) dial(string) (net.Conn, error) { return b.ln.Dial() }

func run(t *testing.T, b *backend, store string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	opts := &options{log: zap.NewNop()}
	if b != nil {
		opts.dial = b.dial
	} else {
		opts.dial = func(string) (net.Conn, error) { return nil, net.ErrClosed }
	}
	cmd := newRootCmd(&out, opts)
	cmd.SetArgs(append([]string{
		"--server", "http://maturity.test",
		"--user", "ana",
		"--token", "tok",
		"--store", store,
		"--timeout", time.Second.String(),
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeState(t *testing.T, out string) stateOutput {
	t.Helper()
	var state stateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	return state
}

func TestStateHydratesAndPersists(t *testing.T) {
	store := filepath.Join(t.TempDir(), "device.db")
	b := newBackend(t, 2)

	out, err := run(t, b, store, "state")
	require.NoError(t, err)
	state := decodeState(t, out)
	assert.Equal(t, 2, state.ActionsCount)
	assert.Equal(t, 1, state.ActionsRemaining)
	assert.NotNil(t, state.LastFetched)

	out, err = run(t, nil, store, "state")
	require.NoError(t, err, "a failed hydrate still prints the cached state")
	assert.Equal(t, 2, decodeState(t, out).ActionsCount)
}

func TestRecordPromotesAndUnlocksFeature(t *testing.T) {
	store := filepath.Join(t.TempDir(), "device.db")
	b := newBackend(t, 2)

	out, err := run(t, b, store, "record", "deal_claimed", "--metadata", `{"deal":"d1"}`)
	require.NoError(t, err)
	state := decodeState(t, out)
	assert.Equal(t, int(maturity.Active), state.MaturityState)
	assert.Equal(t, 3, state.ActionsCount)

	out, err = run(t, nil, store, "feature", string(maturity.FeatureHistory))
	require.NoError(t, err)
	var feature featureOutput
	require.NoError(t, json.Unmarshal([]byte(out), &feature))
	assert.True(t, feature.Access.Allowed)
}

func TestRecordRejectsBadInput(t *testing.T) {
	store := filepath.Join(t.TempDir(), "device.db")

	_, err := run(t, nil, store, "record", "liked_a_post")
	assert.Error(t, err)

	_, err = run(t, nil, store, "record", "deal_claimed", "--metadata", "{")
	assert.Error(t, err)
}

func TestOverrideNeedsRole(t *testing.T) {
	store := filepath.Join(t.TempDir(), "device.db")

	_, err := run(t, nil, store, "override", "3")
	assert.Error(t, err)

	out, err := run(t, nil, store, "--role", "admin", "override", "3")
	require.NoError(t, err)
	state := decodeState(t, out)
	assert.Equal(t, int(maturity.PowerUser), state.MaturityState)
	assert.Equal(t, maturity.SourceDemoOverride, state.Source)
}

func TestLogoutClearsSnapshot(t *testing.T) {
	store := filepath.Join(t.TempDir(), "device.db")
	b := newBackend(t, 5)

	_, err := run(t, b, store, "state")
	require.NoError(t, err)

	out, err := run(t, nil, store, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "session cleared")

	out, err = run(t, nil, store, "state", "--offline")
	require.NoError(t, err)
	assert.Zero(t, decodeState(t, out).ActionsCount)
}

func TestUserRequired(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(&out, &options{log: zap.NewNop()})
	cmd.SetArgs([]string{"state", "--store", filepath.Join(t.TempDir(), "device.db"), "--user", ""})
	assert.Error(t, cmd.Execute())
}
