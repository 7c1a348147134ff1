package maturityclient

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/promorang/maturity/pkg/localstore"
	"github.com/promorang/maturity/pkg/maturity"
)

// fakeAPI answers from a scripted server-side state. Optional gates block a
// call until released so tests can interleave requests.
type fakeAPI struct {
	mu      sync.Mutex
	level   int
	count   int
	source  maturity.Source
	err     error
	payload *RemoteState

	fetches atomic.Int32
	posts   atomic.Int32

	fetchGate chan struct{}
	postGate  chan struct{}
}

func intPtr(v int) *int { return &v }

func (f *fakeAPI) current() *RemoteState {
	if f.payload != nil {
		return f.payload
	}
	return &RemoteState{
		MaturityState:        intPtr(f.level),
		VerifiedActionsCount: intPtr(f.count),
		Visibility:           maturity.DefaultPolicy().Visibility(maturity.Level(f.level)),
		Source:               f.source,
	}
}

func (f *fakeAPI) FetchState(ctx context.Context, _ string) (*RemoteState, error) {
	f.fetches.Add(1)
	f.mu.Lock()
	snap, err := f.current(), f.err
	f.mu.Unlock()
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (f *fakeAPI) PostAction(ctx context.Context, _ string, req ActionRequest) (*RemoteState, error) {
	f.posts.Add(1)
	f.mu.Lock()
	if f.err != nil {
		defer f.mu.Unlock()
		return nil, f.err
	}
	f.count++
	if f.count >= maturity.ActiveThreshold && f.level < int(maturity.Active) {
		f.level = int(maturity.Active)
	}
	snap := f.current()
	f.mu.Unlock()
	if f.postGate != nil {
		<-f.postGate
	}
	return snap, nil
}

func (f *fakeAPI) set(fn func(*fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func openSession(t *testing.T, api API, storage Storage, account Account, opts ...Option) *Session {
	t.Helper()
	if account.UserID == "" {
		account.UserID = "user-1"
	}
	s, err := Open(account, api, storage, opts...)
	require.NoError(t, err)
	return s
}

func TestOpenStartsAtFirstTime(t *testing.T) {
	s := openSession(t, &fakeAPI{}, nil, Account{})

	state := s.Snapshot()
	assert.Equal(t, maturity.FirstTime, state.Level)
	assert.Nil(t, state.LastFetched)
	assert.Equal(t, 3, s.RequiredActionsRemaining())
	assert.Equal(t, maturity.Hidden, s.Resolve(maturity.FeatureWallet))
	assert.Equal(t, maturity.Full, s.Resolve("brand_new_feature"))
}

func TestOpenRequiresUser(t *testing.T) {
	_, err := Open(Account{}, &fakeAPI{}, nil)
	assert.Error(t, err)
}

func TestThreeActionsUnlockActive(t *testing.T) {
	api := &fakeAPI{}
	s := openSession(t, api, nil, Account{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.RecordAction(ctx, maturity.ActionDealClaimed, nil)
		require.NoError(t, err)
		assert.Equal(t, maturity.Hidden, s.Resolve(maturity.FeatureHistory))
	}
	assert.Equal(t, 1, s.RequiredActionsRemaining())

	state, err := s.RecordAction(ctx, maturity.ActionEventCheckin, nil)
	require.NoError(t, err)
	assert.Equal(t, maturity.Active, state.Level)
	assert.Equal(t, 3, state.ActionsCount)
	assert.Equal(t, 0, s.RequiredActionsRemaining())
	assert.Equal(t, maturity.Full, s.Resolve(maturity.FeatureHistory))
	assert.Equal(t, maturity.ReadOnly, s.Resolve(maturity.FeatureLeaderboard))
	assert.Equal(t, maturity.Access{Allowed: true, ReadOnly: true}, s.Access(maturity.FeatureLeaderboard))
}

func TestRecordActionRejectsUnknownAction(t *testing.T) {
	api := &fakeAPI{}
	s := openSession(t, api, nil, Account{})

	_, err := s.RecordAction(context.Background(), "teleported", nil)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Zero(t, api.posts.Load())
}

func TestNetworkFailureKeepsCachedState(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	api := &fakeAPI{level: int(maturity.Rewarded), count: 12}
	s := openSession(t, api, nil, Account{}, WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := s.Hydrate(ctx)
	require.NoError(t, err)
	before := s.Snapshot()

	api.set(func(f *fakeAPI) { f.err = fmt.Errorf("%w: connection reset", ErrNetworkFailure) })
	state, err := s.Hydrate(ctx)
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, before, state)

	_, err = s.RecordAction(ctx, maturity.ActionDealClaimed, nil)
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 2, logs.Len())
}

func TestPartialPayloadFallsBackToLocalState(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	api := &fakeAPI{level: int(maturity.Active), count: 5}
	s := openSession(t, api, nil, Account{}, WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := s.Hydrate(ctx)
	require.NoError(t, err)

	api.set(func(f *fakeAPI) { f.payload = &RemoteState{} })
	state, err := s.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, maturity.Active, state.Level)
	assert.Equal(t, 5, state.ActionsCount)
	assert.Equal(t, maturity.DefaultPolicy().Visibility(maturity.Active), state.Visibility)
	assert.Equal(t, 1, logs.FilterMessage("maturity payload missing maturity_state, keeping local level").Len())
	assert.Equal(t, 1, logs.FilterMessage("maturity payload missing verified_actions_count, keeping local count").Len())
}

func TestInvalidLevelIgnored(t *testing.T) {
	api := &fakeAPI{payload: &RemoteState{MaturityState: intPtr(9), VerifiedActionsCount: intPtr(4)}}
	s := openSession(t, api, nil, Account{})

	state, err := s.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maturity.FirstTime, state.Level)
	assert.Equal(t, 4, state.ActionsCount)
}

func TestServerRegressionDoesNotLowerLevel(t *testing.T) {
	api := &fakeAPI{level: int(maturity.PowerUser), count: 30}
	s := openSession(t, api, nil, Account{})
	ctx := context.Background()

	_, err := s.Hydrate(ctx)
	require.NoError(t, err)

	api.set(func(f *fakeAPI) { f.level, f.count = int(maturity.Active), 4 })
	state, err := s.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, maturity.PowerUser, state.Level)
	assert.Equal(t, 30, state.ActionsCount)
}

func TestConcurrentHydrateSharesOneRequest(t *testing.T) {
	api := &fakeAPI{level: int(maturity.Active), count: 3, fetchGate: make(chan struct{})}
	s := openSession(t, api, nil, Account{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Hydrate(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return api.fetches.Load() == 1 }, time.Second, time.Millisecond)
	// let the stragglers join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(api.fetchGate)
	wg.Wait()

	assert.LessOrEqual(t, api.fetches.Load(), int32(2))
	assert.Equal(t, maturity.Active, s.Level())
}

func TestHydrateOutlivesFirstCallerContext(t *testing.T) {
	api := &fakeAPI{level: int(maturity.Active), count: 4, fetchGate: make(chan struct{})}
	s := openSession(t, api, nil, Account{}, WithHydrateTimeout(time.Second))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Hydrate(firstCtx)
		first <- err
	}()
	require.Eventually(t, func() bool { return api.fetches.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := s.Hydrate(context.Background())
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-first
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.ErrorIs(t, err, context.Canceled)

	close(api.fetchGate)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), api.fetches.Load())
	assert.Equal(t, maturity.Active, s.Level())
	assert.Equal(t, 4, s.Snapshot().ActionsCount)
}

func TestPendingActionWithoutStateKeepsLocal(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	api := &fakeAPI{level: int(maturity.Active), count: 3}
	s := openSession(t, api, nil, Account{}, WithLogger(zap.New(core)))
	_, err := s.Hydrate(context.Background())
	require.NoError(t, err)

	api.set(func(f *fakeAPI) { f.payload = &RemoteState{Pending: true} })
	state, err := s.RecordAction(context.Background(), maturity.ActionEventRSVP, nil)
	require.NoError(t, err)

	assert.Equal(t, maturity.Active, state.Level)
	assert.Equal(t, 3, state.ActionsCount)
	assert.Zero(t, logs.FilterMessage("maturity payload missing maturity_state, keeping local level").Len())
	assert.Zero(t, logs.FilterMessage("maturity payload missing verified_actions_count, keeping local count").Len())
}

func TestOlderResponseDoesNotOverwriteNewerOne(t *testing.T) {
	api := &fakeAPI{postGate: make(chan struct{})}
	s := openSession(t, api, nil, Account{})
	ctx := context.Background()

	done := make(chan State)
	go func() {
		state, _ := s.RecordAction(ctx, maturity.ActionDealClaimed, nil)
		done <- state
	}()
	require.Eventually(t, func() bool { return api.posts.Load() == 1 }, time.Second, time.Millisecond)

	// the server moves on while the action response is in flight
	api.set(func(f *fakeAPI) {
		f.level, f.count = int(maturity.Rewarded), 11
		f.payload = nil
	})
	fresh, err := s.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, maturity.Rewarded, fresh.Level)
	fetchedAt := fresh.LastFetched

	close(api.postGate)
	late := <-done
	assert.Equal(t, maturity.Rewarded, late.Level)
	assert.Equal(t, 11, late.ActionsCount)
	assert.Equal(t, fetchedAt, late.LastFetched)
}

func TestDemoOverride(t *testing.T) {
	t.Run("refused for real accounts", func(t *testing.T) {
		s := openSession(t, &fakeAPI{}, nil, Account{})
		_, err := s.ApplyDemoOverride(maturity.OperatorPro)
		assert.ErrorIs(t, err, ErrDemoOverrideNotAllowed)
		assert.Equal(t, maturity.FirstTime, s.Level())
	})

	t.Run("applied for demo accounts", func(t *testing.T) {
		storage := NewMemoryStorage()
		s := openSession(t, &fakeAPI{}, storage, Account{Demo: true})
		state, err := s.ApplyDemoOverride(maturity.OperatorPro)
		require.NoError(t, err)
		assert.Equal(t, maturity.SourceDemoOverride, state.Source)
		assert.Equal(t, maturity.Full, s.Resolve(maturity.FeatureOperatorDashboard))

		raw, err := storage.Get(StorageKey)
		require.NoError(t, err)
		restored, err := UnmarshalState(raw)
		require.NoError(t, err)
		assert.Equal(t, maturity.SourceDemoOverride, restored.Source)
	})

	t.Run("invalid level", func(t *testing.T) {
		s := openSession(t, &fakeAPI{}, nil, Account{Demo: true})
		_, err := s.ApplyDemoOverride(maturity.Level(7))
		assert.Error(t, err)
	})

	t.Run("server override ignored for real accounts", func(t *testing.T) {
		api := &fakeAPI{level: int(maturity.OperatorPro), count: 1, source: maturity.SourceDemoOverride}
		s := openSession(t, api, nil, Account{})
		state, err := s.Hydrate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, maturity.FirstTime, state.Level)
		assert.Equal(t, maturity.SourceServer, state.Source)
		assert.Equal(t, 1, state.ActionsCount)
	})

	t.Run("admin role may override", func(t *testing.T) {
		s := openSession(t, &fakeAPI{}, nil, Account{Role: RoleAdmin})
		state, err := s.ApplyDemoOverride(maturity.PowerUser)
		require.NoError(t, err)
		assert.Equal(t, maturity.PowerUser, state.Level)
	})

	t.Run("server override applied for admin role", func(t *testing.T) {
		api := &fakeAPI{level: int(maturity.PowerUser), source: maturity.SourceDemoOverride}
		s := openSession(t, api, nil, Account{Role: RoleAdmin})
		state, err := s.Hydrate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, maturity.PowerUser, state.Level)
		assert.Equal(t, maturity.SourceDemoOverride, state.Source)
	})

	t.Run("member role cannot override", func(t *testing.T) {
		s := openSession(t, &fakeAPI{}, nil, Account{Role: "member"})
		_, err := s.ApplyDemoOverride(maturity.PowerUser)
		assert.ErrorIs(t, err, ErrDemoOverrideNotAllowed)
	})

	t.Run("override snapshot dropped for real accounts", func(t *testing.T) {
		storage := NewMemoryStorage()
		fetched := time.UnixMilli(1700000000000).UTC()
		raw, err := MarshalState(State{Level: maturity.OperatorPro, ActionsCount: 2, Source: maturity.SourceDemoOverride, LastFetched: &fetched})
		require.NoError(t, err)
		require.NoError(t, storage.Put(StorageKey, raw))

		s := openSession(t, &fakeAPI{}, storage, Account{})
		assert.Equal(t, maturity.FirstTime, s.Level())
		assert.Equal(t, 2, s.Snapshot().ActionsCount)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 30, 0, 123_000_000, time.UTC)
	in := State{
		Level:        maturity.Rewarded,
		ActionsCount: 14,
		Visibility:   maturity.DefaultPolicy().Visibility(maturity.Rewarded),
		LastFetched:  &fetched,
		Source:       maturity.SourceServer,
	}
	raw, err := MarshalState(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"maturityState":2`)
	assert.Contains(t, string(raw), `"lastFetched":`)

	out, err := UnmarshalState(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	raw, err = MarshalState(State{Source: maturity.SourceServer})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lastFetched":null`)
}

func TestUnmarshalStateRejectsBadSnapshots(t *testing.T) {
	for _, raw := range []string{`{`, `{"maturityState":12}`, `{"actionsCount":-1}`} {
		_, err := UnmarshalState([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestSessionPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	store, err := localstore.Open(path)
	require.NoError(t, err)

	api := &fakeAPI{level: int(maturity.Active), count: 6}
	s := openSession(t, api, store, Account{})
	hydrated, err := s.Hydrate(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = localstore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	offline := &fakeAPI{err: errors.New("offline")}
	restarted := openSession(t, offline, store, Account{})
	assert.Equal(t, hydrated, restarted.Snapshot())

	_, err = restarted.Hydrate(context.Background())
	assert.Error(t, err)
	assert.Equal(t, hydrated, restarted.Snapshot())
}

func TestCloseClearsStorage(t *testing.T) {
	storage := NewMemoryStorage()
	api := &fakeAPI{level: int(maturity.Active), count: 3}
	s := openSession(t, api, storage, Account{})
	_, err := s.Hydrate(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = storage.Get(StorageKey)
	assert.ErrorIs(t, err, ErrNotStored)
	assert.Equal(t, maturity.FirstTime, s.Level())

	_, err = s.Hydrate(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, s.Close())
}

func TestDriftIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	vis := maturity.DefaultPolicy().Visibility(maturity.Active)
	vis[maturity.FeatureWallet] = maturity.Full
	api := &fakeAPI{payload: &RemoteState{
		MaturityState:        intPtr(int(maturity.Active)),
		VerifiedActionsCount: intPtr(3),
		Visibility:           vis,
	}}
	s := openSession(t, api, nil, Account{}, WithLogger(zap.New(core)))

	_, err := s.Hydrate(context.Background())
	require.NoError(t, err)

	drift := logs.FilterMessage("server visibility differs from local policy").All()
	require.Len(t, drift, 1)
	assert.Equal(t, maturity.Hidden, s.Resolve(maturity.FeatureWallet))
}
