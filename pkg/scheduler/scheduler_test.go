package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakewatch/wakewatch/pkg/domain"
)

// storeMock is an in-memory Store following the same failCount transition
// rules as the sqlite repository
type storeMock struct {
	mu              sync.Mutex
	endpoints       map[int64]*domain.Endpoint
	listDueErr      error
	updateStatusErr error
}

func newStoreMock(eps ...*domain.Endpoint) *storeMock {
	m := &storeMock{endpoints: make(map[int64]*domain.Endpoint)}
	for _, ep := range eps {
		m.endpoints[ep.ID] = ep
	}
	return m
}

func (m *storeMock) ListDue(_ context.Context, now time.Time) ([]domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDueErr != nil {
		return nil, m.listDueErr
	}
	var due []domain.Endpoint
	for _, ep := range m.endpoints {
		if ep.Due(now) {
			due = append(due, *ep)
		}
	}
	return due, nil
}

func (m *storeMock) Get(_ context.Context, id int64) (*domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, errors.New("endpoint not found")
	}
	cp := *ep
	return &cp, nil
}

func (m *storeMock) UpdateStatus(_ context.Context, id int64, status domain.Status, errDetail string, t time.Time) (*domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStatusErr != nil {
		return nil, m.updateStatusErr
	}
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, nil // deleted mid-flight
	}
	ep.Status = status
	ep.LastError = errDetail
	ep.LastPingTime = &t
	ep.UpdatedAt = t
	if status == domain.StatusError {
		ep.FailCount++
	} else {
		ep.FailCount = 0
	}
	cp := *ep
	return &cp, nil
}

func (m *storeMock) delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
}

type pingerMock struct {
	mu       sync.Mutex
	outcomes map[string]domain.PingOutcome
	calls    []string
}

func (p *pingerMock) Ping(_ context.Context, url string) domain.PingOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, url)
	if outcome, ok := p.outcomes[url]; ok {
		return outcome
	}
	return domain.PingOutcome{Success: true, HTTPStatus: 200}
}

func (p *pingerMock) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type notifierMock struct {
	mu    sync.Mutex
	calls []int // fail counts passed in
}

func (n *notifierMock) FailureThreshold(_ context.Context, _ domain.Endpoint, consecutiveFailures int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, consecutiveFailures)
}

func (n *notifierMock) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type connMock struct{ online bool }

func (c *connMock) Online() bool { return c.online }

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(newStoreMock(), &pingerMock{}, &notifierMock{}, nil, Config{})
	assert.Equal(t, 30*time.Second, s.tickInterval)
	assert.Equal(t, 5*time.Minute, s.maxBackoff)
	assert.Equal(t, 5, s.maxWorkers)
	assert.Equal(t, 3, s.failThreshold)
	assert.IsType(t, &InterfaceConnectivity{}, s.connectivity)
}

func TestScheduler_RunTick(t *testing.T) {
	t.Run("pings due endpoints and records outcomes", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		justNow := time.Now()
		store := newStoreMock(
			&domain.Endpoint{ID: 1, URL: "up.example.com", IntervalMinutes: 5, LastPingTime: &past},
			&domain.Endpoint{ID: 2, URL: "down.example.com", IntervalMinutes: 5},
			&domain.Endpoint{ID: 3, URL: "fresh.example.com", IntervalMinutes: 600, LastPingTime: &justNow},
		)
		png := &pingerMock{outcomes: map[string]domain.PingOutcome{
			"https://down.example.com/": {Success: false, ErrorDetail: "connection refused"},
		}}
		notif := &notifierMock{}
		s := NewScheduler(store, png, notif, &connMock{online: true}, Config{})

		require.NoError(t, s.runTick(context.Background()))

		assert.Equal(t, 2, png.callCount(), "only due endpoints pinged")

		up, err := store.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, up.Status)
		assert.Zero(t, up.FailCount)

		down, err := store.Get(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, down.Status)
		assert.Equal(t, 1, down.FailCount)
		assert.Equal(t, "connection refused", down.LastError)

		fresh, err := store.Get(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, domain.Status(""), fresh.Status, "fresh endpoint untouched")
	})

	t.Run("urls normalized before pinging", func(t *testing.T) {
		store := newStoreMock(&domain.Endpoint{ID: 1, URL: " example.com", IntervalMinutes: 5})
		png := &pingerMock{}
		s := NewScheduler(store, png, &notifierMock{}, &connMock{online: true}, Config{})

		require.NoError(t, s.runTick(context.Background()))
		require.Len(t, png.calls, 1)
		assert.Equal(t, "https://example.com/", png.calls[0])
	})

	t.Run("offline defers the tick", func(t *testing.T) {
		store := newStoreMock(&domain.Endpoint{ID: 1, URL: "example.com", IntervalMinutes: 5})
		png := &pingerMock{}
		s := NewScheduler(store, png, &notifierMock{}, &connMock{online: false}, Config{})

		require.NoError(t, s.runTick(context.Background()))
		assert.Zero(t, png.callCount(), "no pings while offline")
	})

	t.Run("store failure aborts the cycle", func(t *testing.T) {
		store := newStoreMock()
		store.listDueErr = errors.New("database locked up")
		s := NewScheduler(store, &pingerMock{}, &notifierMock{}, &connMock{online: true}, Config{})

		err := s.runTick(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list due endpoints")
	})

	t.Run("status write failure fails the cycle", func(t *testing.T) {
		store := newStoreMock(
			&domain.Endpoint{ID: 1, URL: "one.example.com", IntervalMinutes: 5},
			&domain.Endpoint{ID: 2, URL: "two.example.com", IntervalMinutes: 5},
		)
		store.updateStatusErr = errors.New("disk I/O error")
		png := &pingerMock{}
		s := NewScheduler(store, png, &notifierMock{}, &connMock{online: true}, Config{})

		err := s.runTick(context.Background())
		require.Error(t, err, "persistence failures must engage the backoff")
		assert.Contains(t, err.Error(), "record ping outcomes")
		assert.Equal(t, 2, png.callCount(), "other endpoints still pinged")
	})
}

func TestScheduler_ThresholdEscalation(t *testing.T) {
	store := newStoreMock(&domain.Endpoint{ID: 1, URL: "down.example.com", IntervalMinutes: 5})
	png := &pingerMock{outcomes: map[string]domain.PingOutcome{
		"https://down.example.com/": {Success: false, ErrorDetail: "timeout"},
	}}
	notif := &notifierMock{}
	s := NewScheduler(store, png, notif, &connMock{online: true}, Config{FailThreshold: 3})

	fail := func() {
		ep, err := store.Get(context.Background(), 1)
		require.NoError(t, err)
		s.pingEndpoint(context.Background(), *ep)
	}

	// first two failures stay quiet
	fail()
	fail()
	assert.Zero(t, notif.callCount())

	// third failure crosses the threshold, exactly one notification
	fail()
	require.Equal(t, 1, notif.callCount())
	assert.Equal(t, 3, notif.calls[0])

	// failures past the threshold don't re-fire
	fail()
	fail()
	assert.Equal(t, 1, notif.callCount())

	// a success resets the counter
	png.mu.Lock()
	png.outcomes["https://down.example.com/"] = domain.PingOutcome{Success: true, HTTPStatus: 200}
	png.mu.Unlock()
	fail()
	ep, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, ep.FailCount)

	// a fresh crossing after the reset escalates again
	png.mu.Lock()
	png.outcomes["https://down.example.com/"] = domain.PingOutcome{Success: false, ErrorDetail: "timeout"}
	png.mu.Unlock()
	fail()
	fail()
	assert.Equal(t, 1, notif.callCount())
	fail()
	assert.Equal(t, 2, notif.callCount())
}

func TestScheduler_DeletedMidFlight(t *testing.T) {
	store := newStoreMock(&domain.Endpoint{ID: 1, URL: "gone.example.com", IntervalMinutes: 5})
	png := &pingerMock{outcomes: map[string]domain.PingOutcome{
		"https://gone.example.com/": {Success: false, ErrorDetail: "timeout"},
	}}
	notif := &notifierMock{}
	s := NewScheduler(store, png, notif, &connMock{online: true}, Config{})

	ep, err := store.Get(context.Background(), 1)
	require.NoError(t, err)

	// endpoint deleted while its ping is conceptually in flight
	store.delete(1)
	s.pingEndpoint(context.Background(), *ep)

	_, err = store.Get(context.Background(), 1)
	assert.Error(t, err, "deleted endpoint not resurrected")
	assert.Zero(t, notif.callCount())
}

func TestScheduler_PingNow(t *testing.T) {
	store := newStoreMock(&domain.Endpoint{ID: 7, URL: "example.com", IntervalMinutes: 600})
	png := &pingerMock{}
	s := NewScheduler(store, png, &notifierMock{}, &connMock{online: true}, Config{})

	require.NoError(t, s.PingNow(context.Background(), 7))
	assert.Equal(t, 1, png.callCount(), "pinged regardless of interval")

	ep, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, ep.Status)

	assert.Error(t, s.PingNow(context.Background(), 999), "unknown endpoint rejected")

	store.updateStatusErr = errors.New("disk I/O error")
	assert.Error(t, s.PingNow(context.Background(), 7), "write failure surfaces to the caller")
}

func TestScheduler_InflightGuard(t *testing.T) {
	store := newStoreMock(&domain.Endpoint{ID: 1, URL: "slow.example.com", IntervalMinutes: 5})
	png := &pingerMock{}
	s := NewScheduler(store, png, &notifierMock{}, &connMock{online: true}, Config{})

	require.True(t, s.markInflight(1))
	assert.False(t, s.markInflight(1), "second ping for the same id blocked")

	// overlapping ping is skipped entirely
	ep, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	s.pingEndpoint(context.Background(), *ep)
	assert.Zero(t, png.callCount())

	s.clearInflight(1)
	s.pingEndpoint(context.Background(), *ep)
	assert.Equal(t, 1, png.callCount())
}

func TestScheduler_StartStop(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := newStoreMock(&domain.Endpoint{ID: 1, URL: "example.com", IntervalMinutes: 1, LastPingTime: &past})
	png := &pingerMock{}
	s := NewScheduler(store, png, &notifierMock{}, &connMock{online: true}, Config{TickInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // idempotent, no duplicate loop

	// the first tick runs immediately
	require.Eventually(t, func() bool { return png.callCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop() // second stop is a no-op

	assert.Equal(t, 1, png.callCount(), "no ticks after stop")
}
