package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
)

type counterKey struct{ tenant, channel string }

type fakeWindowRepo struct {
	mu       sync.Mutex
	windows  []domain.ConversationWindow
	counters map[counterKey]domain.RunningQuotaCounter
}

func newFakeWindowRepo() *fakeWindowRepo {
	return &fakeWindowRepo{counters: map[counterKey]domain.RunningQuotaCounter{}}
}

func (f *fakeWindowRepo) FindOpen(_ context.Context, ch, user string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findOpen(ch, user, kind, now)
}

func (f *fakeWindowRepo) findOpen(ch, user string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error) {
	var best *domain.ConversationWindow
	for i := range f.windows {
		w := f.windows[i]
		if w.ChannelNumberID == ch && w.UserID == user && w.Kind == kind && w.Open(now) {
			if best == nil || w.ExpiresAt.After(best.ExpiresAt) {
				best = &w
			}
		}
	}
	if best == nil {
		return nil, pgx.ErrNoRows
	}
	return best, nil
}

// WithTenantLock serializes all tenants on one mutex and applies staged
// writes only when fn succeeds.
func (f *fakeWindowRepo) WithTenantLock(_ context.Context, _ string, fn func(repository.QuotaTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeQuotaTx{repo: f, counters: map[counterKey]domain.RunningQuotaCounter{}}
	for k, v := range f.counters {
		tx.counters[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	f.counters = tx.counters
	f.windows = append(f.windows, tx.inserted...)
	return nil
}

func (f *fakeWindowRepo) count(tenant, ch string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[counterKey{tenant, ch}].Count
}

type fakeQuotaTx struct {
	repo     *fakeWindowRepo
	counters map[counterKey]domain.RunningQuotaCounter
	inserted []domain.ConversationWindow
}

func (t *fakeQuotaTx) OpenWindow(_ context.Context, ch, user string, kind domain.ConversationKind, now time.Time) (*domain.ConversationWindow, error) {
	return t.repo.findOpen(ch, user, kind, now)
}

func (t *fakeQuotaTx) Counters(_ context.Context, tenantID string) ([]domain.RunningQuotaCounter, error) {
	var out []domain.RunningQuotaCounter
	for k, v := range t.counters {
		if k.tenant == tenantID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *fakeQuotaTx) ResetCounter(_ context.Context, tenantID, ch string, now time.Time) error {
	k := counterKey{tenantID, ch}
	c := t.counters[k]
	c.Count = 0
	c.LastResetTime = now
	t.counters[k] = c
	return nil
}

func (t *fakeQuotaTx) IncrementCounter(_ context.Context, tenantID, ch string, now time.Time) (int, error) {
	k := counterKey{tenantID, ch}
	c, ok := t.counters[k]
	if !ok {
		c = domain.RunningQuotaCounter{TenantID: tenantID, ChannelNumberID: ch, LastResetTime: now}
	}
	c.Count++
	t.counters[k] = c
	return c.Count, nil
}

func (t *fakeQuotaTx) InsertWindow(_ context.Context, w *domain.ConversationWindow) error {
	t.inserted = append(t.inserted, *w)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newWindowService(repo repository.WindowRepository, clk *clock, dispatcher events.Dispatcher) *WindowService {
	return NewWindowService(WindowDependencies{WindowRepo: repo, Dispatcher: dispatcher, Now: clk.Now})
}

func TestAdmitAndCreateWindow_RefusesAtQuota(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newWindowService(repo, clk, nil)

	for _, user := range []string{"u1", "u2"} {
		w, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", user, domain.ConversationKindService, 2)
		require.NoError(t, err)
		require.NotNil(t, w)
		require.Equal(t, clk.Now().Add(24*time.Hour), w.ExpiresAt)
	}

	w, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u3", domain.ConversationKindService, 2)
	require.NoError(t, err)
	require.Nil(t, w)
	require.Equal(t, 2, repo.count("t1", "ch1"))
}

func TestAdmitAndCreateWindow_QuotaSpansChannelNumbers(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newWindowService(repo, clk, nil)

	w, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindService, 1)
	require.NoError(t, err)
	require.NotNil(t, w)

	w, err = svc.AdmitAndCreateWindow(ctx, "t1", "ch2", "u1", domain.ConversationKindService, 1)
	require.NoError(t, err)
	require.Nil(t, w)
}

func TestAdmitAndCreateWindow_StaleCountersReset(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newWindowService(repo, clk, nil)

	_, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindService, 1)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	w, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u2", domain.ConversationKindService, 1)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, 1, repo.count("t1", "ch1"))
}

func TestAdmitAndCreateWindow_ReusesWindowOpenedConcurrently(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newWindowService(repo, clk, nil)

	first, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindService, 5)
	require.NoError(t, err)
	second, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindService, 5)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, repo.count("t1", "ch1"))

	marketing, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindMarketing, 5)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, marketing.ID)
	require.Equal(t, 2, repo.count("t1", "ch1"))
}

func TestAdmitAndCreateWindow_ConcurrentAdmissionsNeverExceedQuota(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := newWindowService(repo, clk, nil)

	const quota = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		failures int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := string(rune('a' + i))
			w, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", user, domain.ConversationKindService, quota)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			if w != nil {
				admitted++
			}
		}(i)
	}
	wg.Wait()

	require.Zero(t, failures)
	require.Equal(t, quota, admitted)
	require.Equal(t, quota, repo.count("t1", "ch1"))
}

func TestFindOpenWindow(t *testing.T) {
	ctx := context.Background()
	repo := newFakeWindowRepo()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	dispatcher := events.NewInMemoryDispatcher(nil)
	var opened []events.Event
	dispatcher.Subscribe(events.EventWindowOpened, func(_ context.Context, ev events.Event) error {
		opened = append(opened, ev)
		return nil
	})
	svc := newWindowService(repo, clk, dispatcher)

	w, err := svc.FindOpenWindow(ctx, "ch1", "u1", domain.ConversationKindService)
	require.NoError(t, err)
	require.Nil(t, w)

	created, err := svc.AdmitAndCreateWindow(ctx, "t1", "ch1", "u1", domain.ConversationKindService, 1)
	require.NoError(t, err)
	require.Len(t, opened, 1)

	w, err = svc.FindOpenWindow(ctx, "ch1", "u1", domain.ConversationKindService)
	require.NoError(t, err)
	require.Equal(t, created.ID, w.ID)

	clk.Advance(24 * time.Hour)
	w, err = svc.FindOpenWindow(ctx, "ch1", "u1", domain.ConversationKindService)
	require.NoError(t, err)
	require.Nil(t, w)
}
