package stock_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/pglock"
	domainstock "github.com/alanyang/pglock/internal/domain/stock"
	stocksvc "github.com/alanyang/pglock/internal/service/stock"
)

// ── test doubles ──────────────────────────────────────────────────────────────

// memRepo is an in-memory stock store with the same last-write-wins
// semantics as the real table, so the racy path actually races.
type memRepo struct {
	mu    sync.Mutex
	items map[string]domainstock.Stock
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[string]domainstock.Stock)}
}

func (r *memRepo) Create(_ context.Context, s domainstock.Stock) (domainstock.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.SKU] = s
	return s, nil
}

func (r *memRepo) GetBySKU(_ context.Context, sku string) (domainstock.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[sku]
	if !ok {
		return domainstock.Stock{}, stocksvc.ErrNotFound
	}
	return s, nil
}

func (r *memRepo) SetQuantity(_ context.Context, sku string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[sku]
	if !ok {
		return stocksvc.ErrNotFound
	}
	s.Quantity = quantity
	r.items[sku] = s
	return nil
}

func (r *memRepo) UpdateWithRowLock(ctx context.Context, sku string, update func(domainstock.Stock) (int, error)) (domainstock.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[sku]
	if !ok {
		return domainstock.Stock{}, stocksvc.ErrNotFound
	}
	quantity, err := update(s)
	if err != nil {
		return domainstock.Stock{}, err
	}
	s.Quantity = quantity
	r.items[sku] = s
	return s, nil
}

// captureNotifier records every purchase broadcast, mutex-guarded for
// concurrent buys.
type captureNotifier struct {
	mu        sync.Mutex
	purchases []domainstock.Purchase
}

func (n *captureNotifier) NotifyPurchase(_ context.Context, p domainstock.Purchase) {
	n.mu.Lock()
	n.purchases = append(n.purchases, p)
	n.mu.Unlock()
}

func (n *captureNotifier) byPath(path string) []domainstock.Purchase {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domainstock.Purchase
	for _, p := range n.purchases {
		if p.Path == path {
			out = append(out, p)
		}
	}
	return out
}

// memLockConn gives the service tests a pglock backend without a database:
// one shared lock table, per-conn ownership, same outcomes as the advisory
// calls.
type memLockBackend struct {
	mu    sync.Mutex
	locks map[int64]*memLockConn
}

type memLockConn struct {
	backend *memLockBackend
}

type memRow struct {
	value bool
	err   error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

func (c *memLockConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ctx.Err()
}

func (c *memLockConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return memRow{err: err}
	}
	id := args[0].(int64)
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case strings.Contains(sql, "pg_try_advisory_lock"):
		if holder, held := b.locks[id]; held {
			return memRow{value: holder == c}
		}
		b.locks[id] = c
		return memRow{value: true}
	case strings.Contains(sql, "pg_advisory_unlock"):
		if b.locks[id] != c {
			return memRow{value: false}
		}
		delete(b.locks, id)
		return memRow{value: true}
	default:
		return memRow{err: ctx.Err()}
	}
}

func (c *memLockConn) Ping(ctx context.Context) error { return ctx.Err() }
func (c *memLockConn) Release()                       {}

type memLockProvider struct {
	backend *memLockBackend
}

func newMemLockProvider() *memLockProvider {
	return &memLockProvider{backend: &memLockBackend{locks: make(map[int64]*memLockConn)}}
}

func (p *memLockProvider) Checkout(context.Context) (pglock.Conn, error) {
	return &memLockConn{backend: p.backend}, nil
}

// ── tests ─────────────────────────────────────────────────────────────────────

func newSvc(t *testing.T, delay time.Duration, lockerOpts ...pglock.Option) (*stocksvc.Service, *memRepo, *captureNotifier) {
	t.Helper()
	repo := newMemRepo()
	notifier := &captureNotifier{}
	locker := pglock.New(newMemLockProvider(), lockerOpts...)
	return stocksvc.NewService(repo, locker, notifier, delay), repo, notifier
}

func seed(t *testing.T, svc *stocksvc.Service, sku string, qty int) {
	t.Helper()
	_, err := svc.Create(context.Background(), sku, qty)
	require.NoError(t, err)
}

func TestBuyKeyLock_Succeeds(t *testing.T) {
	svc, _, notifier := newSvc(t, 0)
	seed(t, svc, "ABC", 2)

	bought, err := svc.BuyKeyLock(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, 1, bought.Quantity)

	events := notifier.byPath("buy-safe")
	require.Len(t, events, 1)
	assert.Equal(t, "ABC", events[0].SKU)
	assert.Equal(t, 1, events[0].Remaining)
}

func TestBuyKeyLock_OutOfStock(t *testing.T) {
	svc, _, _ := newSvc(t, 0)
	seed(t, svc, "ABC", 0)

	_, err := svc.BuyKeyLock(context.Background(), "ABC")
	assert.ErrorIs(t, err, stocksvc.ErrOutOfStock)
}

func TestBuyUnsafe_RacesOnLastItem(t *testing.T) {
	// Documents the problem the lock exists to solve: both buyers read
	// quantity 1 and both "sell" it.
	svc, repo, _ := newSvc(t, 50*time.Millisecond)
	seed(t, svc, "LAST", 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.BuyUnsafe(context.Background(), "LAST")
		}(i)
	}
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1], "the race means both buys succeed")

	left, err := repo.GetBySKU(context.Background(), "LAST")
	require.NoError(t, err)
	assert.Equal(t, 0, left.Quantity, "two items sold, one existed")
}

func TestBuyKeyLock_SerialisesOnLastItem(t *testing.T) {
	svc, _, notifier := newSvc(t, 50*time.Millisecond,
		pglock.WithDefaultTimeout(5*time.Second),
		pglock.WithPollInterval(5*time.Millisecond),
	)
	seed(t, svc, "LAST", 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.BuyKeyLock(context.Background(), "LAST")
		}(i)
	}
	wg.Wait()

	var sold, outOfStock int
	for _, err := range results {
		switch {
		case err == nil:
			sold++
		case assert.ErrorIs(t, err, stocksvc.ErrOutOfStock):
			outOfStock++
		}
	}
	assert.Equal(t, 1, sold, "exactly one buyer gets the last item")
	assert.Equal(t, 1, outOfStock)
	assert.Len(t, notifier.byPath("buy-safe"), 1)
}

func TestBuyKeyLock_BusyWhenHeldPastTimeout(t *testing.T) {
	svc, _, _ := newSvc(t, 200*time.Millisecond,
		pglock.WithDefaultTimeout(30*time.Millisecond),
		pglock.WithPollInterval(5*time.Millisecond),
	)
	seed(t, svc, "HOT", 10)

	first := make(chan error, 1)
	go func() {
		_, err := svc.BuyKeyLock(context.Background(), "HOT")
		first <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the first buyer take the lock

	_, err := svc.BuyKeyLock(context.Background(), "HOT")
	assert.ErrorIs(t, err, stocksvc.ErrBusy)

	require.NoError(t, <-first)
}

func TestBuyRowLock_DecrementsAndNotifies(t *testing.T) {
	svc, _, notifier := newSvc(t, 0)
	seed(t, svc, "ROW", 1)

	bought, err := svc.BuyRowLock(context.Background(), "ROW")
	require.NoError(t, err)
	assert.Equal(t, 0, bought.Quantity)

	_, err = svc.BuyRowLock(context.Background(), "ROW")
	assert.ErrorIs(t, err, stocksvc.ErrOutOfStock)
	assert.Len(t, notifier.byPath("buy-row"), 1)
}

func TestBuy_UnknownSKU(t *testing.T) {
	svc, _, _ := newSvc(t, 0)

	_, err := svc.BuyUnsafe(context.Background(), "NOPE")
	assert.ErrorIs(t, err, stocksvc.ErrNotFound)
	_, err = svc.BuyRowLock(context.Background(), "NOPE")
	assert.ErrorIs(t, err, stocksvc.ErrNotFound)
	_, err = svc.BuyKeyLock(context.Background(), "NOPE")
	assert.ErrorIs(t, err, stocksvc.ErrNotFound)
}
