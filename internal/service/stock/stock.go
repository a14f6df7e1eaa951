package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyang/pglock"
	domainstock "github.com/alanyang/pglock/internal/domain/stock"
)

var (
	ErrNotFound   = errors.New("stock: sku not found")
	ErrOutOfStock = errors.New("stock: out of stock")

	// ErrBusy is what the key-locked buy path returns when another purchase
	// for the same SKU holds the lock past the acquire timeout.
	ErrBusy = errors.New("stock: purchase for this sku already in progress")
)

type Repository interface {
	Create(ctx context.Context, s domainstock.Stock) (domainstock.Stock, error)
	GetBySKU(ctx context.Context, sku string) (domainstock.Stock, error)
	SetQuantity(ctx context.Context, sku string, quantity int) error
	UpdateWithRowLock(ctx context.Context, sku string, update func(domainstock.Stock) (int, error)) (domainstock.Stock, error)
}

// PurchaseNotifier fans a completed purchase out to live subscribers.
type PurchaseNotifier interface {
	NotifyPurchase(ctx context.Context, p domainstock.Purchase)
}

// Service sells inventory three ways — racy, row-locked, and advisory-key
// locked — so the lock behavior can be compared against the same workload.
type Service struct {
	repo     Repository
	notifier PurchaseNotifier
	delay    time.Duration // artificial work inside the critical section

	buySafe pglock.Func
}

func NewService(repo Repository, locker *pglock.Locker, notifier PurchaseNotifier, delay time.Duration) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		delay:    delay,
	}
	// The guarded unit of work: same read/work/write as BuyUnsafe, but at
	// most one execution per SKU across every process on this database.
	s.buySafe = locker.Safe("stock:{sku}", func(ctx context.Context, args pglock.Args) (any, error) {
		return s.buy(ctx, args["sku"].(string), "buy-safe")
	}, pglock.OnConflict(func(ctx context.Context, args pglock.Args) (any, error) {
		return domainstock.Stock{}, ErrBusy
	}))
	return s
}

func (s *Service) Create(ctx context.Context, sku string, quantity int) (domainstock.Stock, error) {
	created, err := s.repo.Create(ctx, domainstock.New(sku, quantity))
	if err != nil {
		return domainstock.Stock{}, fmt.Errorf("create stock: %w", err)
	}
	return created, nil
}

func (s *Service) GetBySKU(ctx context.Context, sku string) (domainstock.Stock, error) {
	return s.repo.GetBySKU(ctx, sku)
}

// BuyUnsafe is the intentional race: two concurrent buyers can both read
// quantity > 0 and both sell the last item.
func (s *Service) BuyUnsafe(ctx context.Context, sku string) (domainstock.Stock, error) {
	return s.buy(ctx, sku, "buy-bad")
}

// BuyRowLock serialises on the stock row itself (SELECT ... FOR UPDATE).
// Works when there is a row to lock; business-key operations often have
// none.
func (s *Service) BuyRowLock(ctx context.Context, sku string) (domainstock.Stock, error) {
	bought, err := s.repo.UpdateWithRowLock(ctx, sku, func(current domainstock.Stock) (int, error) {
		if current.Quantity <= 0 {
			return 0, ErrOutOfStock
		}
		if err := sleep(ctx, s.delay); err != nil {
			return 0, err
		}
		return current.Quantity - 1, nil
	})
	if err != nil {
		return domainstock.Stock{}, err
	}
	s.notify(ctx, bought, "buy-row")
	return bought, nil
}

// BuyKeyLock serialises on the advisory lock for "stock:<sku>"; no row
// lock, no transaction held across the wait.
func (s *Service) BuyKeyLock(ctx context.Context, sku string) (domainstock.Stock, error) {
	result, err := s.buySafe(ctx, pglock.Args{"sku": sku})
	if err != nil {
		return domainstock.Stock{}, err
	}
	return result.(domainstock.Stock), nil
}

// buy is the read/work/write cycle shared by the racy and key-locked paths.
func (s *Service) buy(ctx context.Context, sku, path string) (domainstock.Stock, error) {
	current, err := s.repo.GetBySKU(ctx, sku)
	if err != nil {
		return domainstock.Stock{}, err
	}
	if current.Quantity <= 0 {
		return domainstock.Stock{}, ErrOutOfStock
	}

	// Stand-in for real work (payment call, etc.); wide enough to make the
	// unguarded race easy to reproduce with two curls.
	if err := sleep(ctx, s.delay); err != nil {
		return domainstock.Stock{}, err
	}

	current.Quantity--
	if err := s.repo.SetQuantity(ctx, sku, current.Quantity); err != nil {
		return domainstock.Stock{}, err
	}
	s.notify(ctx, current, path)
	return current, nil
}

func (s *Service) notify(ctx context.Context, bought domainstock.Stock, path string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyPurchase(ctx, domainstock.Purchase{
		SKU:       bought.SKU,
		Remaining: bought.Quantity,
		Path:      path,
		At:        time.Now().UTC(),
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
