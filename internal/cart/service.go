package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

type Repository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	ProductsByID(ctx context.Context, ids []string) (map[string]domain.Product, error)
	AddItem(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, Outcome, error)
	SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.CartItem, Outcome, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
}

// Service is the cart aggregator: Postgres holds the truth and reads go
// through the cache. The cache only remembers which products are in the cart
// and how many; product data is joined fresh on every read so catalogue edits
// show up immediately. Every write invalidates the user's cache entry.
type Service struct {
	repo   Repository
	cache  Cache
	sfg    singleflight.Group
	logger *slog.Logger
}

func NewService(repo Repository, cache Cache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		// Shared by every waiter, so one caller going away must not fail the rest.
		ctx := context.WithoutCancel(ctx)

		lines, err := s.cache.Get(ctx, userID)
		if err == nil {
			return s.hydrate(ctx, lines)
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cart cache read failed", "error", err, "user_id", userID)
		}

		cart, err := s.repo.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, userID, stripProducts(cart)); err != nil {
			s.logger.Warn("cart cache write failed", "error", err, "user_id", userID)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// GetCartFresh reads the cart straight from Postgres. Checkout uses it so the
// order is priced from the rows as they are at that moment.
func (s *Service) GetCartFresh(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.repo.GetCart(ctx, userID)
}

// hydrate attaches current product data to cached lines. Lines whose product
// no longer exists are dropped.
func (s *Service) hydrate(ctx context.Context, lines *domain.Cart) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: lines.UserID, Items: make([]domain.CartItem, 0, len(lines.Items))}
	if len(lines.Items) == 0 {
		return cart, nil
	}

	ids := make([]string, 0, len(lines.Items))
	for _, item := range lines.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.ProductsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w", err)
	}

	for _, item := range lines.Items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		item.Product = p
		cart.Items = append(cart.Items, item)
	}
	return cart, nil
}

func stripProducts(cart *domain.Cart) *domain.Cart {
	lines := &domain.Cart{UserID: cart.UserID, Items: make([]domain.CartItem, len(cart.Items))}
	for i, item := range cart.Items {
		item.Product = domain.Product{}
		lines.Items[i] = item
	}
	return lines
}

func (s *Service) AddItem(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, Outcome, error) {
	item, outcome, err := s.repo.AddItem(ctx, userID, productID, delta)
	if err != nil {
		return nil, 0, err
	}
	s.invalidate(userID)
	return item, outcome, nil
}

func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.CartItem, Outcome, error) {
	item, outcome, err := s.repo.SetQuantity(ctx, userID, itemID, quantity)
	if err != nil {
		return nil, 0, err
	}
	s.invalidate(userID)
	return item, outcome, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) error {
	if err := s.repo.RemoveItem(ctx, userID, itemID); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if err := s.repo.ClearCart(ctx, userID); err != nil {
		return err
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cart cache invalidate failed", "error", err, "user_id", userID)
	}
}
