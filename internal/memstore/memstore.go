// Package memstore keeps every pipeline table in process memory. It backs
// the -mem development mode and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

// Store holds counters, notifications, wishlist items and products
type Store struct {
	mu            sync.Mutex
	counters      map[analytics.Key]analytics.Counters
	notifications map[int64]notification.Record
	nextID        int64
	items         map[int64]wishlist.Item
	products      map[int64]catalog.Product
}

// New creates an empty store
func New() *Store {
	return &Store{
		counters:      make(map[analytics.Key]analytics.Counters),
		notifications: make(map[int64]notification.Record),
		items:         make(map[int64]wishlist.Item),
		products:      make(map[int64]catalog.Product),
	}
}

// Analytics returns the counter repository view of the store
func (s *Store) Analytics() *AnalyticsRepo { return &AnalyticsRepo{s} }

// Notifications returns the notification repository view of the store
func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s} }

// Wishlist returns the item store view, which is also the analytics item source
func (s *Store) Wishlist() *WishlistRepo { return &WishlistRepo{s} }

// PutProduct inserts or replaces a product
func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutItem inserts or replaces a wishlist item
func (s *Store) PutItem(it wishlist.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = it
}

// Item returns a copy of a wishlist item
func (s *Store) Item(id int64) (wishlist.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// PutNotification stores a record as-is, keeping its id
func (s *Store) PutNotification(rec notification.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
	s.notifications[rec.ID] = rec
}

// NotificationCount returns the number of stored notification records
func (s *Store) NotificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

// AllNotifications returns copies of every record ordered by id
func (s *Store) AllNotifications() []notification.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Record, 0, len(s.notifications))
	for _, rec := range s.notifications {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Product implements catalog.Lookup
func (s *Store) Product(ctx context.Context, id int64) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AnalyticsRepo implements analytics.Repository
type AnalyticsRepo struct{ s *Store }

func (r *AnalyticsRepo) Update(ctx context.Context, key analytics.Key, now time.Time, fn func(*analytics.Counters) error) (*analytics.Counters, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.counters[key]
	if !ok {
		c = analytics.Counters{ProductID: key.ProductID, VariationID: key.VariationID, UpdatedAt: now}
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	r.s.counters[key] = c
	out := c
	return &out, nil
}

func (r *AnalyticsRepo) Get(ctx context.Context, key analytics.Key) (*analytics.Counters, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.counters[key]
	if !ok {
		return nil, analytics.ErrNotFound
	}
	return &c, nil
}

func (r *AnalyticsRepo) Keys(ctx context.Context) ([]analytics.Key, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	keys := make([]analytics.Key, 0, len(r.s.counters))
	for k := range r.s.counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].VariationID < keys[j].VariationID
	})
	return keys, nil
}

func (r *AnalyticsRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, c := range r.s.counters {
		if c.WishlistCount == 0 && c.UpdatedAt.Before(before) {
			delete(r.s.counters, k)
			n++
		}
	}
	return n, nil
}

// NotificationRepo implements notification.Repository
type NotificationRepo struct{ s *Store }

func (r *NotificationRepo) Insert(ctx context.Context, rec *notification.Record) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	rec.ID = r.s.nextID
	r.s.notifications[rec.ID] = *rec
	return rec.ID, nil
}

func (r *NotificationRepo) Get(ctx context.Context, id int64) (*notification.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.notifications[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return &rec, nil
}

func (r *NotificationRepo) Due(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*notification.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var due []*notification.Record
	for _, rec := range r.s.notifications {
		if rec.Status == notification.StatusPending && !rec.ScheduledDate.After(now) && rec.Attempts < maxAttempts {
			rec := rec
			due = append(due, &rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledDate.Equal(due[j].ScheduledDate) {
			return due[i].ScheduledDate.Before(due[j].ScheduledDate)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *NotificationRepo) Claim(ctx context.Context, id int64, maxAttempts int) (*notification.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.notifications[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	if rec.Status != notification.StatusPending || rec.Attempts >= maxAttempts {
		return nil, notification.ErrNotDispatchable
	}
	rec.Attempts++
	r.s.notifications[id] = rec
	return &rec, nil
}

func (r *NotificationRepo) update(id int64, fn func(*notification.Record) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.notifications[id]
	if !ok {
		return notification.ErrNotFound
	}
	if err := fn(&rec); err != nil {
		return err
	}
	r.s.notifications[id] = rec
	return nil
}

func (r *NotificationRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(rec *notification.Record) error {
		rec.Status = notification.StatusSent
		rec.SentDate = &at
		rec.ErrorMessage = ""
		return nil
	})
}

func (r *NotificationRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.update(id, func(rec *notification.Record) error {
		rec.Status = notification.StatusFailed
		rec.ErrorMessage = reason
		return nil
	})
}

func (r *NotificationRepo) SetOpened(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(rec *notification.Record) error {
		if rec.OpenedDate == nil {
			rec.OpenedDate = &at
		}
		return nil
	})
}

func (r *NotificationRepo) SetClicked(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(rec *notification.Record) error {
		if rec.ClickedDate == nil {
			rec.ClickedDate = &at
		}
		return nil
	})
}

func (r *NotificationRepo) Cancel(ctx context.Context, id int64) error {
	return r.update(id, func(rec *notification.Record) error {
		if rec.Status != notification.StatusPending {
			return notification.ErrNotDispatchable
		}
		rec.Status = notification.StatusCancelled
		return nil
	})
}

func (r *NotificationRepo) Requeue(ctx context.Context, id int64, maxAttempts int) error {
	return r.update(id, func(rec *notification.Record) error {
		if rec.Status != notification.StatusFailed || rec.Attempts >= maxAttempts {
			return notification.ErrNotDispatchable
		}
		rec.Status = notification.StatusPending
		return nil
	})
}

func (r *NotificationRepo) ExistsSince(ctx context.Context, userID, productID int64, t notification.Type, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.notifications {
		if rec.UserID == nil || *rec.UserID != userID {
			continue
		}
		var recProduct int64
		if rec.ProductID != nil {
			recProduct = *rec.ProductID
		}
		if recProduct != productID {
			continue
		}
		if rec.Type != t || rec.CreatedAt.Before(since) {
			continue
		}
		if rec.Status == notification.StatusPending || rec.Status == notification.StatusSent {
			return true, nil
		}
	}
	return false, nil
}

func (r *NotificationRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, rec := range r.s.notifications {
		if rec.Status.Terminal() && rec.CreatedAt.Before(before) {
			delete(r.s.notifications, id)
			n++
		}
	}
	return n, nil
}

func (r *NotificationRepo) CountByStatus(ctx context.Context) (map[notification.Status]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[notification.Status]int64)
	for _, rec := range r.s.notifications {
		counts[rec.Status]++
	}
	return counts, nil
}

// WishlistRepo implements wishlist.Store and analytics.ItemSource
type WishlistRepo struct{ s *Store }

func (r *WishlistRepo) ActiveItems(ctx context.Context) ([]wishlist.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []wishlist.Item
	for _, it := range r.s.items {
		if it.Status == wishlist.StatusActive {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *WishlistRepo) UpdateOriginalPrice(ctx context.Context, itemID int64, price float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok {
		return nil
	}
	it.OriginalPrice = &price
	r.s.items[itemID] = it
	return nil
}

func (r *WishlistRepo) UpdateStockState(ctx context.Context, itemID int64, inStock bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	it, ok := r.s.items[itemID]
	if !ok {
		return nil
	}
	it.LastInStock = &inStock
	r.s.items[itemID] = it
	return nil
}

func (r *WishlistRepo) ReminderCandidates(ctx context.Context, olderThan time.Time) ([]wishlist.ReminderCandidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byWishlist := make(map[int64]*wishlist.ReminderCandidate)
	for _, it := range r.s.items {
		if it.Status != wishlist.StatusActive || !it.DateAdded.Before(olderThan) {
			continue
		}
		c, ok := byWishlist[it.WishlistID]
		if !ok {
			c = &wishlist.ReminderCandidate{UserID: it.UserID, UserEmail: it.UserEmail, WishlistID: it.WishlistID}
			byWishlist[it.WishlistID] = c
		}
		c.ItemCount++
	}
	out := make([]wishlist.ReminderCandidate, 0, len(byWishlist))
	for _, c := range byWishlist {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WishlistID < out[j].WishlistID })
	return out, nil
}

func (r *WishlistRepo) ActiveCount(ctx context.Context, key analytics.Key) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, it := range r.s.items {
		if it.ProductID == key.ProductID && it.VariationID == key.VariationID && it.Status == wishlist.StatusActive {
			n++
		}
	}
	return n, nil
}

func (r *WishlistRepo) DwellSamples(ctx context.Context, key analytics.Key) ([]analytics.DwellSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var samples []analytics.DwellSample
	for _, it := range r.s.items {
		if it.ProductID != key.ProductID || it.VariationID != key.VariationID {
			continue
		}
		if it.DateMovedToCart != nil || it.Status == wishlist.StatusPurchased {
			samples = append(samples, analytics.DwellSample{AddedAt: it.DateAdded, MovedToCartAt: it.DateMovedToCart})
		}
	}
	return samples, nil
}

var (
	_ analytics.Repository    = (*AnalyticsRepo)(nil)
	_ analytics.ItemSource    = (*WishlistRepo)(nil)
	_ notification.Repository = (*NotificationRepo)(nil)
	_ wishlist.Store          = (*WishlistRepo)(nil)
	_ catalog.Lookup          = (*Store)(nil)
)
