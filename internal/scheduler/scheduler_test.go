package scheduler_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/catalog"
	"github.com/alexnthnz/wishlist-pipeline/internal/memstore"
	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/scheduler"
	"github.com/alexnthnz/wishlist-pipeline/internal/wishlist"
)

const day = 24 * time.Hour

type recordingSink struct {
	mu     sync.Mutex
	sent   []string
	reject map[string]bool
}

func (s *recordingSink) Send(ctx context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[to] {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, to)
	return nil
}

type harness struct {
	store   *memstore.Store
	sink    *recordingSink
	notify  *notification.Service
	coord   *scheduler.Coordinator
	metrics *monitoring.Metrics
	now     time.Time
}

func newHarness(t *testing.T, locker scheduler.Locker) *harness {
	t.Helper()
	h := &harness{
		store:   memstore.New(),
		sink:    &recordingSink{reject: map[string]bool{}},
		metrics: monitoring.NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	logger := zap.NewNop()

	analyticsSvc := analytics.NewService(h.store.Analytics(), h.store.Wishlist(), h.metrics, logger)
	analyticsSvc.SetClock(clock)

	h.notify = notification.NewService(h.store.Notifications(), h.sink,
		notification.NewGenerator("Acme", "https://acme.test", "$"), h.metrics, logger)
	h.notify.SetClock(clock)

	h.coord = scheduler.NewCoordinator(analyticsSvc, h.notify, h.store.Wishlist(), h.store, locker, h.metrics, logger,
		scheduler.Config{
			BatchSize:                 10,
			DedupWindow:               7 * day,
			ReminderAfter:             14 * day,
			AnalyticsRetentionDays:    365,
			NotificationRetentionDays: 90,
			SiteURL:                   "https://acme.test/",
		})
	h.coord.SetClock(clock)
	return h
}

func (h *harness) run(t *testing.T, name string) *scheduler.TickResult {
	t.Helper()
	res, err := h.coord.RunOnce(context.Background(), name)
	if err != nil {
		t.Fatalf("RunOnce(%s) error = %v", name, err)
	}
	return res
}

func (h *harness) notificationsOfType(typ notification.Type) []notification.Record {
	var out []notification.Record
	for _, r := range h.store.AllNotifications() {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func price(v float64) *float64 { return &v }
func stock(v bool) *bool       { return &v }

func TestQueueDrainAggregatesOutcomes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, err := h.notify.Queue(ctx, notification.QueueRequest{Type: notification.TypeReminder, EmailTo: to}); err != nil {
			t.Fatal(err)
		}
	}
	h.sink.reject["b@example.com"] = true

	res := h.run(t, scheduler.TickQueueDrain)
	if res.Processed != 3 || res.Sent != 2 || res.Failed != 1 || len(res.Errors) != 0 {
		t.Errorf("result = %+v", res)
	}

	for _, r := range h.store.AllNotifications() {
		if r.Attempts != 1 {
			t.Errorf("record %d attempts = %d, want 1", r.ID, r.Attempts)
		}
	}

	// only the failed record is left and it is not due any more
	res = h.run(t, scheduler.TickQueueDrain)
	if res.Processed != 0 {
		t.Errorf("second drain processed %d", res.Processed)
	}

	if got := testutil.ToFloat64(h.metrics.QueueSize.WithLabelValues("sent")); got != 2 {
		t.Errorf("sent gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.metrics.TickRuns.WithLabelValues(scheduler.TickQueueDrain, "ok")); got != 2 {
		t.Errorf("tick runs = %v, want 2", got)
	}
}

func TestQueueDrainHonoursBatchSize(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		h.notify.Queue(ctx, notification.QueueRequest{Type: notification.TypeReminder, EmailTo: "a@example.com"})
	}

	if res := h.run(t, scheduler.TickQueueDrain); res.Processed != 10 {
		t.Errorf("first drain processed %d, want 10", res.Processed)
	}
	if res := h.run(t, scheduler.TickQueueDrain); res.Processed != 2 {
		t.Errorf("second drain processed %d, want 2", res.Processed)
	}
}

func TestPriceDropDetection(t *testing.T) {
	h := newHarness(t, nil)

	h.store.PutProduct(catalog.Product{ID: 42, Name: "Widget", Price: 15.00, InStock: true})
	h.store.PutItem(wishlist.Item{ID: 1, WishlistID: 5, ProductID: 42, UserID: 7, UserEmail: "buyer@example.com",
		OriginalPrice: price(20.00), Status: wishlist.StatusActive, DateAdded: h.now.Add(-day)})
	// product no longer in the catalog
	h.store.PutItem(wishlist.Item{ID: 2, WishlistID: 5, ProductID: 99, UserID: 7, UserEmail: "buyer@example.com",
		OriginalPrice: price(10.00), Status: wishlist.StatusActive, DateAdded: h.now.Add(-day)})
	// no recorded price
	h.store.PutItem(wishlist.Item{ID: 3, WishlistID: 5, ProductID: 42, UserID: 8, UserEmail: "other@example.com",
		Status: wishlist.StatusActive, DateAdded: h.now.Add(-day)})

	res := h.run(t, scheduler.TickPriceDrop)
	if res.Processed != 2 || res.Queued != 1 || res.Skipped != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	drops := h.notificationsOfType(notification.TypePriceDrop)
	if len(drops) != 1 {
		t.Fatalf("price drop notifications = %d, want 1", len(drops))
	}
	n := drops[0]
	if n.Subject != "Price Drop Alert: Widget" || n.EmailTo != "buyer@example.com" {
		t.Errorf("notification = %q to %q", n.Subject, n.EmailTo)
	}
	if !strings.Contains(n.Content, "$20.00") || !strings.Contains(n.Content, "$15.00") {
		t.Errorf("content missing prices:\n%s", n.Content)
	}
	if !strings.Contains(n.Content, "https://acme.test/product/42") {
		t.Errorf("content missing product url:\n%s", n.Content)
	}

	item, _ := h.store.Item(1)
	if item.OriginalPrice == nil || *item.OriginalPrice != 15.00 {
		t.Errorf("original price = %v, want 15", item.OriginalPrice)
	}

	// same price again: nothing new
	res = h.run(t, scheduler.TickPriceDrop)
	if res.Queued != 0 {
		t.Errorf("second run queued %d", res.Queued)
	}
	if got := len(h.notificationsOfType(notification.TypePriceDrop)); got != 1 {
		t.Errorf("price drop notifications = %d after rerun", got)
	}
}

func TestPriceDropWithoutRecipientStillRecordsPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.store.PutProduct(catalog.Product{ID: 1, Name: "Lamp", Price: 5})
	h.store.PutItem(wishlist.Item{ID: 1, ProductID: 1, UserID: 3, OriginalPrice: price(8), Status: wishlist.StatusActive})

	res := h.run(t, scheduler.TickPriceDrop)
	if res.Queued != 0 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if h.store.NotificationCount() != 0 {
		t.Error("notification queued without a recipient")
	}
	item, _ := h.store.Item(1)
	if *item.OriginalPrice != 5 {
		t.Errorf("original price = %v, want 5", *item.OriginalPrice)
	}
}

func TestBackInStockFiresOnTransitionWithDedup(t *testing.T) {
	h := newHarness(t, nil)
	setStock := func(in bool) {
		h.store.PutProduct(catalog.Product{ID: 42, Name: "Gadget", Price: 10, InStock: in, Permalink: "https://acme.test/gadget"})
	}
	count := func() int { return len(h.notificationsOfType(notification.TypeBackInStock)) }

	h.store.PutItem(wishlist.Item{ID: 1, WishlistID: 5, ProductID: 42, UserID: 7, UserEmail: "buyer@example.com",
		Status: wishlist.StatusActive, DateAdded: h.now.Add(-day)})

	// first observation only records state
	setStock(true)
	h.run(t, scheduler.TickBackInStock)
	if count() != 0 {
		t.Fatal("first observation queued a notification")
	}
	if item, _ := h.store.Item(1); item.LastInStock == nil || !*item.LastInStock {
		t.Fatalf("stock state = %v, want true", item.LastInStock)
	}

	// still in stock: no transition
	h.run(t, scheduler.TickBackInStock)
	if count() != 0 {
		t.Fatal("in-stock item without transition queued a notification")
	}

	setStock(false)
	h.run(t, scheduler.TickBackInStock)
	setStock(true)
	res := h.run(t, scheduler.TickBackInStock)
	if res.Queued != 1 || count() != 1 {
		t.Fatalf("restock: result = %+v, notifications = %d", res, count())
	}
	n := h.notificationsOfType(notification.TypeBackInStock)[0]
	if n.Subject != "Back in Stock: Gadget" || !strings.Contains(n.Content, "https://acme.test/gadget") {
		t.Errorf("notification = %q\n%s", n.Subject, n.Content)
	}

	// flapping within the window is suppressed
	h.now = h.now.Add(2 * day)
	setStock(false)
	h.run(t, scheduler.TickBackInStock)
	setStock(true)
	res = h.run(t, scheduler.TickBackInStock)
	if res.Queued != 0 || res.Skipped != 1 || count() != 1 {
		t.Fatalf("flap within window: result = %+v, notifications = %d", res, count())
	}

	// once the window has passed a new restock notifies again
	h.now = h.now.Add(8 * day)
	setStock(false)
	h.run(t, scheduler.TickBackInStock)
	setStock(true)
	h.run(t, scheduler.TickBackInStock)
	if count() != 2 {
		t.Errorf("notifications after window = %d, want 2", count())
	}
}

func TestBackInStockIgnoresInactiveItems(t *testing.T) {
	h := newHarness(t, nil)
	h.store.PutProduct(catalog.Product{ID: 1, Name: "Sofa", InStock: true})
	h.store.PutItem(wishlist.Item{ID: 1, ProductID: 1, UserID: 1, UserEmail: "a@example.com",
		Status: wishlist.StatusPurchased, LastInStock: stock(false)})

	res := h.run(t, scheduler.TickBackInStock)
	if res.Processed != 0 || h.store.NotificationCount() != 0 {
		t.Errorf("result = %+v, notifications = %d", res, h.store.NotificationCount())
	}
}

func TestReminderOncePerWindow(t *testing.T) {
	h := newHarness(t, nil)
	for i, added := range []time.Duration{20 * day, 30 * day, 2 * day} {
		h.store.PutItem(wishlist.Item{ID: int64(i + 1), WishlistID: 5, ProductID: int64(i + 1), UserID: 7,
			UserEmail: "buyer@example.com", Status: wishlist.StatusActive, DateAdded: h.now.Add(-added)})
	}

	res := h.run(t, scheduler.TickReminder)
	if res.Queued != 1 {
		t.Fatalf("result = %+v", res)
	}
	reminders := h.notificationsOfType(notification.TypeReminder)
	if len(reminders) != 1 || reminders[0].Subject != "Reminder: You have 2 items in your wishlist" {
		t.Fatalf("reminders = %+v", reminders)
	}
	if !strings.Contains(reminders[0].Content, "https://acme.test/wishlist") {
		t.Errorf("content missing wishlist url:\n%s", reminders[0].Content)
	}

	res = h.run(t, scheduler.TickReminder)
	if res.Queued != 0 || res.Skipped != 1 {
		t.Errorf("second run = %+v", res)
	}
}

func TestReminderGroupsWishlistsPerUser(t *testing.T) {
	h := newHarness(t, nil)
	items := []struct {
		wishlistID, userID int64
		email              string
	}{
		{5, 7, "buyer@example.com"},
		{6, 7, "buyer@example.com"},
		{6, 7, "buyer@example.com"},
		{9, 8, "other@example.com"},
	}
	for i, it := range items {
		h.store.PutItem(wishlist.Item{ID: int64(i + 1), WishlistID: it.wishlistID, ProductID: int64(i + 1), UserID: it.userID,
			UserEmail: it.email, Status: wishlist.StatusActive, DateAdded: h.now.Add(-20 * day)})
	}

	res := h.run(t, scheduler.TickReminder)
	if res.Processed != 2 || res.Queued != 2 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}

	subjects := map[string]string{}
	for _, r := range h.notificationsOfType(notification.TypeReminder) {
		subjects[r.EmailTo] = r.Subject
	}
	if got := subjects["buyer@example.com"]; got != "Reminder: You have 3 items in your wishlist" {
		t.Errorf("buyer reminder = %q", got)
	}
	if got := subjects["other@example.com"]; got != "Reminder: You have 1 items in your wishlist" {
		t.Errorf("other reminder = %q", got)
	}
}

func TestAnalyticsRecalculateTick(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key := analytics.Key{ProductID: 42}

	h.store.Analytics().Update(ctx, key, h.now, func(c *analytics.Counters) error {
		c.WishlistCount = 9
		return nil
	})
	h.store.PutItem(wishlist.Item{ID: 1, ProductID: 42, Status: wishlist.StatusActive, DateAdded: h.now})

	res := h.run(t, scheduler.TickAnalyticsRecalculate)
	if res.Processed != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	c, _ := h.store.Analytics().Get(ctx, key)
	if c.WishlistCount != 1 {
		t.Errorf("wishlist_count = %d, want 1", c.WishlistCount)
	}
}

func TestRetentionTick(t *testing.T) {
	h := newHarness(t, nil)
	h.store.PutNotification(notification.Record{ID: 1, Status: notification.StatusSent, CreatedAt: h.now.Add(-100 * day)})
	h.store.PutNotification(notification.Record{ID: 2, Status: notification.StatusSent, CreatedAt: h.now.Add(-10 * day)})

	res := h.run(t, scheduler.TickRetention)
	if res.Processed != 1 || h.store.NotificationCount() != 1 {
		t.Errorf("result = %+v, remaining = %d", res, h.store.NotificationCount())
	}
}

func TestRunOnceLocking(t *testing.T) {
	locker := scheduler.NewMutexLocker()
	h := newHarness(t, locker)
	ctx := context.Background()

	unlock, ok, _ := locker.TryLock(ctx, scheduler.TickQueueDrain, time.Minute)
	if !ok {
		t.Fatal("could not take lock")
	}

	if _, err := h.coord.RunOnce(ctx, scheduler.TickQueueDrain); !errors.Is(err, scheduler.ErrTickLocked) {
		t.Errorf("RunOnce error = %v, want ErrTickLocked", err)
	}
	if _, err := h.coord.RunOnce(ctx, scheduler.TickPriceDrop); err != nil {
		t.Errorf("other tick blocked: %v", err)
	}

	unlock()
	if _, err := h.coord.RunOnce(ctx, scheduler.TickQueueDrain); err != nil {
		t.Errorf("RunOnce after unlock error = %v", err)
	}

	if _, err := h.coord.RunOnce(ctx, "defragment"); !errors.Is(err, scheduler.ErrUnknownTick) {
		t.Errorf("RunOnce(unknown) error = %v", err)
	}
}

func TestRunOnceRecoversPanics(t *testing.T) {
	locker := scheduler.NewMutexLocker()
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	// no item store: the tick panics on a nil interface
	coord := scheduler.NewCoordinator(nil, nil, nil, nil, locker, metrics, zap.NewNop(), scheduler.Config{})

	res, err := coord.RunOnce(context.Background(), scheduler.TickPriceDrop)
	if err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Error(), "panic") {
		t.Errorf("errors = %v", res.Errors)
	}
	if res.Name != scheduler.TickPriceDrop {
		t.Errorf("name = %q", res.Name)
	}

	// the lock was released despite the panic
	if _, ok, _ := locker.TryLock(context.Background(), scheduler.TickPriceDrop, time.Minute); !ok {
		t.Error("lock still held after panic")
	}
	if got := testutil.ToFloat64(metrics.TickRuns.WithLabelValues(scheduler.TickPriceDrop, "error")); got != 1 {
		t.Errorf("error tick runs = %v, want 1", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.coord.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTicks(t *testing.T) {
	h := newHarness(t, nil)
	want := []string{"analytics_recalculate", "back_in_stock", "price_drop", "queue_drain", "reminder", "retention"}
	got := h.coord.Ticks()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Ticks() = %v, want %v", got, want)
	}
}
