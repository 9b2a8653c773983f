package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/trminh/vnshop/internal/domain/catalog"
	"github.com/trminh/vnshop/internal/domain/inventory"
	"github.com/trminh/vnshop/internal/domain/promotion"
	"github.com/trminh/vnshop/internal/domain/shipping"
)

// --- Mock implementations ---

type mockCatalog struct {
	skus   map[catalog.SKUKey]catalog.SKU
	getErr error
}

func (m *mockCatalog) GetSKUs(_ context.Context, keys []catalog.SKUKey) ([]catalog.SKU, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([]catalog.SKU, 0, len(keys))
	for _, key := range keys {
		if sku, ok := m.skus[key]; ok {
			out = append(out, sku)
		}
	}
	return out, nil
}

type mockEvaluator struct {
	result *promotion.Result
	err    error
}

func (m *mockEvaluator) Validate(_ context.Context, _ string, _ decimal.Decimal) (*promotion.Result, error) {
	return m.result, m.err
}

// mockOrderRepo keeps created orders in memory and mimics the storage
// layer's race-free conditional writes (stock decrement, promotion usage
// increment, pending re-check) so concurrency properties can be exercised
// without a database.
type mockOrderRepo struct {
	mu         sync.Mutex
	stock      map[catalog.SKUKey]int
	orders     map[string]*Order
	lastUpdate StatusUpdate
	promoLimit int
	promoUses  int
	createErr  error
	updateErr  error

	// beforeAddItem runs before AddItem takes the lock, standing in for a
	// write that lands between the service's status read and the repository
	// call.
	beforeAddItem func()
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		stock:  make(map[catalog.SKUKey]int),
		orders: make(map[string]*Order),
	}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing: check every line and the promotion limit before
	// applying anything.
	for _, item := range o.Items {
		key := catalog.SKUKey{ProductID: item.ProductID, VariantID: item.VariantID}
		if avail, tracked := m.stock[key]; tracked && avail < item.Quantity {
			return &inventory.InsufficientStockError{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Requested: item.Quantity,
			}
		}
	}
	if o.PromotionCode != "" && m.promoLimit > 0 && m.promoUses >= m.promoLimit {
		return promotion.ErrUsageLimitReached
	}
	for _, item := range o.Items {
		key := catalog.SKUKey{ProductID: item.ProductID, VariantID: item.VariantID}
		if _, tracked := m.stock[key]; tracked {
			m.stock[key] -= item.Quantity
		}
	}
	if o.PromotionCode != "" && m.promoLimit > 0 {
		m.promoUses++
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) List(_ context.Context, _ ListFilter) ([]Order, int, error) {
	return nil, 0, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, _ string) ([]Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, u StatusUpdate) (*Order, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUpdate = u
	o, ok := m.orders[u.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != u.From {
		return nil, ErrStateConflict
	}
	o.Status = u.To
	if u.RestoreStock {
		for _, item := range o.Items {
			key := catalog.SKUKey{ProductID: item.ProductID, VariantID: item.VariantID}
			if _, tracked := m.stock[key]; tracked {
				m.stock[key] += item.Quantity
			}
		}
	}
	return o, nil
}

func (m *mockOrderRepo) AddItem(_ context.Context, orderID string, item *Item, _ string) error {
	if m.beforeAddItem != nil {
		m.beforeAddItem()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	// Mirrors the storage layer: the pending check rides the same
	// transaction as the reservation.
	if o.Status != StatusPending {
		return ErrStateConflict
	}
	key := catalog.SKUKey{ProductID: item.ProductID, VariantID: item.VariantID}
	if avail, tracked := m.stock[key]; tracked {
		if avail < item.Quantity {
			return &inventory.InsufficientStockError{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Requested: item.Quantity,
			}
		}
		m.stock[key] -= item.Quantity
	}
	o.Items = append(o.Items, *item)
	return nil
}

func (m *mockOrderRepo) UpsertShipment(_ context.Context, u ShipmentUpdate) (*Shipment, error) {
	return &Shipment{OrderID: u.OrderID, Carrier: u.Carrier, TrackingNumber: u.TrackingNumber, Status: u.Status}, nil
}

func (m *mockOrderRepo) Logs(_ context.Context, _ string) ([]LogEntry, error) {
	return nil, nil
}

// --- Helpers ---

var testAddress = Address{
	Name:     "Nguyễn Văn An",
	Phone:    "0901234567",
	Street:   "12 Hàng Bài",
	District: "Quận Hoàn Kiếm",
	City:     "Hà Nội",
}

func newTestService(cat *mockCatalog, promos *mockEvaluator, repo *mockOrderRepo) *Service {
	return NewService(cat, promos, shipping.NewCalculator(shipping.DefaultConfig()), repo)
}

func sku(productID, variantID string, price int64, stock int) catalog.SKU {
	return catalog.SKU{
		Key:   catalog.SKUKey{ProductID: productID, VariantID: variantID},
		Name:  "SKU " + productID,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	}
}

func newCatalog(skus ...catalog.SKU) *mockCatalog {
	m := &mockCatalog{skus: make(map[catalog.SKUKey]catalog.SKU, len(skus))}
	for _, s := range skus {
		m.skus[s.Key] = s
	}
	return m
}

// --- Create ---

func TestCreate_EmptyCart(t *testing.T) {
	svc := newTestService(newCatalog(), &mockEvaluator{}, newMockOrderRepo())

	_, err := svc.Create(context.Background(), CreateRequest{ShippingAddress: testAddress})
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestCreate_BlankAddress(t *testing.T) {
	svc := newTestService(newCatalog(sku("p1", "", 100_000, 10)), &mockEvaluator{}, newMockOrderRepo())

	addr := testAddress
	addr.City = "   "
	_, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: addr,
	})
	require.ErrorIs(t, err, ErrBlankAddress)
}

func TestCreate_InvalidQuantity(t *testing.T) {
	svc := newTestService(newCatalog(sku("p1", "", 100_000, 10)), &mockEvaluator{}, newMockOrderRepo())

	_, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 0}},
		ShippingAddress: testAddress,
	})

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)
}

func TestCreate_SKUNotFound(t *testing.T) {
	svc := newTestService(newCatalog(), &mockEvaluator{}, newMockOrderRepo())

	_, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "missing", VariantID: "v9", Quantity: 1}},
		ShippingAddress: testAddress,
	})

	var nfErr *SKUNotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "missing", nfErr.ProductID)
	assert.Equal(t, "v9", nfErr.VariantID)
}

func TestCreate_PriceReconciliation(t *testing.T) {
	repo := newMockOrderRepo()
	svc := newTestService(
		newCatalog(sku("p1", "", 120_000, 10), sku("p2", "v1", 80_000, 10)),
		&mockEvaluator{},
		repo,
	)

	o, err := svc.Create(context.Background(), CreateRequest{
		UserID: "u1",
		Lines: []CartLine{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", VariantID: "v1", Quantity: 1},
		},
		ShippingMethod:  shipping.MethodStandard,
		PaymentMethod:   "cod",
		ShippingAddress: testAddress,
	})
	require.NoError(t, err)

	// Inner-city standard ships free, so final == subtotal here.
	assert.True(t, decimal.NewFromInt(320_000).Equal(o.Subtotal))
	assert.True(t, o.ShippingFee.IsZero())
	want := o.Subtotal.Add(o.ShippingFee).Sub(o.DiscountAmount).Add(o.TaxAmount)
	assert.True(t, want.Equal(o.FinalPrice))

	assert.Equal(t, StatusPending, o.Status)
	assert.NotEmpty(t, o.ID)
	assert.Regexp(t, `^ORD-\d{8}-[A-Z2-9]{6}$`, o.Number)

	// Unit prices are snapshots of the catalog at creation.
	require.Len(t, o.Items, 2)
	assert.True(t, decimal.NewFromInt(120_000).Equal(o.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(80_000).Equal(o.Items[1].UnitPrice))
}

func TestCreate_ShippingFeeComputedServerSide(t *testing.T) {
	svc := newTestService(newCatalog(sku("p1", "", 100_000, 10)), &mockEvaluator{}, newMockOrderRepo())

	addr := testAddress
	addr.City = "Đà Nẵng"
	addr.District = "Hải Châu"
	o, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
		ShippingMethod:  shipping.MethodExpress,
		ShippingAddress: addr,
		// The client claims free shipping; the server does not care.
		ClientShippingFee: decimal.Zero,
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(45_000).Equal(o.ShippingFee))
}

func TestCreate_PromotionCapApplied(t *testing.T) {
	// SALE10: 10% off capped at 50 000 on a 1 000 000 subtotal.
	promos := &mockEvaluator{
		result: &promotion.Result{
			Promotion: &promotion.Promotion{Code: "SALE10"},
			Discount:  decimal.NewFromInt(50_000),
		},
	}
	svc := newTestService(newCatalog(sku("p1", "", 1_000_000, 10)), promos, newMockOrderRepo())

	o, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
		ShippingMethod:  shipping.MethodStandard,
		ShippingAddress: testAddress,
		PromotionCode:   "SALE10",
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(50_000).Equal(o.DiscountAmount))
	assert.Equal(t, "SALE10", o.PromotionCode)
	// Subtotal above the free-shipping threshold: fee is zero.
	assert.True(t, decimal.NewFromInt(950_000).Equal(o.FinalPrice))
}

func TestCreate_ExpiredPromotionFailsWholeRequest(t *testing.T) {
	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = 5
	svc := newTestService(
		newCatalog(sku("p1", "", 100_000, 5)),
		&mockEvaluator{err: promotion.ErrExpired},
		repo,
	)

	_, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
		ShippingAddress: testAddress,
		PromotionCode:   "OLD",
	})
	require.ErrorIs(t, err, promotion.ErrExpired)

	// Nothing persisted, no stock touched.
	assert.Empty(t, repo.orders)
	assert.Equal(t, 5, repo.stock[catalog.SKUKey{ProductID: "p1"}])
}

func TestCreate_InsufficientStock(t *testing.T) {
	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = 2
	svc := newTestService(newCatalog(sku("p1", "", 100_000, 2)), &mockEvaluator{}, repo)

	_, err := svc.Create(context.Background(), CreateRequest{
		Lines:           []CartLine{{ProductID: "p1", Quantity: 3}},
		ShippingAddress: testAddress,
	})

	var isErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, "p1", isErr.ProductID)
	assert.Empty(t, repo.orders)
}

// Given N concurrent one-unit checkouts against stock K < N, exactly K
// succeed and the rest fail with insufficient stock.
func TestCreate_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const (
		stock    = 5
		attempts = 20
	)

	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = stock
	svc := newTestService(newCatalog(sku("p1", "", 100_000, stock)), &mockEvaluator{}, repo)

	var (
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)

	g, ctx := errgroup.WithContext(context.Background())
	for range attempts {
		g.Go(func() error {
			_, err := svc.Create(ctx, CreateRequest{
				Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
				ShippingAddress: testAddress,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				var isErr *inventory.InsufficientStockError
				if !errors.As(err, &isErr) {
					return err
				}
				outOfStock++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, attempts-stock, outOfStock)
	assert.Equal(t, 0, repo.stock[catalog.SKUKey{ProductID: "p1"}])
}

// Two checkouts racing for the last use of a usage-limited code must not
// both commit: validation reads a snapshot, the persisted increment is
// conditional.
func TestCreate_ConcurrentCheckoutsRespectUsageLimit(t *testing.T) {
	repo := newMockOrderRepo()
	repo.promoLimit = 1
	// The evaluator always passes: every request validated against the
	// stale uses count before any of them committed.
	promos := &mockEvaluator{
		result: &promotion.Result{
			Promotion: &promotion.Promotion{Code: "CUOICUNG", UsageLimit: 1},
			Discount:  decimal.NewFromInt(10_000),
		},
	}
	svc := newTestService(newCatalog(sku("p1", "", 100_000, 100)), promos, repo)

	var (
		mu         sync.Mutex
		succeeded  int
		limitedOut int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for range 5 {
		g.Go(func() error {
			_, err := svc.Create(ctx, CreateRequest{
				Lines:           []CartLine{{ProductID: "p1", Quantity: 1}},
				ShippingAddress: testAddress,
				PromotionCode:   "CUOICUNG",
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, promotion.ErrUsageLimitReached):
				limitedOut++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, limitedOut)
	assert.Equal(t, 1, repo.promoUses)
}

// --- UpdateStatus ---

func seedOrder(t *testing.T, repo *mockOrderRepo, status Status, items ...Item) *Order {
	t.Helper()
	o := &Order{
		ID:     "ord-1",
		Number: "ORD-20260829-TESTAA",
		Status: status,
		Items:  items,
	}
	repo.orders[o.ID] = o
	return o
}

func TestUpdateStatus_HappyPath(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusPending)
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	o, err := svc.UpdateStatus(context.Background(), "ord-1", StatusProcessing, "picked", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, "staff-1", repo.lastUpdate.ActorID)
	assert.False(t, repo.lastUpdate.RestoreStock)
}

func TestUpdateStatus_CancelRestoresStock(t *testing.T) {
	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = 0
	repo.stock[catalog.SKUKey{ProductID: "p2"}] = 4
	seedOrder(t, repo, StatusProcessing,
		Item{ProductID: "p1", Quantity: 3, UnitPrice: decimal.NewFromInt(100_000)},
		Item{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(50_000)},
	)
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	o, err := svc.UpdateStatus(context.Background(), "ord-1", StatusCancelled, "customer request", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.True(t, repo.lastUpdate.RestoreStock)
	assert.Equal(t, 3, repo.stock[catalog.SKUKey{ProductID: "p1"}])
	assert.Equal(t, 5, repo.stock[catalog.SKUKey{ProductID: "p2"}])
}

func TestUpdateStatus_DoubleCancelRejected(t *testing.T) {
	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = 0
	seedOrder(t, repo, StatusProcessing, Item{ProductID: "p1", Quantity: 2})
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	_, err := svc.UpdateStatus(context.Background(), "ord-1", StatusCancelled, "", "staff-1")
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), "ord-1", StatusCancelled, "", "staff-1")
	require.ErrorIs(t, err, ErrStateConflict)

	// Stock restored exactly once.
	assert.Equal(t, 2, repo.stock[catalog.SKUKey{ProductID: "p1"}])
}

func TestUpdateStatus_TerminalStatesAreFinal(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusDelivered)
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	_, err := svc.UpdateStatus(context.Background(), "ord-1", StatusPending, "", "staff-1")
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestUpdateStatus_DeliveredStampsShipment(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusShipped)
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	_, err := svc.UpdateStatus(context.Background(), "ord-1", StatusDelivered, "", "staff-1")
	require.NoError(t, err)
	assert.True(t, repo.lastUpdate.StampDelivered)
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	svc := newTestService(newCatalog(), &mockEvaluator{}, newMockOrderRepo())

	_, err := svc.UpdateStatus(context.Background(), "nope", StatusProcessing, "", "staff-1")
	require.ErrorIs(t, err, ErrNotFound)
}

// --- AddItem ---

func TestAddItem_OnlyWhilePending(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusProcessing)
	svc := newTestService(newCatalog(sku("p2", "", 40_000, 10)), &mockEvaluator{}, repo)

	_, err := svc.AddItem(context.Background(), "ord-1", CartLine{ProductID: "p2", Quantity: 1}, "staff-1")
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestAddItem_SnapshotsPrice(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusPending)
	svc := newTestService(newCatalog(sku("p2", "", 40_000, 10)), &mockEvaluator{}, repo)

	o, err := svc.AddItem(context.Background(), "ord-1", CartLine{ProductID: "p2", Quantity: 2}, "staff-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, decimal.NewFromInt(40_000).Equal(o.Items[0].UnitPrice))
	assert.Equal(t, 2, o.Items[0].Quantity)
}

// A cancellation landing between the service's status read and the
// repository write must reject the added line instead of stranding a
// reservation on a cancelled order.
func TestAddItem_RaceWithCancellation(t *testing.T) {
	repo := newMockOrderRepo()
	repo.stock[catalog.SKUKey{ProductID: "p1"}] = 0
	repo.stock[catalog.SKUKey{ProductID: "p2"}] = 5
	seedOrder(t, repo, StatusPending, Item{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(100_000)})
	svc := newTestService(newCatalog(sku("p2", "", 40_000, 5)), &mockEvaluator{}, repo)

	repo.beforeAddItem = func() {
		_, err := svc.UpdateStatus(context.Background(), "ord-1", StatusCancelled, "khách huỷ", "staff-2")
		require.NoError(t, err)
	}

	_, err := svc.AddItem(context.Background(), "ord-1", CartLine{ProductID: "p2", Quantity: 1}, "staff-1")
	require.ErrorIs(t, err, ErrStateConflict)

	// The cancelled order's lines were restored and nothing new was reserved.
	assert.Equal(t, 2, repo.stock[catalog.SKUKey{ProductID: "p1"}])
	assert.Equal(t, 5, repo.stock[catalog.SKUKey{ProductID: "p2"}])
}

// --- UpdateShipment ---

func TestUpdateShipment_UnknownStatus(t *testing.T) {
	repo := newMockOrderRepo()
	seedOrder(t, repo, StatusProcessing)
	svc := newTestService(newCatalog(), &mockEvaluator{}, repo)

	_, err := svc.UpdateShipment(context.Background(), "ord-1", "GHN", "VN123", Status("lost"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown shipment status")
}

func TestUpdateShipment_UnknownOrder(t *testing.T) {
	svc := newTestService(newCatalog(), &mockEvaluator{}, newMockOrderRepo())

	_, err := svc.UpdateShipment(context.Background(), "nope", "GHN", "VN123", StatusShipped)
	require.ErrorIs(t, err, ErrNotFound)
}

// --- ComputeFinalPrice ---

func TestComputeFinalPrice(t *testing.T) {
	got := ComputeFinalPrice(
		decimal.NewFromInt(1_000_000),
		decimal.NewFromInt(30_000),
		decimal.NewFromInt(50_000),
		decimal.NewFromInt(0),
	)
	assert.True(t, decimal.NewFromInt(980_000).Equal(got))
}

func TestNewNumber_Format(t *testing.T) {
	n := NewNumber(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^ORD-20260829-[A-Z2-9]{6}$`, n)
}
