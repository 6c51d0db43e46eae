//go:build integration

package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/payment"
)

var (
	testPool     *pgxpool.Pool
	firstApplied []string
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("foodorder"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		panic(err)
	}
	defer func() { _ = pg.Terminate(ctx) }()

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	testPool, err = NewPool(ctx, url)
	if err != nil {
		panic(err)
	}
	defer testPool.Close()

	if firstApplied, err = RunMigrations(ctx, testPool); err != nil {
		panic(err)
	}

	return m.Run()
}

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, []string{"001_schema", "002_quantity_cap"}, firstApplied)

	again, err := RunMigrations(ctx, testPool)
	require.NoError(t, err)
	assert.Empty(t, again, "applied versions are not rerun")

	var recorded int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&recorded))
	assert.Equal(t, len(firstApplied), recorded)

	// The cap holds for writes that bypass the repositories.
	_, err = testPool.Exec(ctx, `INSERT INTO carts (user_id) VALUES (1)`)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO cart_items (user_id, food_id, branch_id, quantity) VALUES (1, 1, 1, 1000)`)
	require.Error(t, err)
}

func TestRunMigrations_Concurrent(t *testing.T) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := RunMigrations(ctx, testPool)
			assert.NoError(t, err)
			assert.Empty(t, applied)
		}()
	}
	wg.Wait()
}

func TestFoodRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewFoodRepository(testPool)

	require.NoError(t, repo.Upsert(ctx, []catalog.Food{
		{ID: 101, BranchID: 10, Name: "Phở Bò Tái", Price: decimal.NewFromInt(50000), Available: true},
		{ID: 102, BranchID: 10, Name: "Bún Chả Hà Nội", Price: decimal.NewFromInt(45000), DiscountPercent: decimal.NewFromInt(10), Available: true},
		{ID: 103, BranchID: 10, Name: "Sold out", Price: decimal.NewFromInt(1000), Available: false},
		{ID: 104, BranchID: 11, Name: "Trà Sữa Trân Châu", Price: decimal.NewFromInt(25000), Available: true},
	}))

	prices, err := repo.Resolve(ctx, 10, []int64{101, 102})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "Bún Chả Hà Nội", prices[102].Name)
	assert.True(t, decimal.NewFromInt(10).Equal(prices[102].DiscountPercent))

	tests := []struct {
		name string
		ids  []int64
		want int64
	}{
		{name: "unavailable", ids: []int64{101, 103}, want: 103},
		{name: "other branch", ids: []int64{104}, want: 104},
		{name: "missing", ids: []int64{999}, want: 999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Resolve(ctx, 10, tt.ids)
			var unavailable *catalog.ItemUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, tt.want, unavailable.FoodID)
		})
	}

	foods, err := repo.ListByBranch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, foods, 3)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)
	const user = 500

	require.NoError(t, repo.AddItem(ctx, user, 101, 10, 1))
	require.NoError(t, repo.AddItem(ctx, user, 101, 10, 2))
	require.NoError(t, repo.AddItem(ctx, user, 102, 10, 1))
	require.ErrorIs(t, repo.AddItem(ctx, user, 104, 11, 1), cart.ErrBranchConflict)

	var invalid *cart.InvalidQuantityError
	require.ErrorAs(t, repo.AddItem(ctx, user, 101, 10, 0), &invalid)

	c, err := repo.List(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, c.BranchID)
	assert.Equal(t, int64(10), *c.BranchID)
	require.Len(t, c.Lines, 2)
	assert.Equal(t, 3, c.Lines[0].Quantity)

	require.NoError(t, repo.SetQuantity(ctx, user, 102, 5))
	require.ErrorIs(t, repo.SetQuantity(ctx, user, 999, 1), cart.ErrLineNotFound)

	require.NoError(t, repo.SetQuantity(ctx, user, 101, 0))
	require.NoError(t, repo.SetQuantity(ctx, user, 102, 0))
	c, err = repo.List(ctx, user)
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Nil(t, c.BranchID)

	// An emptied cart accepts another branch.
	require.NoError(t, repo.AddItem(ctx, user, 104, 11, 1))
	require.NoError(t, repo.Clear(ctx, user))
	c, err = repo.List(ctx, user)
	require.NoError(t, err)
	assert.True(t, c.Empty())

	unknown, err := repo.List(ctx, 9999)
	require.NoError(t, err)
	assert.True(t, unknown.Empty())
}

func TestCartRepository_QuantityCap(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)
	const user = 510

	var invalid *cart.InvalidQuantityError
	require.ErrorAs(t, repo.AddItem(ctx, user, 101, 10, cart.MaxQuantity+1), &invalid)

	require.NoError(t, repo.AddItem(ctx, user, 101, 10, 600))
	require.ErrorAs(t, repo.AddItem(ctx, user, 101, 10, 400), &invalid)
	require.NoError(t, repo.AddItem(ctx, user, 101, 10, 399))
	require.ErrorAs(t, repo.SetQuantity(ctx, user, 101, cart.MaxQuantity+1), &invalid)

	c, err := repo.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, cart.MaxQuantity, c.Lines[0].Quantity)
}

func TestCartRepository_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)

	tests := []struct {
		name  string
		user  int64
		foods func(i int) int64
		lines int
		qty   int
	}{
		{name: "same line", user: 520, foods: func(int) int64 { return 101 }, lines: 1, qty: 20},
		{name: "distinct lines", user: 521, foods: func(i int) int64 { return int64(200 + i) }, lines: 20, qty: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const writers = 20
			var wg sync.WaitGroup
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, repo.AddItem(ctx, tt.user, tt.foods(i), 10, 1))
				}()
			}
			wg.Wait()

			c, err := repo.List(ctx, tt.user)
			require.NoError(t, err)
			require.Len(t, c.Lines, tt.lines)
			total := 0
			for _, l := range c.Lines {
				assert.Equal(t, tt.qty, l.Quantity)
				total += l.Quantity
			}
			assert.Equal(t, writers, total)
			require.NotNil(t, c.BranchID)
			assert.Equal(t, int64(10), *c.BranchID)
		})
	}
}

func TestCartRepository_ConcurrentBranches(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)
	const user = 530

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.AddItem(ctx, user, int64(300+i), int64(10+i%2), 1)
			if errors.Is(err, cart.ErrBranchConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := repo.List(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, c.BranchID)
	for _, l := range c.Lines {
		assert.Equal(t, *c.BranchID, l.BranchID, "a cart never mixes branches")
	}
	assert.Equal(t, 10, len(c.Lines)+conflicts)
}

func TestCouponRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository(testPool)
	now := time.Now().UTC().Truncate(time.Second)

	written, err := repo.Upsert(ctx, []coupon.Coupon{
		{Code: "SALE10", BranchID: 10, DiscountPercent: decimal.NewFromInt(10), ActiveFrom: now.Add(-time.Hour), ActiveTo: now.Add(time.Hour), Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)

	_, err = repo.Upsert(ctx, []coupon.Coupon{
		{Code: "sale10", BranchID: 10, DiscountPercent: decimal.NewFromInt(15), ActiveFrom: now.Add(-time.Hour), ActiveTo: now.Add(time.Hour), Enabled: true},
	})
	require.NoError(t, err)

	c, err := repo.FindByCode(ctx, "Sale10", 10)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(c.DiscountPercent))
	assert.True(t, c.ActiveAt(now, 10))

	_, err = repo.FindByCode(ctx, "SALE10", 11)
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	validator := coupon.NewRepoValidator(repo)
	pct, err := validator.Validate(ctx, "sale10", 10)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(pct))
}

func newOrder(userID, branchID int64, createdAt time.Time) *order.Order {
	return &order.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		CustomerName:  "Lan",
		BranchID:      branchID,
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentBanking,
		Lines: []order.Line{
			{FoodID: 101, FoodName: "Phở Bò Tái", UnitPrice: decimal.NewFromInt(50000), Price: decimal.NewFromInt(50000), Quantity: 2},
			{FoodID: 102, FoodName: "Bún Chả Hà Nội", UnitPrice: decimal.NewFromInt(45000), DiscountPercent: decimal.NewFromInt(10), Price: decimal.NewFromInt(40500), Quantity: 1},
		},
		Subtotal:        decimal.NewFromInt(140500),
		DiscountAmount:  decimal.Zero,
		TotalPrice:      decimal.NewFromInt(140500),
		DeliveryAddress: "1 Tràng Tiền",
		CustomerPhone:   "0900000000",
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	stale := newOrder(700, 20, now.Add(-time.Hour))
	fresh := newOrder(700, 20, now)
	other := newOrder(701, 21, now)
	for _, o := range []*order.Order{stale, fresh, other} {
		require.NoError(t, repo.Create(ctx, o))
	}

	got, err := repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "Phở Bò Tái", got.Lines[0].FoodName)
	assert.True(t, decimal.NewFromInt(140500).Equal(got.TotalPrice))

	_, err = repo.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, order.ErrNotFound)

	byBranch, err := repo.ListByBranch(ctx, 20, order.ListFilter{})
	require.NoError(t, err)
	require.Len(t, byBranch, 2)
	assert.Equal(t, fresh.ID, byBranch[0].ID)
	assert.Len(t, byBranch[1].Lines, 2)

	ok, err := repo.CompareAndSetStatus(ctx, fresh.ID, order.StatusPending, order.StatusPaid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSetStatus(ctx, fresh.ID, order.StatusPending, order.StatusPaid)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.CompareAndSetStatus(ctx, uuid.NewString(), order.StatusPending, order.StatusPaid)
	require.ErrorIs(t, err, order.ErrNotFound)

	paid := order.StatusPaid
	byUser, err := repo.ListByUser(ctx, 700, order.ListFilter{Status: &paid})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, fresh.ID, byUser[0].ID)

	pending, err := repo.ListStalePending(ctx, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	ids := make([]string, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
	}
	assert.Contains(t, ids, stale.ID)
	assert.NotContains(t, ids, fresh.ID)
	assert.NotContains(t, ids, other.ID)
}

func TestOrderRepository_CreateAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	tests := []struct {
		name string
		qty  int
	}{
		{name: "zero quantity", qty: 0},
		{name: "negative quantity", qty: -1},
		{name: "over cap", qty: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder(710, 20, time.Now().UTC())
			o.Lines[1].Quantity = tt.qty

			require.Error(t, repo.Create(ctx, o))

			_, err := repo.Get(ctx, o.ID)
			require.ErrorIs(t, err, order.ErrNotFound, "a failed line must roll back the header")

			var items int
			require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM order_items WHERE order_id = $1`, o.ID).Scan(&items))
			assert.Zero(t, items)
		})
	}
}

func TestPaymentRepository(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testPool)
	repo := NewPaymentRepository(testPool)

	o := newOrder(800, 30, time.Now().UTC())
	require.NoError(t, orders.Create(ctx, o))

	_, err := repo.Latest(ctx, o.ID)
	require.ErrorIs(t, err, payment.ErrNoRecord)

	first := &payment.Record{OrderID: o.ID, Amount: o.TotalPrice, TransactionID: uuid.NewString(), Method: "BANKING", Status: payment.RecordFailed, CreatedAt: time.Now().UTC()}
	second := &payment.Record{OrderID: o.ID, Amount: o.TotalPrice, TransactionID: uuid.NewString(), Method: "BANKING", Status: payment.RecordSuccess, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	latest, err := repo.Latest(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.RecordSuccess, latest.Status)
	assert.Equal(t, second.TransactionID, latest.TransactionID)

	// Transaction ids are unique.
	dup := *second
	require.Error(t, repo.Append(ctx, &dup))
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)
	pepper := []byte("pepper")

	require.NoError(t, repo.Save(ctx, auth.APIKeyInfo{
		ID:      "payment-consumer",
		KeyHash: auth.HashAPIKey(pepper, "consumer-key"),
		Name:    "Payment event consumer",
		Scopes:  []string{auth.ScopeNotify},
	}))

	authn := auth.NewAPIKeyAuthenticator(repo, pepper)
	info, err := authn.Authenticate(ctx, "consumer-key")
	require.NoError(t, err)
	assert.Equal(t, "payment-consumer", info.ID)
	assert.True(t, info.HasScope(auth.ScopeNotify))

	_, err = repo.FindByHash(ctx, auth.HashAPIKey(pepper, "other-key"))
	require.ErrorIs(t, err, auth.ErrUnknownAPIKey)
}
