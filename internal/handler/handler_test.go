package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/coupon"
	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/internal/domain/order/ordertest"
	notifyhub "github.com/xenking/foodorder/internal/notify"
)

const secret = "test-secret"

type mockMenu struct {
	foods []catalog.Food
}

func (m *mockMenu) Resolve(_ context.Context, branchID int64, foodIDs []int64) (map[int64]catalog.Price, error) {
	out := make(map[int64]catalog.Price)
	for _, id := range foodIDs {
		found := false
		for _, f := range m.foods {
			if f.ID == id && f.BranchID == branchID && f.Available {
				out[id] = catalog.Price{FoodID: id, Name: f.Name, UnitPrice: f.Price, DiscountPercent: f.DiscountPercent}
				found = true
			}
		}
		if !found {
			return nil, &catalog.ItemUnavailableError{FoodID: id, BranchID: branchID}
		}
	}
	return out, nil
}

func (m *mockMenu) ListByBranch(_ context.Context, branchID int64) ([]catalog.Food, error) {
	var out []catalog.Food
	for _, f := range m.foods {
		if f.BranchID == branchID {
			out = append(out, f)
		}
	}
	return out, nil
}

type mockCheckout struct {
	res *checkout.Result
	err error
	req checkout.Request
}

func (m *mockCheckout) Checkout(_ context.Context, req checkout.Request) (*checkout.Result, error) {
	m.req = req
	return m.res, m.err
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *recordingSender) Send(_ context.Context, _ int64, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

type mockKeys map[string]*auth.APIKeyInfo

func (m mockKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m[hash]
	if !ok {
		return nil, auth.ErrUnknownAPIKey
	}
	return info, nil
}

type fixture struct {
	srv      *httptest.Server
	orders   *ordertest.Repository
	checkout *mockCheckout
	hub      *notifyhub.Hub
	sent     *recordingSender
	verifier *auth.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pepper := []byte("pepper")
	keys := mockKeys{
		auth.HashAPIKey(pepper, "consumer-key"): {ID: "k1", Name: "payment-consumer", Scopes: []string{auth.ScopeNotify}},
		auth.HashAPIKey(pepper, "reader-key"):   {ID: "k2", Name: "reader"},
	}
	for hash, info := range keys {
		info.KeyHash = hash
	}

	f := &fixture{
		orders:   ordertest.NewRepository(),
		checkout: &mockCheckout{},
		hub:      notifyhub.NewHub(notifyhub.HubConfig{}, nil, zap.NewNop()),
		sent:     &recordingSender{},
		verifier: auth.NewVerifier(secret),
	}
	menu := &mockMenu{foods: []catalog.Food{
		{ID: 1, BranchID: 3, Name: "Phở Bò Tái", Price: decimal.NewFromInt(50000), Available: true},
		{ID: 2, BranchID: 3, Name: "Bún Chả Hà Nội", Price: decimal.NewFromInt(45000), DiscountPercent: decimal.NewFromInt(10), Available: true},
		{ID: 9, BranchID: 4, Name: "Cơm Tấm", Price: decimal.NewFromInt(40000), Available: true},
	}}

	h := New(Deps{
		Carts:    cart.NewService(cart.NewMemoryStore(), time.Second, zap.NewNop()),
		Menu:     menu,
		Checkout: f.checkout,
		Orders:   order.NewService(f.orders, f.sent, zap.NewNop()),
		Hub:      f.hub,
		Tokens:   f.verifier,
		APIKeys:  auth.NewAPIKeyAuthenticator(keys, pepper),
		Logger:   zap.NewNop(),
	}, Config{RequestTimeout: time.Second})

	f.srv = httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		f.hub.Close()
		f.srv.Close()
	})
	return f
}

func (f *fixture) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := f.verifier.Sign(p, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

var (
	buyer = auth.Principal{UserID: 7, Role: auth.RoleBuyer}
	staff = auth.Principal{UserID: 70, Role: auth.RoleSeller, BranchID: 3, SellerMode: true}
)

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func seedOrder(t *testing.T, repo *ordertest.Repository, id string, status order.Status) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &order.Order{
		ID:            id,
		UserID:        buyer.UserID,
		BranchID:      3,
		Status:        status,
		PaymentMethod: order.PaymentBanking,
		TotalPrice:    decimal.NewFromInt(90000),
		Lines: []order.Line{{
			FoodID: 1, FoodName: "Phở Bò Tái", UnitPrice: decimal.NewFromInt(50000),
			Price: decimal.NewFromInt(50000), Quantity: 2,
		}},
		CreatedAt: time.Now(),
	}))
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 401, decodeBody[errorResponse](t, body).Code)

	resp, _ = f.do(t, http.MethodGet, "/api/cart", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/branches/3/foods", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "menu is public")
}

func TestListFoods(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/branches/3/foods", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	foods := decodeBody[[]foodResponse](t, body)
	require.Len(t, foods, 2)
	assert.True(t, decimal.NewFromInt(40500).Equal(foods[1].FinalPrice))
}

func TestCart_Flow(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, buyer)

	resp, body := f.do(t, http.MethodPost, "/api/cart/items", tok, map[string]any{"food_id": 1, "branch_id": 3, "quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/api/cart/items", tok, map[string]any{"food_id": 1, "branch_id": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	c := decodeBody[cartResponse](t, body)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity, "quantities accumulate, default quantity is 1")
	require.NotNil(t, c.BranchID)
	assert.Equal(t, int64(3), *c.BranchID)

	resp, body = f.do(t, http.MethodPost, "/api/cart/items", tok, map[string]any{"food_id": 9, "branch_id": 4, "quantity": 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = f.do(t, http.MethodPut, "/api/cart/items/1", tok, map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/cart/items/2", tok, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/cart", tok, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/cart", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decodeBody[cartResponse](t, body)
	assert.Empty(t, c.Items)
	assert.Nil(t, c.BranchID)
}

func TestCart_AddRejects(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, buyer)

	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "food of another branch", body: map[string]any{"food_id": 9, "branch_id": 3}, code: http.StatusUnprocessableEntity},
		{name: "zero quantity", body: map[string]any{"food_id": 1, "branch_id": 3, "quantity": 0}, code: http.StatusBadRequest},
		{name: "missing branch", body: map[string]any{"food_id": 1}, code: http.StatusBadRequest},
		{name: "unknown field", body: map[string]any{"food_id": 1, "branch_id": 3, "price": 1}, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/cart/items", tok, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, string(body))
		})
	}
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, buyer)
	f.checkout.res = &checkout.Result{
		OrderID:        "order-1",
		BranchID:       3,
		Subtotal:       decimal.NewFromInt(100000),
		DiscountAmount: decimal.NewFromInt(10000),
		FinalTotal:     decimal.NewFromInt(90000),
		Status:         order.StatusPending,
		PaymentPending: true,
		PaymentError:   "broker down",
	}

	resp, body := f.do(t, http.MethodPost, "/api/checkout", tok, map[string]any{
		"delivery_address": "12 Lê Lợi",
		"delivery_phone":   "0900000000",
		"payment_method":   "BANKING",
		"coupon_code":      "SALE10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	got := decodeBody[checkoutResponse](t, body)
	assert.Equal(t, "order-1", got.OrderID)
	assert.True(t, got.PaymentPending)
	assert.True(t, decimal.NewFromInt(90000).Equal(got.FinalTotal))
	assert.Equal(t, int64(7), f.checkout.req.UserID)
	assert.Equal(t, "SALE10", f.checkout.req.CouponCode)
}

func TestCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "validation", err: &checkout.ValidationError{Field: "payment_method", Reason: "unknown"}, code: http.StatusBadRequest},
		{name: "empty cart", err: checkout.ErrEmptyCart, code: http.StatusUnprocessableEntity},
		{name: "unavailable", err: &catalog.ItemUnavailableError{FoodID: 1, BranchID: 3}, code: http.StatusUnprocessableEntity},
		{name: "coupon", err: coupon.ErrInvalidCoupon, code: http.StatusUnprocessableEntity},
		{name: "branch conflict", err: cart.ErrBranchConflict, code: http.StatusConflict},
		{name: "in progress", err: checkout.ErrCheckoutInProgress, code: http.StatusConflict},
		{name: "quantity", err: &checkout.ValidationError{Field: "quantity", Reason: "too many"}, code: http.StatusBadRequest},
		{name: "upstream", err: &checkout.UpstreamError{Collaborator: "pricing", Err: context.DeadlineExceeded}, code: http.StatusServiceUnavailable},
		{name: "persistence", err: &checkout.PersistenceError{Err: errors.New("db down")}, code: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	f := newFixture(t)
	tok := f.token(t, buyer)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.checkout.err = tt.err
			resp, body := f.do(t, http.MethodPost, "/api/checkout", tok, map[string]any{"payment_method": "COD"})
			assert.Equal(t, tt.code, resp.StatusCode)

			e := decodeBody[errorResponse](t, body)
			assert.Equal(t, tt.code, e.Code)
			if tt.code == http.StatusInternalServerError {
				assert.NotContains(t, e.Message, "db down", "internal details are not exposed")
			}
		})
	}
}

func TestOrders_GetAndList(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f.orders, "o1", order.StatusPaid)
	seedOrder(t, f.orders, "o2", order.StatusPending)

	resp, body := f.do(t, http.MethodGet, "/api/orders/o1", f.token(t, buyer), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	o := decodeBody[orderResponse](t, body)
	assert.Equal(t, order.StatusPaid, o.Status)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Phở Bò Tái", o.Items[0].FoodName)

	stranger := auth.Principal{UserID: 8, Role: auth.RoleBuyer}
	resp, _ = f.do(t, http.MethodGet, "/api/orders/o1", f.token(t, stranger), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/orders/missing", f.token(t, buyer), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/orders?branch_id=3&status=PENDING", f.token(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]orderResponse](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, "o2", list[0].ID)

	resp, _ = f.do(t, http.MethodGet, "/api/orders?branch_id=3", f.token(t, buyer), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/orders", f.token(t, buyer), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]orderResponse](t, body), 2)

	resp, _ = f.do(t, http.MethodGet, "/api/orders?status=LOST", f.token(t, buyer), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrders_StatusAndCancel(t *testing.T) {
	f := newFixture(t)
	seedOrder(t, f.orders, "o1", order.StatusPaid)
	seedOrder(t, f.orders, "o2", order.StatusPending)

	tests := []struct {
		name   string
		token  auth.Principal
		method string
		path   string
		body   any
		code   int
		status order.Status
	}{
		{name: "staff starts cooking", token: staff, method: http.MethodPut, path: "/api/orders/o1/status", body: map[string]string{"action": "start_cooking"}, code: http.StatusOK, status: order.StatusCooking},
		{name: "skipping a step", token: staff, method: http.MethodPut, path: "/api/orders/o1/status", body: map[string]string{"action": "complete"}, code: http.StatusConflict},
		{name: "buyer cannot cook", token: buyer, method: http.MethodPut, path: "/api/orders/o1/status", body: map[string]string{"action": "dispatch"}, code: http.StatusForbidden},
		{name: "system action over http", token: staff, method: http.MethodPut, path: "/api/orders/o2/status", body: map[string]string{"action": "mark_paid"}, code: http.StatusForbidden},
		{name: "unknown action", token: staff, method: http.MethodPut, path: "/api/orders/o1/status", body: map[string]string{"action": "eat"}, code: http.StatusBadRequest},
		{name: "owner cancels pending", token: buyer, method: http.MethodPost, path: "/api/orders/o2/cancel", code: http.StatusOK, status: order.StatusCancelled},
		{name: "cancel twice", token: buyer, method: http.MethodPost, path: "/api/orders/o2/cancel", code: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, f.token(t, tt.token), tt.body)
			require.Equal(t, tt.code, resp.StatusCode, string(body))
			if tt.status != "" {
				assert.Equal(t, tt.status, decodeBody[orderResponse](t, body).Status)
			}
		})
	}

	f.sent.mu.Lock()
	defer f.sent.mu.Unlock()
	require.Len(t, f.sent.msgs, 2)
	assert.Equal(t, notify.KindOrderStatus, f.sent.msgs[0].Kind)
	assert.Equal(t, notify.KindOrderCancelled, f.sent.msgs[1].Kind)
}

func TestBranchListener(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http")

	dial := func(branch int64, token string) (*websocket.Conn, int) {
		u := wsURL + "/ws/" + strconv.FormatInt(branch, 10)
		if token != "" {
			u += "?token=" + token
		}
		conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, resp.StatusCode
		}
		t.Cleanup(func() { _ = conn.Close() })
		return conn, resp.StatusCode
	}

	_, code := dial(3, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	_, code = dial(3, f.token(t, buyer))
	assert.Equal(t, http.StatusForbidden, code)
	_, code = dial(4, f.token(t, staff))
	assert.Equal(t, http.StatusForbidden, code)

	conn, code := dial(3, f.token(t, staff))
	require.Equal(t, http.StatusSwitchingProtocols, code)
	require.Eventually(t, func() bool { return f.hub.Listeners(3) == 1 }, time.Second, 5*time.Millisecond)

	resp, body := f.doNotify(t, "consumer-key", `{"branch_id":3,"message":{"kind":"order_paid","order_id":"o1","text":"paid"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg notify.Message
	require.NoError(t, msg.UnmarshalJSON(data))
	assert.Equal(t, notify.KindOrderPaid, msg.Kind)
	assert.Equal(t, "o1", msg.OrderID)
}

func (f *fixture) doNotify(t *testing.T, key, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, f.srv.URL+notifyhub.PublishPath, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(notifyhub.APIKeyHeader, key)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestPublishNotification_Rejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		key  string
		body string
		code int
	}{
		{name: "no key", body: `{"branch_id":3,"message":"hi"}`, code: http.StatusUnauthorized},
		{name: "wrong key", key: "guess", body: `{"branch_id":3,"message":"hi"}`, code: http.StatusUnauthorized},
		{name: "missing scope", key: "reader-key", body: `{"branch_id":3,"message":"hi"}`, code: http.StatusForbidden},
		{name: "no branch", key: "consumer-key", body: `{"message":"hi"}`, code: http.StatusBadRequest},
		{name: "garbage", key: "consumer-key", body: `{`, code: http.StatusBadRequest},
		{name: "nobody listening", key: "consumer-key", body: `{"branch_id":5,"message":"hi"}`, code: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.doNotify(t, tt.key, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode, string(body))
		})
	}
}
