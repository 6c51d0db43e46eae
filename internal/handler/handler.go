// Package handler serves the public HTTP API, the branch websocket and the
// internal notification endpoint.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/internal/domain/order"
	"github.com/xenking/foodorder/pkg/httpmiddleware"
)

// Carts is the cart use case.
type Carts interface {
	AddItem(ctx context.Context, userID, foodID, branchID int64, qty int) error
	SetQuantity(ctx context.Context, userID, foodID int64, qty int) error
	List(ctx context.Context, userID int64) (*cart.Cart, error)
	Clear(ctx context.Context, userID int64) error
}

// Menu reads the branch catalog.
type Menu interface {
	catalog.Resolver
	ListByBranch(ctx context.Context, branchID int64) ([]catalog.Food, error)
}

// Checkout places orders.
type Checkout interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// Orders reads and transitions orders on behalf of an actor.
type Orders interface {
	Get(ctx context.Context, actor order.Actor, id string) (*order.Order, error)
	ListByBranch(ctx context.Context, actor order.Actor, branchID int64, f order.ListFilter) ([]order.Order, error)
	ListByUser(ctx context.Context, actor order.Actor, userID int64, f order.ListFilter) ([]order.Order, error)
	UpdateStatus(ctx context.Context, actor order.Actor, id string, action order.Action) (*order.Order, error)
	Cancel(ctx context.Context, actor order.Actor, id string) (*order.Order, error)
}

// Hub accepts branch listeners and delivers to them.
type Hub interface {
	notify.Sender
	ServeWS(w http.ResponseWriter, r *http.Request, branchID int64)
}

// TokenVerifier validates user tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// KeyAuthenticator validates service API keys.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Deps are the collaborators of the Handler.
type Deps struct {
	Carts    Carts
	Menu     Menu
	Checkout Checkout
	Orders   Orders
	Hub      Hub
	Tokens   TokenVerifier
	APIKeys  KeyAuthenticator
	Logger   *zap.Logger
}

// Config tunes the routes.
type Config struct {
	// RequestTimeout bounds /api requests. Zero disables it.
	RequestTimeout time.Duration
	// APIMiddlewares run on /api routes after the caller is authenticated.
	APIMiddlewares []httpmiddleware.Middleware
}

// Handler implements the HTTP routes.
type Handler struct {
	carts    Carts
	menu     Menu
	checkout Checkout
	orders   Orders
	hub      Hub
	tokens   TokenVerifier
	apikeys  KeyAuthenticator
	lg       *zap.Logger
	cfg      Config
}

// New creates a Handler.
func New(deps Deps, cfg Config) *Handler {
	return &Handler{
		carts:    deps.Carts,
		menu:     deps.Menu,
		checkout: deps.Checkout,
		orders:   deps.Orders,
		hub:      deps.Hub,
		tokens:   deps.Tokens,
		apikeys:  deps.APIKeys,
		lg:       deps.Logger,
		cfg:      cfg,
	}
}

// AuthenticateToken stores the principal of a valid bearer token in ctx.
func (h *Handler) AuthenticateToken(ctx context.Context, token string) (context.Context, error) {
	p, err := h.tokens.Verify(token)
	if err != nil {
		return ctx, err
	}
	return auth.WithPrincipal(ctx, p), nil
}

// Routes returns the router for every endpoint of the api server except
// probes and metrics.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(httpmiddleware.Authenticate(h.AuthenticateToken))
		for _, mw := range h.cfg.APIMiddlewares {
			r.Use(mw)
		}
		if h.cfg.RequestTimeout > 0 {
			r.Use(httpmiddleware.Timeout(h.cfg.RequestTimeout))
		}

		r.Get("/branches/{branch_id}/foods", h.listFoods)

		r.Group(func(r chi.Router) {
			r.Use(requirePrincipal)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Put("/cart/items/{food_id}", h.setCartQuantity)

			r.Post("/checkout", h.placeOrder)

			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Put("/orders/{id}/status", h.updateOrderStatus)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
		})
	})

	r.Get("/ws/{branch_id}", h.branchListener)
	r.Post("/internal/notify", h.publishNotification)

	return r
}

func requirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal is only called behind requirePrincipal.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
