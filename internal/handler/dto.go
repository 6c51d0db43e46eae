package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/foodorder/internal/checkout"
	"github.com/xenking/foodorder/internal/domain/cart"
	"github.com/xenking/foodorder/internal/domain/catalog"
	"github.com/xenking/foodorder/internal/domain/order"
)

type foodResponse struct {
	ID              int64           `json:"id"`
	BranchID        int64           `json:"branch_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	FinalPrice      decimal.Decimal `json:"final_price"`
}

func toFood(f catalog.Food) foodResponse {
	return foodResponse{
		ID:              f.ID,
		BranchID:        f.BranchID,
		Name:            f.Name,
		Price:           f.Price,
		DiscountPercent: f.DiscountPercent,
		FinalPrice:      catalog.DiscountedPrice(f.Price, catalog.ClampPercent(f.DiscountPercent)),
	}
}

type addItemRequest struct {
	FoodID   int64 `json:"food_id"`
	BranchID int64 `json:"branch_id"`
	Quantity *int  `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type cartLineResponse struct {
	FoodID   int64     `json:"food_id"`
	BranchID int64     `json:"branch_id"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

type cartResponse struct {
	UserID   int64              `json:"user_id"`
	BranchID *int64             `json:"branch_id"`
	Items    []cartLineResponse `json:"items"`
}

func toCart(c *cart.Cart) cartResponse {
	resp := cartResponse{
		UserID:   c.UserID,
		BranchID: c.BranchID,
		Items:    make([]cartLineResponse, len(c.Lines)),
	}
	for i, l := range c.Lines {
		resp.Items[i] = cartLineResponse{
			FoodID:   l.FoodID,
			BranchID: l.BranchID,
			Quantity: l.Quantity,
			AddedAt:  l.AddedAt,
		}
	}
	return resp
}

type checkoutRequest struct {
	CustomerName    string `json:"customer_name"`
	DeliveryAddress string `json:"delivery_address"`
	DeliveryPhone   string `json:"delivery_phone"`
	PaymentMethod   string `json:"payment_method"`
	CouponCode      string `json:"coupon_code"`
	Note            string `json:"note"`
}

type checkoutResponse struct {
	OrderID        string          `json:"order_id"`
	BranchID       int64           `json:"branch_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalTotal     decimal.Decimal `json:"final_total"`
	Status         order.Status    `json:"status"`
	PaymentPending bool            `json:"payment_pending"`
	PaymentError   string          `json:"payment_error,omitempty"`
}

func toCheckout(r *checkout.Result) checkoutResponse {
	return checkoutResponse{
		OrderID:        r.OrderID,
		BranchID:       r.BranchID,
		Subtotal:       r.Subtotal,
		DiscountAmount: r.DiscountAmount,
		FinalTotal:     r.FinalTotal,
		Status:         r.Status,
		PaymentPending: r.PaymentPending,
		PaymentError:   r.PaymentError,
	}
}

type orderLineResponse struct {
	FoodID          int64           `json:"food_id"`
	FoodName        string          `json:"food_name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Price           decimal.Decimal `json:"price"`
	Quantity        int             `json:"quantity"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	UserID          int64               `json:"user_id"`
	CustomerName    string              `json:"customer_name"`
	BranchID        int64               `json:"branch_id"`
	Status          order.Status        `json:"status"`
	PaymentMethod   order.PaymentMethod `json:"payment_method"`
	CouponCode      *string             `json:"coupon_code"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	TotalPrice      decimal.Decimal     `json:"total_price"`
	DeliveryAddress string              `json:"delivery_address"`
	CustomerPhone   string              `json:"customer_phone"`
	Note            string              `json:"note"`
	Items           []orderLineResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toOrder(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		CustomerName:    o.CustomerName,
		BranchID:        o.BranchID,
		Status:          o.Status,
		PaymentMethod:   o.PaymentMethod,
		CouponCode:      o.CouponCode,
		Subtotal:        o.Subtotal,
		DiscountAmount:  o.DiscountAmount,
		TotalPrice:      o.TotalPrice,
		DeliveryAddress: o.DeliveryAddress,
		CustomerPhone:   o.CustomerPhone,
		Note:            o.Note,
		Items:           make([]orderLineResponse, len(o.Lines)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for i, l := range o.Lines {
		resp.Items[i] = orderLineResponse{
			FoodID:          l.FoodID,
			FoodName:        l.FoodName,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			Price:           l.Price,
			Quantity:        l.Quantity,
		}
	}
	return resp
}

type statusRequest struct {
	Action string `json:"action"`
}
