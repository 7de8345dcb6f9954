package httpserver

import (
	"time"

	"github.com/RankForge/server/internal/storage"
)

type sessionResponse struct {
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Game       string    `json:"game"`
	Service    string    `json:"service"`
	Status     string    `json:"status"`
	Provider   string    `json:"provider"`
	InvoiceID  string    `json:"invoiceId,omitempty"`
	PaymentURL string    `json:"paymentUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toSessionResponse(s storage.PaymentSession) sessionResponse {
	return sessionResponse{
		OrderID:    s.OrderID,
		UserID:     s.UserID,
		Amount:     s.Amount.Decimal(),
		Currency:   s.Amount.Currency,
		Game:       s.Game,
		Service:    s.Service,
		Status:     string(s.Status),
		Provider:   s.Provider,
		InvoiceID:  s.ProviderInvoiceID,
		PaymentURL: s.PaymentURL,
		CreatedAt:  s.CreatedAt,
	}
}

type orderResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId,omitempty"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail,omitempty"`
	Game          string    `json:"game"`
	Service       string    `json:"service"`
	Price         string    `json:"price"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	PaymentID     string    `json:"paymentId,omitempty"`
	PaymentMethod string    `json:"paymentMethod"`
	Synthesized   bool      `json:"synthesized"`
	PaidAt        time.Time `json:"paidAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toOrderResponse(o storage.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		UserID:        o.UserID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Game:          o.Game,
		Service:       o.Service,
		Price:         o.Price.Decimal(),
		Currency:      o.Price.Currency,
		Status:        string(o.Status),
		PaymentID:     o.PaymentID,
		PaymentMethod: o.PaymentMethod,
		Synthesized:   o.Synthesized,
		PaidAt:        o.PaidAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type notificationResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toNotificationResponse(n storage.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
