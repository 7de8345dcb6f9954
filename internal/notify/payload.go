package notify

import (
	"fmt"
	"time"

	"github.com/RankForge/server/internal/storage"
)

// Payload is the structured body of an order notification.
type Payload struct {
	OrderID       string `json:"orderId"`
	CustomerName  string `json:"customerName"`
	Game          string `json:"game"`
	Service       string `json:"service"`
	Price         string `json:"price"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentMethod string `json:"paymentMethod"`
	Timestamp     string `json:"timestamp"`
	Synthesized   bool   `json:"synthesized,omitempty"`
}

// PayloadFromOrder describes order as of at.
func PayloadFromOrder(order storage.Order, at time.Time) Payload {
	return Payload{
		OrderID:       order.ID,
		CustomerName:  order.CustomerName,
		Game:          order.Game,
		Service:       order.Service,
		Price:         order.Price.Decimal(),
		Currency:      order.Price.Currency,
		Status:        string(order.Status),
		PaymentMethod: order.PaymentMethod,
		Timestamp:     at.UTC().Format(time.RFC3339),
		Synthesized:   order.Synthesized,
	}
}

// Map flattens the payload for storage and transport.
func (p Payload) Map() map[string]any {
	m := map[string]any{
		"orderId":       p.OrderID,
		"customerName":  p.CustomerName,
		"game":          p.Game,
		"service":       p.Service,
		"price":         p.Price,
		"currency":      p.Currency,
		"status":        p.Status,
		"paymentMethod": p.PaymentMethod,
		"timestamp":     p.Timestamp,
	}
	if p.Synthesized {
		m["synthesized"] = true
	}
	return m
}

func titleAndMessage(kind storage.NotificationType, p Payload) (string, string) {
	customer := p.CustomerName
	if customer == "" {
		customer = "A customer"
	}
	switch kind {
	case storage.NotificationNewOrder:
		return "New order", fmt.Sprintf("%s ordered %s for %s (%s %s)", customer, p.Service, p.Game, p.Price, p.Currency)
	case storage.NotificationPaymentConfirmed:
		return "Payment confirmed", fmt.Sprintf("Payment for order %s was confirmed", p.OrderID)
	case storage.NotificationOrderStatusChanged:
		return "Order updated", fmt.Sprintf("Order %s is now %s", p.OrderID, p.Status)
	}
	return string(kind), fmt.Sprintf("Order %s", p.OrderID)
}
