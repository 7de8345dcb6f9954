package orders

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RankForge/server/internal/money"
	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/storage"
)

var (
	// ErrInvalidCheckout is returned for a checkout request missing required fields.
	ErrInvalidCheckout = errors.New("orders: invalid checkout request")
	// ErrSessionExists is returned when the order id already has a payment session.
	ErrSessionExists = errors.New("orders: payment session already exists")
	// ErrProviderFailed wraps an invoice creation failure.
	ErrProviderFailed = errors.New("orders: payment provider failed")
)

// CheckoutRequest starts a payment for a new order.
type CheckoutRequest struct {
	OrderID       string // generated when empty
	UserID        string
	CustomerName  string
	CustomerEmail string
	Game          string
	Service       string
	Amount        money.Money
	CallbackURL   string
}

// Validate checks required fields.
func (r CheckoutRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(r.Game) == "" {
		missing = append(missing, "game")
	}
	if strings.TrimSpace(r.Service) == "" {
		missing = append(missing, "service")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidCheckout, strings.Join(missing, ", "))
	}
	if !r.Amount.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidCheckout)
	}
	if r.CustomerEmail != "" {
		if _, err := mail.ParseAddress(r.CustomerEmail); err != nil {
			return fmt.Errorf("%w: invalid customerEmail", ErrInvalidCheckout)
		}
	}
	return nil
}

// CheckoutResult is the opened session and where to send the customer.
type CheckoutResult struct {
	Session    storage.PaymentSession
	PaymentURL string
	ExpiresAt  time.Time
}

// CreateCheckout records a pending session and opens the provider invoice.
// The order metadata rides along with the invoice so a paid webhook can
// rebuild the order even if the session is lost.
func (s *Service) CreateCheckout(ctx context.Context, provider payments.Provider, req CheckoutRequest) (CheckoutResult, error) {
	if err := req.Validate(); err != nil {
		return CheckoutResult{}, err
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	log := s.logFor(ctx).With().Str("order_id", req.OrderID).Str("provider", provider.Name()).Logger()
	now := s.now().UTC()

	session := storage.PaymentSession{
		ID:            uuid.NewString(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Game:          req.Game,
		Service:       req.Service,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Status:        storage.SessionPending,
		Provider:      provider.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.observeCheckout(provider.Name(), "rejected")
		if errors.Is(err, storage.ErrAlreadyExists) {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrSessionExists, req.OrderID)
		}
		return CheckoutResult{}, fmt.Errorf("%w: create session: %w", ErrDownstreamWrite, err)
	}

	invoice, err := provider.CreateInvoice(ctx, payments.InvoiceRequest{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		Description:   fmt.Sprintf("%s - %s", req.Game, req.Service),
		CustomerEmail: req.CustomerEmail,
		CallbackURL:   req.CallbackURL,
		Metadata: payments.AdditionalData{
			UserID:        req.UserID,
			Game:          req.Game,
			Service:       req.Service,
			CustomerEmail: req.CustomerEmail,
			CustomerName:  req.CustomerName,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("checkout.invoice_failed")
		if _, terr := s.store.TransitionSession(ctx, req.OrderID, []storage.SessionStatus{storage.SessionPending}, storage.SessionFailed, ""); terr != nil {
			log.Warn().Err(terr).Msg("checkout.session_fail_update_failed")
		}
		s.observeCheckout(provider.Name(), "provider_error")
		return CheckoutResult{}, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	if err := s.store.UpdateSessionInvoice(ctx, req.OrderID, invoice.ProviderInvoiceID, invoice.PaymentURL); err != nil {
		// The customer can still pay; the webhook finds the session by order id.
		log.Warn().Err(err).Msg("checkout.invoice_update_failed")
	}
	session.ProviderInvoiceID = invoice.ProviderInvoiceID
	session.PaymentURL = invoice.PaymentURL

	log.Info().
		Str("invoice_id", invoice.ProviderInvoiceID).
		Str("amount", req.Amount.String()).
		Msg("checkout.created")
	s.observeCheckout(provider.Name(), "created")

	return CheckoutResult{Session: session, PaymentURL: invoice.PaymentURL, ExpiresAt: invoice.ExpiresAt}, nil
}

func (s *Service) observeCheckout(provider, status string) {
	if s.metrics != nil {
		s.metrics.ObserveCheckout(provider, status)
	}
}
