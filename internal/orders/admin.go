package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/RankForge/server/internal/payments"
	"github.com/RankForge/server/internal/storage"
)

// ConfirmManual marks an order paid on an administrator's word, through the
// same path a provider webhook takes. reference is an optional external
// payment reference stored as the transaction id. created is false when the
// order was already paid.
func (s *Service) ConfirmManual(ctx context.Context, orderID, reference string) (storage.Order, bool, error) {
	if orderID == "" {
		return storage.Order{}, false, fmt.Errorf("%w: order id is required", payments.ErrInvalidPayload)
	}
	// Every confirmation is its own event; markPaid keeps the order unique.
	ev := payments.WebhookEvent{
		Provider:  payments.ProviderManual,
		EventID:   "manual:" + orderID + ":" + uuid.NewString(),
		OrderID:   orderID,
		Status:    payments.StatusPaid,
		RawStatus: "manual",
		TxID:      reference,
	}

	out := s.Process(ctx, ev)
	switch out.State {
	case StateNotFound:
		return storage.Order{}, false, storage.ErrNotFound
	case StateError:
		return storage.Order{}, false, out.Err
	}
	if out.Order == nil {
		return storage.Order{}, false, errors.New("orders: manual confirmation produced no order")
	}
	return *out.Order, out.Created, nil
}
