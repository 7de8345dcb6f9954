package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		NotificationAPI: BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 3,
		},
	})

	boom := errors.New("fallback unreachable")
	for i := 0; i < 3; i++ {
		_, err := Do(m, ServiceNotificationAPI, func() (int, error) { return 0, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}

	if got := m.State(ServiceNotificationAPI); got != "open" {
		t.Fatalf("state = %q, want open", got)
	}

	calls := 0
	_, err := Do(m, ServiceNotificationAPI, func() (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if calls != 0 {
		t.Error("function must not run while the breaker is open")
	}

	// Other services are isolated.
	if got := m.State(ServiceCryptomus); got != "closed" {
		t.Errorf("cryptomus breaker = %q", got)
	}
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})

	v, err := Do(m, ServiceStripe, func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("Do = %q, %v", v, err)
	}
	if m.State(ServiceStripe) != "disabled" {
		t.Errorf("state = %q", m.State(ServiceStripe))
	}

	var nilManager *Manager
	if _, err := nilManager.Execute(ServiceStripe, func() (interface{}, error) { return nil, nil }); err != nil {
		t.Errorf("nil manager should pass through, got %v", err)
	}
}

func TestManager_Counts(t *testing.T) {
	m := NewManager(DefaultConfig())
	_, _ = Do(m, ServiceCryptomus, func() (bool, error) { return true, nil })
	_, _ = Do(m, ServiceCryptomus, func() (bool, error) { return false, errors.New("x") })

	c := m.Counts(ServiceCryptomus)
	if c.Requests != 2 || c.TotalFailures != 1 {
		t.Errorf("counts = %+v", c)
	}
	if len(m.States()) != 3 {
		t.Errorf("states = %v", m.States())
	}
}
