package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half_open"
)

// Observer receives one call per delivery attempt, including rejected ones.
type Observer interface {
	ObserveNotification(provider string, d time.Duration, result string)
}

type ProtectedNotifierConfig struct {
	Provider         string        // label for metrics
	Timeout          time.Duration // hard timeout per send
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

// ProtectedNotifier bounds each send with a timeout and fails fast while the provider is down.
// It never retries: one call in, at most one provider attempt out.
type ProtectedNotifier struct {
	inner    Notifier
	cfg      ProtectedNotifierConfig
	observer Observer
	now      func() time.Time

	mu    sync.Mutex
	state string

	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig, observer Observer) *ProtectedNotifier {
	//defaults
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	return &ProtectedNotifier{
		inner:    inner,
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
		state:    stateClosed,
	}
}

func (n *ProtectedNotifier) SendVerificationEmail(ctx context.Context, input VerificationEmailInput) error {
	start := n.now()

	// fail-fast gate
	if !n.allowRequest() {
		n.observe(start, "circuit_open")
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	err := n.inner.SendVerificationEmail(sendCtx, input)

	n.afterRequest(err)

	if err != nil {
		n.observe(start, "error")
		return err
	}

	n.observe(start, "ok")
	return nil
}

func (n *ProtectedNotifier) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *ProtectedNotifier) observe(start time.Time, result string) {
	if n.observer != nil {
		n.observer.ObserveNotification(n.cfg.Provider, n.now().Sub(start), result)
	}
}

func (n *ProtectedNotifier) allowRequest() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case stateClosed:
		return true
	case stateOpen:
		// cooldown has passed? move to half open
		if n.now().Sub(n.openedAt) >= n.cfg.Cooldown {
			n.state = stateHalfOpen
			n.halfOpenInFlight = 1
			return true
		}
		return false
	case stateHalfOpen:
		if n.halfOpenInFlight >= n.cfg.HalfOpenMaxCalls {
			return false
		}
		n.halfOpenInFlight++
		return true
	default:
		return true
	}
}

func (n *ProtectedNotifier) afterRequest(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// half-open call just finished
	if n.state == stateHalfOpen && n.halfOpenInFlight > 0 {
		n.halfOpenInFlight--
	}

	if err == nil {
		n.consecutiveFailures = 0
		n.state = stateClosed
		return
	}

	n.consecutiveFailures++

	// if half-open failed, reopen immediately
	if n.state == stateHalfOpen {
		n.state = stateOpen
		n.openedAt = n.now()
		return
	}

	if n.consecutiveFailures >= n.cfg.FailureThreshold {
		n.state = stateOpen
		n.openedAt = n.now()
	}
}
