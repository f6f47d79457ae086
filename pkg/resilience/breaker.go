package resilience

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/errors"
)

// State is the state of a CircuitBreaker.
type State int

const (
	// Closed means that operations are executed.
	Closed State = iota

	// Open means that operations are rejected without being executed.
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// CircuitBreaker stops executing operations for a cooldown period after too
// many consecutive failures. It's safe for concurrent use.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	clock     clockwork.Clock

	lock      sync.Mutex
	failures  int
	openUntil time.Time
}

// NewCircuitBreaker returns a closed CircuitBreaker that opens after
// `threshold` consecutive failures, and stays open for `cooldown`.
func NewCircuitBreaker(threshold int, cooldown time.Duration, clock clockwork.Clock) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
	}
}

// Execute runs `op` unless the breaker is open, in which case it returns
// ErrCircuitOpen immediately. Errors from `op` are always returned as is,
// even if they cause the breaker to open.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if cb.State() == Open {
		return errors.ErrCircuitOpen
	}

	err := op()

	cb.lock.Lock()
	defer cb.lock.Unlock()

	if err == nil {
		cb.failures = 0
		cb.openUntil = time.Time{}
		return nil
	}

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.openUntil = cb.clock.Now().Add(cb.cooldown)
		log.WithError(err).WithFields(log.Fields{
			"failures": cb.failures,
			"until":    cb.openUntil,
		}).Warn("Too many consecutive failures. Pausing transfers.")
	}
	return err
}

// State returns whether the breaker is currently rejecting operations.
func (cb *CircuitBreaker) State() State {
	cb.lock.Lock()
	defer cb.lock.Unlock()

	if cb.clock.Now().Before(cb.openUntil) {
		return Open
	}
	return Closed
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.lock.Lock()
	defer cb.lock.Unlock()

	return cb.failures
}
