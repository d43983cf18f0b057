package breakers

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker guards an external dependency (store, evidence source) so a failing
// collaborator fails the run fast instead of hanging every stage behind it.
type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// Do runs fn through the breaker when only the error matters.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.Execute(func() (any, error) { return nil, fn() })
	return err
}

func (b *Breaker) State() cb.State { return b.cb.State() }
