package wizard

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned once an anonymous caller has used up the free
// contract generations. Signing in lifts the limit.
var ErrQuotaExceeded = errors.New("free generation limit reached")

// DefaultFreeGenerations is the number of drafts an anonymous caller may generate.
const DefaultFreeGenerations = 3

// Quota counts anonymous contract generations per caller key.
type Quota struct {
	limit int

	mu       sync.Mutex
	used     map[string]int
	inFlight map[string]int
}

func NewQuota(limit int) *Quota {
	if limit < 0 {
		limit = DefaultFreeGenerations
	}
	return &Quota{limit: limit, used: map[string]int{}, inFlight: map[string]int{}}
}

// Reserve claims a generation slot for key before any remote call is made.
// The returned func must be called with the outcome: only successful
// generations count against the quota. Authenticated callers are never limited.
func (q *Quota) Reserve(key string, authenticated bool) (func(success bool), error) {
	if authenticated {
		return func(bool) {}, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used[key]+q.inFlight[key] >= q.limit {
		return nil, ErrQuotaExceeded
	}
	q.inFlight[key]++
	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.inFlight[key]--
			if q.inFlight[key] == 0 {
				delete(q.inFlight, key)
			}
			if success {
				q.used[key]++
			}
		})
	}, nil
}

// Used reports how many successful anonymous generations key has made.
func (q *Quota) Used(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[key]
}

// Remaining reports how many anonymous generations key has left.
func (q *Quota) Remaining(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.limit - q.used[key] - q.inFlight[key]
	if n < 0 {
		return 0
	}
	return n
}

// Forget drops the counters for key.
func (q *Quota) Forget(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.used, key)
	delete(q.inFlight, key)
}
