package negotiation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDProvider issues unique negotiation identifiers.
type IDProvider interface {
	NewID() (string, error)
}

const idPrefix = "neg_"

type ulidProvider struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDProvider constructs an IDProvider that issues "neg_"-prefixed ULIDs,
// a millisecond timestamp followed by a random suffix.
func NewULIDProvider() IDProvider {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return &ulidProvider{entropy: entropy}
}

func (p *ulidProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, err := ulid.New(ulid.Now(), p.entropy)
	if err != nil {
		return "", err
	}
	return idPrefix + value.String(), nil
}
