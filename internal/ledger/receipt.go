package ledger

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultReceiptPrefix is prepended to generated receipt numbers
const DefaultReceiptPrefix = "REC-"

// ReceiptGenerator produces candidate receipt numbers. Uniqueness is enforced
// by the ledger store; a collision simply asks for another number.
type ReceiptGenerator interface {
	Next() (string, error)
}

// ReceiptGeneratorFunc adapts a function to ReceiptGenerator
type ReceiptGeneratorFunc func() (string, error)

// Next calls f
func (f ReceiptGeneratorFunc) Next() (string, error) {
	return f()
}

// ULIDReceiptGenerator issues time-ordered random receipt numbers that do not
// reveal how many payments were recorded.
type ULIDReceiptGenerator struct {
	prefix  string
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDReceiptGenerator creates a generator with the given prefix
func NewULIDReceiptGenerator(prefix string) *ULIDReceiptGenerator {
	return &ULIDReceiptGenerator{
		prefix:  prefix,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Next returns a new receipt number
func (g *ULIDReceiptGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return g.prefix + id.String(), nil
}
