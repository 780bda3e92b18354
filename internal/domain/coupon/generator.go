package coupon

import (
	"math/rand/v2"
	"strconv"
	"sync"
)

// Discounts is the fixed set of percentages a coupon may carry.
var Discounts = [...]int{10, 15, 20, 25, 30}

const (
	codePrefix   = "OFF"
	suffixLen    = 6
	suffixSymbol = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces candidate coupon codes. It does not guarantee
// uniqueness; the issuer checks the store and retries.
type Generator interface {
	Generate() (code string, discount int)
}

// RandomGenerator draws the discount and the 6-character suffix uniformly
// and independently.
type RandomGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomGenerator returns a generator backed by src. A nil src uses the
// runtime's global source.
func NewRandomGenerator(src rand.Source) *RandomGenerator {
	g := &RandomGenerator{}
	if src != nil {
		g.rnd = rand.New(src)
	}
	return g
}

func (g *RandomGenerator) intN(n int) int {
	if g.rnd == nil {
		return rand.IntN(n)
	}
	return g.rnd.IntN(n)
}

// Generate returns a code of the form OFF{discount}-{suffix}.
func (g *RandomGenerator) Generate() (string, int) {
	if g.rnd != nil {
		g.mu.Lock()
		defer g.mu.Unlock()
	}

	discount := Discounts[g.intN(len(Discounts))]

	buf := make([]byte, 0, len(codePrefix)+2+1+suffixLen)
	buf = append(buf, codePrefix...)
	buf = strconv.AppendInt(buf, int64(discount), 10)
	buf = append(buf, '-')
	for range suffixLen {
		buf = append(buf, suffixSymbol[g.intN(len(suffixSymbol))])
	}
	return string(buf), discount
}

// ValidDiscount reports whether d belongs to Discounts.
func ValidDiscount(d int) bool {
	for _, v := range Discounts {
		if v == d {
			return true
		}
	}
	return false
}
