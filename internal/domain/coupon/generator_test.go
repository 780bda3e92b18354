package coupon

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^OFF(10|15|20|25|30)-[A-Z0-9]{6}$`)

func TestRandomGenerator_Format(t *testing.T) {
	g := NewRandomGenerator(rand.NewPCG(1, 2))

	seen := map[int]int{}
	for range 1000 {
		code, discount := g.Generate()
		require.Regexp(t, codePattern, code)
		require.True(t, ValidDiscount(discount), "discount %d", discount)

		m := codePattern.FindStringSubmatch(code)
		got, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		assert.Equal(t, discount, got, "code %s", code)
		seen[discount]++
	}

	for _, d := range Discounts {
		assert.Positive(t, seen[d], "discount %d never drawn", d)
	}
}

func TestRandomGenerator_Deterministic(t *testing.T) {
	a := NewRandomGenerator(rand.NewPCG(42, 42))
	b := NewRandomGenerator(rand.NewPCG(42, 42))
	for range 10 {
		ca, da := a.Generate()
		cb, db := b.Generate()
		assert.Equal(t, ca, cb)
		assert.Equal(t, da, db)
	}
}

func TestRandomGenerator_GlobalSource(t *testing.T) {
	g := NewRandomGenerator(nil)
	code, discount := g.Generate()
	assert.Regexp(t, codePattern, code)
	assert.True(t, ValidDiscount(discount))
}

func TestValidDiscount(t *testing.T) {
	for _, d := range []int{10, 15, 20, 25, 30} {
		assert.True(t, ValidDiscount(d))
	}
	for _, d := range []int{0, 5, 12, 35, 100} {
		assert.False(t, ValidDiscount(d))
	}
}
