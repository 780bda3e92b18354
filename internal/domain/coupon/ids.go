package coupon

import (
	"strconv"

	"github.com/go-faster/errors"
)

// ParseID parses a positive numeric identifier.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "id %q is not numeric", s)
	}
	if id <= 0 {
		return 0, errors.Wrapf(ErrInvalidInput, "id %d must be positive", id)
	}
	return id, nil
}
