package feed

import (
	"fmt"
	"strconv"

	"github.com/arloliu/changefeed/types"
)

// ParseToken converts a continuation token into the sequence it points after.
//
// The empty token maps to 0 (before the first change).
func ParseToken(token string) (uint64, error) {
	if token == "" {
		return 0, nil
	}

	seq, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidToken, token)
	}

	return seq, nil
}

// FormatToken converts a sequence into a continuation token.
func FormatToken(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}
