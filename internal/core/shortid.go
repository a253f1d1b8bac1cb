package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// shortIDAlphabet is case-insensitive and visually unambiguous: it drops
// 0/O, 1/I/L, 2/Z, 5/S and 8/B.
const (
	shortIDAlphabet = "34679ACDEFGHJKMNPQRTUVWXY"
	shortIDWidth    = 4
	shortIDAttempts = 8

	// DebugShortID is the reserved code for debug jobs. B is outside the
	// alphabet, so the generator can never produce it.
	DebugShortID = "DBUG"
)

// ShortIDChecker reports whether a candidate code is already held by an
// active job.
type ShortIDChecker func(ctx context.Context, shortID string) (bool, error)

// GenerateShortID draws random codes until one is free. The code space holds
// 25^4 values, so repeated collisions indicate a flooded ID space rather than
// expected contention; exhaustion is fatal, not retried.
func GenerateShortID(ctx context.Context, inUse ShortIDChecker) (string, error) {
	max := new(big.Int).Exp(big.NewInt(int64(len(shortIDAlphabet))), big.NewInt(shortIDWidth), nil)

	for attempt := 0; attempt < shortIDAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", &FatalError{Op: "generate short id", Err: err}
		}

		code := encodeShortID(n)
		taken, err := inUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check short id: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", &FatalError{
		Op:  "generate short id",
		Err: fmt.Errorf("no free code after %d attempts", shortIDAttempts),
	}
}

func encodeShortID(n *big.Int) string {
	base := big.NewInt(int64(len(shortIDAlphabet)))
	digit := new(big.Int)
	rest := new(big.Int).Set(n)

	buf := make([]byte, shortIDWidth)
	for i := shortIDWidth - 1; i >= 0; i-- {
		rest.DivMod(rest, base, digit)
		buf[i] = shortIDAlphabet[digit.Int64()]
	}
	return string(buf)
}
