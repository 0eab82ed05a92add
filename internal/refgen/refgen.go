// Package refgen generates human-readable job reference numbers in
// TSK-XXXXXX format. Collision avoidance is the caller's responsibility
// via a unique constraint and retry, exactly as the underlying store
// enforces it.
package refgen

import (
	"context"
	"crypto/rand"
	"fmt"
)

const (
	alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLen = 6
	maxRetries = 5
)

// New generates one TSK-XXXXXX reference number.
func New() (string, error) {
	buf := make([]byte, suffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := make([]byte, suffixLen)
	for i, b := range buf {
		suffix[i] = alphabet[int(b)%len(alphabet)]
	}
	return "TSK-" + string(suffix), nil
}

// Exists checks whether a reference number is already taken.
type Exists func(ctx context.Context, ref string) (bool, error)

// Unique generates a reference number, retrying on collision up to
// maxRetries times.
func Unique(ctx context.Context, exists Exists) (string, error) {
	for i := 0; i < maxRetries; i++ {
		ref, err := New()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			return ref, nil
		}
	}
	return "", fmt.Errorf("refgen: exhausted %d attempts generating a unique reference number", maxRetries)
}
