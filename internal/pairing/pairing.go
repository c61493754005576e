// Package pairing issues and redeems the short-lived numeric codes that link
// an unclaimed device to a tenant.
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Session is the pending claim a code points at.
type Session struct {
	DeviceID  uuid.UUID `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store holds pairing sessions keyed by code. Codes are single-use: a
// successful Take removes the session.
type Store interface {
	// Put stores the session under a freshly minted code and returns the code.
	Put(ctx context.Context, session Session) (string, error)
	// Get returns the live session for the code without consuming it.
	Get(ctx context.Context, code string) (*Session, error)
	// Take consumes the code, returning its session exactly once.
	Take(ctx context.Context, code string) (*Session, error)
	Delete(ctx context.Context, code string) error
}

// NewCode mints a 6-digit decimal code, zero-padded.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
