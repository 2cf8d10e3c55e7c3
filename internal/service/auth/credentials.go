package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
)

// refreshMargin is how long before expiry a cached token is replaced.
const refreshMargin = time.Minute

// CredentialProvider hands out a token for the processor's own identity,
// reusing it until shortly before it expires.
type CredentialProvider struct {
	jwt    JWTService
	userID uuid.UUID
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCredentialProvider creates a provider for userID.
func NewCredentialProvider(jwt JWTService, userID uuid.UUID) *CredentialProvider {
	return &CredentialProvider{jwt: jwt, userID: userID, now: time.Now}
}

// Token returns a valid token, issuing a new one when the cached one is
// missing or about to expire.
func (p *CredentialProvider) Token(ctx context.Context) (string, error) {
	if p.userID == uuid.Nil {
		return "", ErrNoServiceUser
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(refreshMargin).Before(p.expires) {
		return p.token, nil
	}

	token, err := p.jwt.GenerateToken(ctx, p.userID)
	if err != nil {
		return "", fmt.Errorf("failed to issue processor token: %w", err)
	}
	claims, err := p.jwt.ValidateToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("issued processor token does not verify: %w", err)
	}

	p.token = token
	p.expires = claims.ExpiresAt
	logger.FromContext(ctx).Debug("issued processor token",
		"user_id", p.userID,
		"expires_at", p.expires)
	return token, nil
}
