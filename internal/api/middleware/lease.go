package middleware

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/api/shared"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
)

// UploadLease admits one in-flight upload request per user. A second request
// from the same user is rejected with 429 until the first returns.
type UploadLease struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewUploadLease creates an empty lease table.
func NewUploadLease() *UploadLease {
	return &UploadLease{active: make(map[uuid.UUID]struct{})}
}

// Acquire takes the lease for user. It reports false when the user already
// holds it.
func (l *UploadLease) Acquire(user uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[user]; held {
		return false
	}
	l.active[user] = struct{}{}
	return true
}

// Release gives up the lease for user.
func (l *UploadLease) Release(user uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, user)
}

// Held reports whether user currently holds the lease.
func (l *UploadLease) Held(user uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[user]
	return held
}

// Middleware enforces the lease. It must run after Authenticate.
func (l *UploadLease) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := shared.UserID(r.Context())
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
			return
		}
		if !l.Acquire(user) {
			logger.FromContext(r.Context()).Warn("rejected concurrent upload")
			shared.RespondWithError(w, r, http.StatusTooManyRequests, "Another upload from this user is in progress")
			return
		}
		defer l.Release(user)
		next.ServeHTTP(w, r)
	})
}
