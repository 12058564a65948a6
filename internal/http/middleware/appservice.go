// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the application service push endpoint: homeserver token
// authentication and transaction replay detection. Homeservers retry a
// transaction until they get a 200, reusing its txnId, so a transaction that
// already succeeded is acknowledged again without touching the engine.
// Per-event deduplication still happens in the event ledger; this only
// saves the work of re-walking a replayed batch.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// Matrix error codes used by the appservice API.
	ErrCodeMatrixUnauthorized = "M_UNAUTHORIZED"
	ErrCodeMatrixForbidden    = "M_FORBIDDEN"
	ErrCodeMatrixBadTxn       = "M_INVALID_PARAM"

	ctxKeyTxnID = "appservice.txn"
)

// MatrixError writes the {"errcode", "error"} envelope the homeserver
// expects and aborts the chain.
func MatrixError(c *gin.Context, status int, errcode, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"errcode": errcode, "error": msg})
}

// hsToken extracts the homeserver token from the Authorization bearer
// header, falling back to the legacy access_token query parameter.
func hsToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return c.Query("access_token")
}

// RequireHSToken rejects requests that do not carry token: 401 when none is
// presented, 403 when it does not match. An empty token disables the check.
func RequireHSToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := hsToken(c)
		if got == "" {
			MatrixError(c, http.StatusUnauthorized, ErrCodeMatrixUnauthorized, "missing homeserver token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			MatrixError(c, http.StatusForbidden, ErrCodeMatrixForbidden, "invalid homeserver token")
			return
		}
		c.Next()
	}
}

// TxnCache remembers completed transaction ids for a while. Safe for
// concurrent use.
type TxnCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	max  int
	now  func() time.Time
}

// NewTxnCache keeps up to max ids for ttl each. Non-positive arguments get
// defaults of one hour and 10000 entries.
func NewTxnCache(ttl time.Duration, max int) *TxnCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if max <= 0 {
		max = 10000
	}
	return &TxnCache{seen: make(map[string]time.Time), ttl: ttl, max: max, now: time.Now}
}

// Seen reports whether id completed within the ttl.
func (tc *TxnCache) Seen(id string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	at, ok := tc.seen[id]
	if !ok {
		return false
	}
	if tc.now().Sub(at) >= tc.ttl {
		delete(tc.seen, id)
		return false
	}
	return true
}

// Done records id as completed. When full, expired ids are swept first and
// the oldest entry is dropped if that was not enough.
func (tc *TxnCache) Done(id string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	now := tc.now()
	if _, ok := tc.seen[id]; !ok && len(tc.seen) >= tc.max {
		var oldestID string
		var oldest time.Time
		for k, at := range tc.seen {
			if now.Sub(at) >= tc.ttl {
				delete(tc.seen, k)
				continue
			}
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = k, at
			}
		}
		if len(tc.seen) >= tc.max {
			delete(tc.seen, oldestID)
		}
	}
	tc.seen[id] = now
}

// Len is the number of remembered ids, expired ones included.
func (tc *TxnCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.seen)
}

// TxnOptions configures TxnGuard.
type TxnOptions struct {
	// MaxLen caps the accepted txnId length. Values <= 0 default to 255.
	MaxLen int
	// Pattern restricts allowed characters. Nil means ^[A-Za-z0-9._~\-:=]+$.
	Pattern *regexp.Regexp
}

var defaultTxnPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:=]+$`)

// TxnIDFrom returns the validated transaction id, if any.
func TxnIDFrom(c *gin.Context) (string, bool) {
	v, _ := c.Get(ctxKeyTxnID)
	s := asString(v)
	return s, s != ""
}

// TxnGuard validates the :txnId path parameter and acknowledges replays of
// a completed transaction with 200 {}. A transaction counts as completed
// once its handler answered 200.
func TxnGuard(opts TxnOptions, cache *TxnCache) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 255
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultTxnPattern
	}

	return func(c *gin.Context) {
		id := c.Param("txnId")
		if id == "" || len(id) > maxLen || !pat.MatchString(id) {
			MatrixError(c, http.StatusBadRequest, ErrCodeMatrixBadTxn, "invalid transaction id")
			return
		}
		c.Set(ctxKeyTxnID, id)

		if cache.Seen(id) {
			LoggerFrom(c).Debug().Str("txn_id", id).Msg("transaction replay acknowledged")
			c.AbortWithStatusJSON(http.StatusOK, gin.H{})
			return
		}

		c.Next()

		if c.Writer.Status() == http.StatusOK && !c.IsAborted() {
			cache.Done(id)
		}
	}
}
