// Matrix application service HTTP handlers.
//
// Endpoints, all authenticated with the homeserver token upstream:
//   - PUT  /_matrix/app/v1/transactions/{txnId}  (event push)
//   - GET  /_matrix/app/v1/users/{userId}        (user query)
//   - GET  /_matrix/app/v1/rooms/{roomAlias}     (alias query)
//   - POST /_matrix/app/v1/ping                  (homeserver liveness probe)
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/social-credit/internal/http/middleware"
	"github.com/tbourn/social-credit/internal/matrix"
)

const (
	errCodeMatrixNotJSON  = "M_NOT_JSON"
	errCodeMatrixNotFound = "M_NOT_FOUND"
)

// PushTransaction hands each event of a pushed transaction to the engine, in
// order. Events the engine does not understand are skipped. Engine errors
// are logged and do not fail the transaction: events are marked handled
// before they are applied, so a homeserver retry could not redo them.
//
// Handling is detached from the request's cancellation so a homeserver
// timeout cannot stop a batch halfway through.
func (h *Handlers) PushTransaction(c *gin.Context) {
	var txn matrix.Transaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		middleware.MatrixError(c, http.StatusBadRequest, errCodeMatrixNotJSON, "invalid transaction body")
		return
	}

	lg := middleware.LoggerFrom(c)
	txnID, _ := middleware.TxnIDFrom(c)
	ctx := context.WithoutCancel(c.Request.Context())

	var handled, skipped, failed int
	for _, raw := range txn.Events {
		ev, ok := matrix.ToInbound(raw)
		if !ok {
			skipped++
			continue
		}
		if err := h.engine.Handle(ctx, ev); err != nil {
			failed++
			lg.Error().Err(err).
				Str("txn_id", txnID).
				Str("event_id", ev.ID).
				Str("event_type", string(ev.Kind)).
				Msg("event handling failed")
			continue
		}
		handled++
	}

	lg.Debug().
		Str("txn_id", txnID).
		Int("handled", handled).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("transaction processed")
	ok(c, http.StatusOK, gin.H{})
}

// QueryUser claims only the bot's own user id.
func (h *Handlers) QueryUser(c *gin.Context) {
	if c.Param("userId") == h.botTag {
		ok(c, http.StatusOK, gin.H{})
		return
	}
	middleware.MatrixError(c, http.StatusNotFound, errCodeMatrixNotFound, "user not managed by this service")
}

// QueryRoom answers not found: the bot owns no room aliases.
func (h *Handlers) QueryRoom(c *gin.Context) {
	middleware.MatrixError(c, http.StatusNotFound, errCodeMatrixNotFound, "room alias not managed by this service")
}

// Ping acknowledges the homeserver's liveness probe.
func (h *Handlers) Ping(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{})
}
