package webserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/questdao/src/types"
)

// statusOf maps a service error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInvalidPhase),
		errors.Is(err, types.ErrNoAnswers),
		errors.Is(err, types.ErrBettingClosed),
		errors.Is(err, types.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, types.ErrAlreadyPending):
		return http.StatusLocked
	case errors.Is(err, types.ErrLedgerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrLedgerTimeout):
		return http.StatusAccepted
	case errors.Is(err, types.ErrSettlementAlreadyDone):
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. An unconfirmed ledger write is
// not a failure for the caller: it answers 202 with the in-flight op.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	switch status {
	case http.StatusAccepted:
		body := gin.H{"status": "pending", "err": err.Error()}
		var pe *types.PendingError
		if errors.As(err, &pe) {
			body["questKey"] = pe.QuestKey
			body["op"] = pe.Op
			if pe.Tx != "" {
				body["tx"] = pe.Tx
			}
		}
		c.JSON(status, body)
	case http.StatusOK:
		c.JSON(status, gin.H{"status": "already_done"})
	default:
		c.JSON(status, gin.H{"err": err.Error()})
	}
}

// uintParam parses a numeric path parameter, answering 400 when it is not
// one.
func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad " + name})
		return 0, false
	}
	return v, true
}
