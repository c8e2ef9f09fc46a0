package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/store"
)

type Bets struct {
	store *store.Store
	gov   *governance.Orchestrator
}

func NewBets(st *store.Store, gov *governance.Orchestrator) Bets { return Bets{store: st, gov: gov} }

// Place stakes the authenticated wallet's amount on an answer. A stake
// whose ledger outcome is unknown is parked and answered with 202.
func (h Bets) Place(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	var req struct {
		AnswerKey uint64          `json:"answerKey" binding:"required"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	b, err := h.gov.PlaceBet(c, governance.BetRequest{
		QuestKey:  key,
		AnswerKey: req.AnswerKey,
		Wallet:    c.GetString("addr"),
		Amount:    req.Amount,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h Bets) List(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	bets, err := h.store.Bettings(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bets)
}

// Confirm settles a parked stake after an operator checked the ledger.
func (h Bets) Confirm(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	var req struct {
		Landed *bool `json:"landed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	b, err := h.gov.ConfirmBet(c, key, *req.Landed)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
