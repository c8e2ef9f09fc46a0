package webserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/tally"
	"github.com/stake-plus/questdao/src/types"
)

type Quests struct {
	store *store.Store
	gov   *governance.Orchestrator
	tally *tally.Reconciler
}

func NewQuests(st *store.Store, gov *governance.Orchestrator, rec *tally.Reconciler) Quests {
	return Quests{store: st, gov: gov, tally: rec}
}

func (h Quests) Create(c *gin.Context) {
	var req governance.NewQuest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	q, err := h.gov.CreateQuest(c, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h Quests) Get(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	q, err := h.store.GetQuest(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	if q.Answers, err = h.store.Answers(c, key); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Quests) AddAnswers(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	var req struct {
		Answers []governance.NewAnswer `json:"answers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	answers, err := h.gov.AddAnswers(c, key, req.Answers)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, answers)
}

// Transition runs one phase transition named by the :op path segment.
func (h Quests) Transition(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	ops := map[string]func(context.Context, uint64) (governance.Result, error){
		"resolve-draft":    h.gov.ResolveDraft,
		"publish":          h.gov.Publish,
		"finish":           h.gov.Finish,
		"start-decision":   h.gov.StartDecision,
		"resolve-decision": h.gov.ResolveDecision,
		"start-answer":     h.gov.StartAnswer,
		"resolve-answer":   h.gov.ResolveAnswer,
		"settle-market":    h.gov.SettleMarket,
		"refund":           h.gov.Refund,
	}
	run, ok := ops[c.Param("op")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"err": "unknown transition " + c.Param("op")})
		return
	}
	res, err := run(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Quests) Reconcile(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	res, err := h.gov.ReconcilePending(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Tally returns the local per-choice power of a phase, and for binary
// phases the ledger's tally next to it.
func (h Quests) Tally(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	if _, err := h.store.GetQuest(c, key); err != nil {
		fail(c, err)
		return
	}
	phase := types.Phase(strings.ToLower(c.Param("phase")))
	switch phase {
	case types.PhaseAnswer:
		sums, err := h.store.SumAnswerPower(c, key)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"phase": phase, "local": sums})
	case types.PhaseDraft, types.PhaseDecision:
		local, err := h.store.SumOptionPower(c, key, phase)
		if err != nil {
			fail(c, err)
			return
		}
		body := gin.H{"phase": phase, "local": local}
		if t, err := h.tally.Reconcile(c, key, phase); err != nil {
			body["ledgerErr"] = err.Error()
		} else {
			body["ledger"] = t.Options()
			body["match"] = h.tally.Compare(c, key, t) == nil
		}
		c.JSON(http.StatusOK, body)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad phase"})
	}
}

type Seasons struct{ store *store.Store }

func NewSeasons(st *store.Store) Seasons { return Seasons{store: st} }

func (h Seasons) Create(c *gin.Context) {
	var req struct {
		Title      string          `json:"title" binding:"required,max=255"`
		CreatorFee decimal.Decimal `json:"creatorFee"`
		CharityFee decimal.Decimal `json:"charityFee"`
		ServiceFee decimal.Decimal `json:"serviceFee"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	season := &types.Season{
		Title:      req.Title,
		CreatorFee: req.CreatorFee,
		CharityFee: req.CharityFee,
		ServiceFee: req.ServiceFee,
		Active:     true,
	}
	for _, fee := range []decimal.Decimal{season.CreatorFee, season.CharityFee, season.ServiceFee} {
		if fee.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"err": "fees must not be negative"})
			return
		}
	}
	if season.TotalFee().GreaterThan(decimal.NewFromInt(100)) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "fees exceed 100%"})
		return
	}
	if err := h.store.CreateSeason(c, season); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, season)
}
