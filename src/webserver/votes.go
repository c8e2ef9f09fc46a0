package webserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

type Votes struct {
	store *store.Store
	gov   *governance.Orchestrator
}

func NewVotes(st *store.Store, gov *governance.Orchestrator) Votes { return Votes{store: st, gov: gov} }

// Cast records the authenticated wallet's vote in the :phase of a quest.
func (h Votes) Cast(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	var req struct {
		Option    string `json:"option"`
		AnswerKey uint64 `json:"answerKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	vr := governance.VoteRequest{
		QuestKey:  key,
		Voter:     c.GetString("addr"),
		Option:    req.Option,
		AnswerKey: req.AnswerKey,
	}

	var (
		res governance.VoteResult
		err error
	)
	switch types.Phase(strings.ToLower(c.Param("phase"))) {
	case types.PhaseDraft:
		res, err = h.gov.CastDraftVote(c, vr)
	case types.PhaseDecision:
		res, err = h.gov.CastDecisionVote(c, vr)
	case types.PhaseAnswer:
		res, err = h.gov.CastAnswerVote(c, vr)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"err": "bad phase"})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusCreated
	if !res.Recorded {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h Votes) List(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	votes, err := h.store.Votes(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, votes)
}
