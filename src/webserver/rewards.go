package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/questdao/src/settlement"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

type Rewards struct {
	store  *store.Store
	settle *settlement.Engine
	admins func() []string
}

func NewRewards(st *store.Store, eng *settlement.Engine, admins func() []string) Rewards {
	return Rewards{store: st, settle: eng, admins: admins}
}

// Settle computes a quest's rewards. Settling twice answers 200 with the
// rewards written the first time.
func (h Rewards) Settle(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	sum, err := h.settle.Settle(c, key)
	if err != nil && !(errors.Is(err, types.ErrSettlementAlreadyDone) && sum != nil) {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Rewards) ForQuest(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	rewards, err := h.settle.Rewards(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rewards)
}

func (h Rewards) ForWallet(c *gin.Context) {
	rewards, err := h.store.RewardsForWallet(c, c.Param("wallet"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rewards)
}

// Claim pays out a reward. Only its wallet or an admin may claim it.
func (h Rewards) Claim(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	r, err := h.store.GetReward(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	if addr := c.GetString("addr"); addr != r.Wallet && !h.isAdmin(addr) {
		c.JSON(http.StatusForbidden, gin.H{"err": "not your reward"})
		return
	}
	r, err = h.settle.ClaimReward(c, key)
	if err != nil && !(errors.Is(err, types.ErrSettlementAlreadyDone) && r != nil) {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Reconcile checks an unconfirmed payout against the ledger.
func (h Rewards) Reconcile(c *gin.Context) {
	key, ok := uintParam(c, "key")
	if !ok {
		return
	}
	r, err := h.settle.ReconcileClaim(c, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h Rewards) isAdmin(addr string) bool {
	for _, a := range h.admins() {
		if a != "" && a == addr {
			return true
		}
	}
	return false
}
