package webserver

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/types"
)

// NonceStore holds one pending login challenge per wallet.
type NonceStore interface {
	Set(ctx context.Context, addr, nonce string) error
	Take(ctx context.Context, addr string) (string, error)
}

type Auth struct {
	nonces    NonceStore
	jwtSecret []byte
}

func NewAuth(nonces NonceStore, secret []byte) Auth {
	return Auth{nonces: nonces, jwtSecret: secret}
}

// challengeMessage is the exact text a wallet signs to log in.
func challengeMessage(nonce string) string {
	return "questdao login: " + nonce
}

func (a Auth) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if !governance.ValidWallet(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid wallet address"})
		return
	}
	nonce := uuid.NewString()
	if err := a.nonces.Set(c, req.Address, nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce, "message": challengeMessage(nonce)})
}

func (a Auth) Verify(c *gin.Context) {
	var req struct {
		Address   string `json:"address"   binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	nonce, err := a.nonces.Take(c, req.Address)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "challenge expired"})
		return
	}
	if err := verifySignature(req.Address, req.Signature, challengeMessage(nonce)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"err": "bad signature"})
		return
	}
	token, err := issueJWT(req.Address, a.jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// decodeSignature accepts a 0x-prefixed hex or a base58 signature.
func decodeSignature(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(s[2:])
	}
	return base58.Decode(s)
}

func verifySignature(addr, sig, message string) error {
	pub, err := base58.Decode(addr)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid wallet address")
	}
	raw, err := decodeSignature(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), raw) {
		return fmt.Errorf("signature does not match")
	}
	return nil
}

// memoryNonces is the NonceStore used when no Redis is configured. It only
// works for a single instance.
type memoryNonces struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]memoryNonce
}

type memoryNonce struct {
	value   string
	expires time.Time
}

func newMemoryNonces(ttl time.Duration) *memoryNonces {
	return &memoryNonces{ttl: ttl, m: make(map[string]memoryNonce)}
}

func (n *memoryNonces) Set(_ context.Context, addr, nonce string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	for k, v := range n.m {
		if now.After(v.expires) {
			delete(n.m, k)
		}
	}
	n.m[addr] = memoryNonce{value: nonce, expires: now.Add(n.ttl)}
	return nil
}

func (n *memoryNonces) Take(_ context.Context, addr string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.m[addr]
	delete(n.m, addr)
	if !ok || time.Now().After(v.expires) {
		return "", fmt.Errorf("nonce for %s: %w", addr, types.ErrNotFound)
	}
	return v.value, nil
}
