// Minimal end-to-end check against a running questd API.
//
// Run from repo root:
//
//	go run ./scripts/smoke
//
// Environment:
//
//	API_URL     base URL (default http://localhost:8080/v1)
//	WALLET_SEED hex ed25519 seed of the voting wallet (default dev seed)
//	QUEST_KEY   quest in DRAFT_OPEN to vote on (default 1)
//
// Flow:
//
//  1. POST /auth/challenge    nonce and message
//  2. sign message, POST /auth/verify  JWT
//  3. GET  /quests/:key
//  4. POST /quests/:key/votes/draft
//  5. GET  /quests/:key/tally/draft
//  6. GET  /wallets/:wallet/rewards
package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mr-tron/base58"
)

var (
	baseURL  = getenv("API_URL", "http://localhost:8080/v1")
	seedHex  = getenv("WALLET_SEED", "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	questKey = getenv("QUEST_KEY", "1")
	client   = &http.Client{Timeout: 15 * time.Second}
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		log.Fatal("WALLET_SEED must be 32 hex-encoded bytes")
	}
	key := ed25519.NewKeyFromSeed(seed)
	wallet := base58.Encode(key.Public().(ed25519.PublicKey))

	token := login(key, wallet)
	checkQuest()
	castDraftVote(token)
	checkTally()
	checkRewards(wallet)

	fmt.Println("ok: all endpoints passed for", wallet)
}

func login(key ed25519.PrivateKey, wallet string) string {
	var ch struct{ Nonce, Message string }
	doReq("POST", "/auth/challenge", "", map[string]any{"address": wallet}, &ch, http.StatusOK)
	if ch.Message == "" {
		log.Fatal("challenge: empty message")
	}
	sig := ed25519.Sign(key, []byte(ch.Message))

	var resp struct{ Token string }
	doReq("POST", "/auth/verify", "", map[string]any{
		"address":   wallet,
		"signature": base58.Encode(sig),
	}, &resp, http.StatusOK)
	if resp.Token == "" {
		log.Fatal("verify: empty token")
	}
	return resp.Token
}

func checkQuest() {
	var q map[string]any
	doReq("GET", "/quests/"+questKey, "", nil, &q, http.StatusOK)
}

func castDraftVote(tok string) {
	var out map[string]any
	doReq("POST", "/quests/"+questKey+"/votes/draft", tok, map[string]any{
		"option": "APPROVE",
	}, &out, http.StatusCreated, http.StatusOK)
}

func checkTally() {
	var sum map[string]any
	doReq("GET", "/quests/"+questKey+"/tally/draft", "", nil, &sum, http.StatusOK)
	if len(sum) == 0 {
		log.Fatal("tally: empty response")
	}
}

func checkRewards(wallet string) {
	var rewards []map[string]any
	doReq("GET", "/wallets/"+wallet+"/rewards", "", nil, &rewards, http.StatusOK)
}

func doReq(method, path, token string, body, out any, want ...int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, baseURL+path, &buf)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	ok := false
	for _, w := range want {
		ok = ok || res.StatusCode == w
	}
	if !ok {
		log.Fatalf("%s %s: want %v got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
