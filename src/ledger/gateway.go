package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stake-plus/questdao/src/webclient"
)

// Gateway talks to the ledger through the HTTP gateway that fronts the
// on-chain program SDK. It implements both ChainGovernanceClient and
// ChainMarketClient. Reads are retried on transient failures; writes are
// sent once and any failure other than a clean 4xx is reported as
// ambiguous.
type Gateway struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	retries    int
	retryDelay time.Duration
}

var (
	_ ChainGovernanceClient = (*Gateway)(nil)
	_ ChainMarketClient     = (*Gateway)(nil)
)

type GatewayOption func(*Gateway)

func WithAPIKey(key string) GatewayOption { return func(g *Gateway) { g.apiKey = key } }

func WithHTTPClient(c *http.Client) GatewayOption { return func(g *Gateway) { g.http = c } }

func WithReadRetry(attempts int, delay time.Duration) GatewayOption {
	return func(g *Gateway) { g.retries, g.retryDelay = attempts, delay }
}

func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       webclient.NewDefault(60 * time.Second),
		retries:    3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, data, err
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	return out, nil
}

// read performs an idempotent GET. Failures here never leave anything
// half-done on the ledger, so they are plain errors.
func (g *Gateway) read(ctx context.Context, method, path string) (map[string]interface{}, error) {
	status, data, err := webclient.DoWithRetry(ctx, g.retries, g.retryDelay, func() (int, []byte, error) {
		return g.do(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: gateway status %d: %s", method, status, errorMessage(data))
	}
	return decodeObject(data)
}

// write performs a single non-idempotent POST and classifies the outcome.
func (g *Gateway) write(ctx context.Context, method, path string, payload interface{}) (string, error) {
	status, data, err := g.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		if !logging.IsTimeout(err) {
			err = fmt.Errorf("transport: %w", err)
		}
		return "", Ambiguous(method, "", err)
	}
	obj, decodeErr := decodeObject(data)
	tx := ""
	if decodeErr == nil {
		tx = TxFrom(obj)
	}
	switch {
	case status >= 200 && status < 300:
		if decodeErr != nil {
			return "", Ambiguous(method, "", decodeErr)
		}
		if tx == "" {
			return "", Ambiguous(method, "", fmt.Errorf("gateway accepted without a signature"))
		}
		return tx, nil
	case webclient.Transient(status):
		return "", Ambiguous(method, tx, fmt.Errorf("gateway status %d: %s", status, errorMessage(data)))
	default:
		cause := fmt.Errorf("gateway status %d: %s", status, errorMessage(data))
		// the SDK behind the gateway reports RPC throttling as a plain
		// client error; the write may already have been forwarded
		if logging.IsRateLimit(cause) {
			return "", Ambiguous(method, tx, cause)
		}
		code := ""
		if obj != nil {
			code = stringField(canonicalMap(obj), "code", "errorcode", "programerror")
		}
		return "", Rejected(method, code, cause)
	}
}

func errorMessage(data []byte) string {
	obj, err := decodeObject(data)
	if err == nil {
		if msg := stringField(canonicalMap(obj), "error", "err", "message", "msg"); msg != "" {
			return msg
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func questPath(prefix string, questKey uint64, suffix string) string {
	return prefix + "/quests/" + strconv.FormatUint(questKey, 10) + suffix
}

func (g *Gateway) submitVote(ctx context.Context, method string, questKey uint64, phase types.Phase, body map[string]interface{}) (string, error) {
	body["questKey"] = strconv.FormatUint(questKey, 10)
	return g.write(ctx, method, questPath("/governance", questKey, "/votes/"+string(phase)), body)
}

func (g *Gateway) SubmitDraftVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error) {
	return g.submitVote(ctx, "submitDraftVote", questKey, types.PhaseDraft, map[string]interface{}{
		"voter": voter, "option": option, "power": power,
	})
}

func (g *Gateway) SubmitDecisionVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error) {
	return g.submitVote(ctx, "submitDecisionVote", questKey, types.PhaseDecision, map[string]interface{}{
		"voter": voter, "option": option, "power": power,
	})
}

func (g *Gateway) SubmitAnswerVote(ctx context.Context, questKey uint64, voter string, answerKey, power uint64) (string, error) {
	return g.submitVote(ctx, "submitAnswerVote", questKey, types.PhaseAnswer, map[string]interface{}{
		"voter": voter, "answerKey": strconv.FormatUint(answerKey, 10), "power": power,
	})
}

func (g *Gateway) fetchTally(ctx context.Context, method string, questKey uint64, phase types.Phase) (Tally, error) {
	raw, err := g.read(ctx, method, questPath("/governance", questKey, "/tally/"+string(phase)))
	if err != nil {
		return Tally{}, err
	}
	return NormalizeTally(phase, raw)
}

func (g *Gateway) FetchDraftTally(ctx context.Context, questKey uint64) (Tally, error) {
	return g.fetchTally(ctx, "fetchDraftTally", questKey, types.PhaseDraft)
}

func (g *Gateway) FetchDecisionTally(ctx context.Context, questKey uint64) (Tally, error) {
	return g.fetchTally(ctx, "fetchDecisionTally", questKey, types.PhaseDecision)
}

func resultBody(req ResultRequest, force bool) map[string]interface{} {
	body := map[string]interface{}{"phase": req.Phase, "force": force}
	if req.Phase == types.PhaseAnswer {
		body["answerKey"] = strconv.FormatUint(req.AnswerKey, 10)
	} else {
		body["outcome"] = req.Outcome
	}
	return body
}

func (g *Gateway) SetResult(ctx context.Context, req ResultRequest) (string, error) {
	return g.write(ctx, "setResult", questPath("/governance", req.QuestKey, "/result"), resultBody(req, false))
}

func (g *Gateway) ForceResult(ctx context.Context, req ResultRequest) (string, error) {
	return g.write(ctx, "forceResult", questPath("/governance", req.QuestKey, "/result"), resultBody(req, true))
}

func (g *Gateway) StartDecisionWindow(ctx context.Context, questKey uint64) (string, error) {
	return g.write(ctx, "startDecisionWindow", questPath("/governance", questKey, "/decision/start"), nil)
}

func (g *Gateway) QuestState(ctx context.Context, questKey uint64) (QuestState, error) {
	raw, err := g.read(ctx, "questState", questPath("/governance", questKey, "/state"))
	if err != nil {
		return QuestState{}, err
	}
	return NormalizeQuestState(raw)
}

func (g *Gateway) PublishMarket(ctx context.Context, spec MarketSpec) (string, error) {
	answers := make([]string, 0, len(spec.AnswerKeys))
	for _, k := range spec.AnswerKeys {
		answers = append(answers, strconv.FormatUint(k, 10))
	}
	return g.write(ctx, "publishMarket", questPath("/market", spec.QuestKey, "/publish"), map[string]interface{}{
		"creator":      spec.Creator,
		"bettingToken": spec.BettingToken,
		"answerKeys":   answers,
		"creatorFee":   spec.CreatorFee.String(),
		"charityFee":   spec.CharityFee.String(),
		"serviceFee":   spec.ServiceFee.String(),
		"bettingEnd":   spec.BettingEnd.Unix(),
	})
}

func (g *Gateway) FinishMarket(ctx context.Context, questKey uint64) (string, error) {
	return g.write(ctx, "finishMarket", questPath("/market", questKey, "/finish"), nil)
}

func (g *Gateway) SuccessMarket(ctx context.Context, questKey, answerKey uint64) (string, error) {
	return g.write(ctx, "successMarket", questPath("/market", questKey, "/success"), map[string]interface{}{
		"answerKey": strconv.FormatUint(answerKey, 10),
	})
}

func (g *Gateway) AdjournMarket(ctx context.Context, questKey uint64) (string, error) {
	return g.write(ctx, "adjournMarket", questPath("/market", questKey, "/adjourn"), nil)
}

func (g *Gateway) PlaceBet(ctx context.Context, bet BetRequest) (string, error) {
	return g.write(ctx, "placeBet", questPath("/market", bet.QuestKey, "/bets"), map[string]interface{}{
		"answerKey": strconv.FormatUint(bet.AnswerKey, 10),
		"wallet":    bet.Wallet,
		"amount":    bet.Amount.String(),
	})
}

func (g *Gateway) ClaimPayout(ctx context.Context, questKey, answerKey uint64, wallet string) (string, error) {
	if wallet == "" {
		return "", errorf("claimPayout", ErrRejected, "empty wallet")
	}
	return g.write(ctx, "claimPayout", questPath("/market", questKey, "/claims"), map[string]interface{}{
		"answerKey": strconv.FormatUint(answerKey, 10),
		"wallet":    wallet,
	})
}

func (g *Gateway) PayoutStatus(ctx context.Context, questKey, answerKey uint64, wallet string) (Payout, error) {
	path := questPath("/market", questKey, "/claims/"+url.PathEscape(wallet)) +
		"?answerKey=" + strconv.FormatUint(answerKey, 10)
	raw, err := g.read(ctx, "payoutStatus", path)
	if err != nil {
		return Payout{}, err
	}
	return NormalizePayout(raw)
}
