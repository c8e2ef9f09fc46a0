package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/stake-plus/questdao/src/types"
)

// The ledger SDK and its gateway have returned the same fields as
// approvePower, approve_power, totalApprovePower and friends across
// versions. Every lookup goes through canonicalKey so each variant maps to
// one name.
var (
	draftForKeys        = []string{"approvepower", "totalapprovepower", "approve", "approvevotes", "forpower"}
	draftAgainstKeys    = []string{"rejectpower", "totalrejectpower", "reject", "rejectvotes", "againstpower"}
	decisionForKeys     = []string{"successpower", "totalsuccesspower", "success", "successvotes", "forpower"}
	decisionAgainstKeys = []string{"adjournpower", "totaladjournpower", "adjourn", "adjournvotes", "againstpower"}
	txKeys              = []string{"tx", "signature", "txsignature", "transactionid", "txid", "txhash"}
)

func canonicalKey(k string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(k))
}

// canonicalMap flattens one level of {"data": {...}} or {"result": {...}}
// wrapping and canonicalizes keys.
func canonicalMap(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		ck := canonicalKey(k)
		if ck == "data" || ck == "result" {
			if inner, ok := v.(map[string]interface{}); ok {
				for ik, iv := range inner {
					out[canonicalKey(ik)] = iv
				}
				continue
			}
		}
		out[ck] = v
	}
	return out
}

func lookup(m map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// toUint64 accepts JSON numbers, decimal strings, 0x-prefixed hex strings
// and the {"$numberLong": "..."} style wrapper some indexers emit.
func toUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case json.Number:
		return toUint64(string(n))
	case float64:
		if n < 0 || n > math.MaxUint64 || n != math.Trunc(n) {
			return 0, fmt.Errorf("power %v is not a non-negative integer", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative power %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative power %d", n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			b, ok := new(big.Int).SetString(s[2:], 16)
			if !ok || !b.IsUint64() {
				return 0, fmt.Errorf("bad hex power %q", n)
			}
			return b.Uint64(), nil
		}
		return strconv.ParseUint(s, 10, 64)
	case map[string]interface{}:
		for _, inner := range n {
			return toUint64(inner)
		}
	}
	return 0, fmt.Errorf("unsupported power value %T", v)
}

// NormalizeTally maps any known wire shape of a phase tally into Tally.
// Missing options count as zero; if neither option is present the payload
// is rejected.
func NormalizeTally(phase types.Phase, raw map[string]interface{}) (Tally, error) {
	forKeys, againstKeys := draftForKeys, draftAgainstKeys
	switch phase {
	case types.PhaseDraft:
	case types.PhaseDecision:
		forKeys, againstKeys = decisionForKeys, decisionAgainstKeys
	default:
		return Tally{}, fmt.Errorf("no binary tally for phase %q", phase)
	}

	m := canonicalMap(raw)
	t := Tally{Phase: phase}
	forVal, hasFor := lookup(m, forKeys)
	againstVal, hasAgainst := lookup(m, againstKeys)
	if !hasFor && !hasAgainst {
		return Tally{}, fmt.Errorf("%s tally: no recognised fields in %v", phase, keysOf(m))
	}
	var err error
	if hasFor {
		if t.For, err = toUint64(forVal); err != nil {
			return Tally{}, fmt.Errorf("%s tally: %w", phase, err)
		}
	}
	if hasAgainst {
		if t.Against, err = toUint64(againstVal); err != nil {
			return Tally{}, fmt.Errorf("%s tally: %w", phase, err)
		}
	}
	return t, nil
}

// NormalizeQuestState maps the ledger's quest account view into QuestState.
func NormalizeQuestState(raw map[string]interface{}) (QuestState, error) {
	m := canonicalMap(raw)
	var st QuestState

	st.DraftResult = normalizeOutcome(stringField(m, "draftresult", "draftoutcome"))
	st.DecisionResult = normalizeOutcome(stringField(m, "decisionresult", "decisionoutcome"))
	var err error
	if st.DecisionOpen, err = boolField(m, "decisionopen", "decisionstarted", "isdecisionopen"); err != nil {
		return QuestState{}, err
	}
	if st.DraftForced, err = boolField(m, "draftforced", "draftforceresult"); err != nil {
		return QuestState{}, err
	}
	if st.DecisionForced, err = boolField(m, "decisionforced", "decisionforceresult"); err != nil {
		return QuestState{}, err
	}
	if v, ok := lookup(m, []string{"answerkey", "answerresult", "winninganswer", "selectedanswer"}); ok {
		k, err := toUint64(v)
		if err != nil {
			return QuestState{}, fmt.Errorf("answer key: %w", err)
		}
		st.AnswerKey = k
	}
	switch strings.ToLower(stringField(m, "market", "marketstatus", "status")) {
	case "", "none", "draft":
		st.Market = MarketNone
	case "open", "published", "publish", "betting":
		st.Market = MarketOpen
	case "finished", "finish", "closed":
		st.Market = MarketFinished
	case "success", "successful", "resolved":
		st.Market = MarketSuccess
	case "adjourned", "adjourn", "cancelled", "canceled":
		st.Market = MarketAdjourned
	default:
		return QuestState{}, fmt.Errorf("unknown market status %q", stringField(m, "market", "marketstatus", "status"))
	}
	st.Tx = stringField(m, txKeys...)
	return st, nil
}

// normalizeOutcome accepts enum spellings like "approve", "Approved" or
// {"approve":{}} (Anchor enum encoding) and returns the option constant.
func normalizeOutcome(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return types.OptionApprove
	case "reject", "rejected":
		return types.OptionReject
	case "success", "succeeded":
		return types.OptionSuccess
	case "adjourn", "adjourned":
		return types.OptionAdjourn
	}
	return ""
}

func stringField(m map[string]interface{}, keys ...string) string {
	v, ok := lookup(m, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case map[string]interface{}:
		for k := range s {
			return k
		}
	}
	return fmt.Sprint(v)
}

// boolField reads a JSON bool, or a "true"/"false" string, from the first
// present key. Absent means false.
func boolField(m map[string]interface{}, keys ...string) (bool, error) {
	v, ok := lookup(m, keys)
	if !ok {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%s: %w", keys[0], err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("%s: unexpected %T", keys[0], v)
}

// NormalizePayout maps a claim status response to Payout. A claim is paid
// when a paid flag is true or its status reads paid.
func NormalizePayout(raw map[string]interface{}) (Payout, error) {
	m := canonicalMap(raw)
	paid, err := boolField(m, "paid", "claimed", "ispaid", "isclaimed")
	if err != nil {
		return Payout{}, err
	}
	if !paid {
		switch strings.ToLower(stringField(m, "status", "claimstatus")) {
		case "paid", "claimed", "settled":
			paid = true
		}
	}
	return Payout{Paid: paid, Tx: stringField(m, txKeys...)}, nil
}

// TxFrom extracts a transaction signature from a write response.
func TxFrom(raw map[string]interface{}) string {
	return stringField(canonicalMap(raw), txKeys...)
}

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// UintField reads the first present field among keys, in any spelling, as
// an unsigned integer. It reports false when none is present.
func UintField(raw map[string]interface{}, keys ...string) (uint64, bool, error) {
	canon := make([]string, len(keys))
	for i, k := range keys {
		canon[i] = canonicalKey(k)
	}
	v, ok := lookup(canonicalMap(raw), canon)
	if !ok {
		return 0, false, nil
	}
	n, err := toUint64(v)
	return n, true, err
}
