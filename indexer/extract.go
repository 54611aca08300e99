package indexer

import (
	"github.com/tolchain/relay/chainclient"
)

// contractEvent is the indexer's normalized view of a wasm event: the
// duck-typed chain attributes mapped to explicit fields per §9's design
// note, tolerating missing keys.
type contractEvent struct {
	Action           string
	BetID            string
	Maker            string
	Acceptor         string
	Guess            string
	Winner           string
	Amount           string
	PayoutAmount     string
	CommissionAmount string
}

// stableEventType maps a contract "action" attribute to the stable
// event-type name used for deduplication and projection (§4.4).
func stableEventType(action string) string {
	switch action {
	case "create_bet":
		return "bet_created"
	case "accept_bet":
		return "bet_accepted"
	case "reveal":
		return "bet_revealed"
	case "cancel_bet":
		return "bet_canceled"
	case "claim_timeout":
		return "bet_timeout_claimed"
	case "commission_paid":
		return "commission_paid"
	default:
		return ""
	}
}

// extractContractEvents gathers wasm events matching contractAddr from both
// the modern and legacy layouts (§4.4, §9) and normalizes each into a
// contractEvent plus its stable type name. Events with an unrecognized or
// missing action are skipped.
func extractContractEvents(tx *chainclient.TxResult, contractAddr string) []struct {
	Type  string
	Event contractEvent
} {
	var out []struct {
		Type  string
		Event contractEvent
	}

	consider := func(evs []chainclient.Event) {
		for _, ev := range evs {
			if !isWasmEvent(ev.Type) {
				continue
			}
			attrs := attrMap(ev.Attributes)
			if attrs["_contract_address"] != contractAddr {
				continue
			}
			action := attrs["action"]
			typ := stableEventType(action)
			if typ == "" {
				continue
			}
			out = append(out, struct {
				Type  string
				Event contractEvent
			}{
				Type: typ,
				Event: contractEvent{
					Action:           action,
					BetID:            attrs["bet_id"],
					Maker:            attrs["maker"],
					Acceptor:         attrs["acceptor"],
					Guess:            attrs["guess"],
					Winner:           attrs["winner"],
					Amount:           attrs["amount"],
					PayoutAmount:     attrs["payout_amount"],
					CommissionAmount: attrs["commission_amount"],
				},
			})
		}
	}

	consider(tx.Events)
	for _, logEntry := range tx.LegacyLogs {
		consider(logEntry.Events)
	}
	return out
}

// isWasmEvent treats "wasm" and any "wasm-<action>"-suffixed type as
// equivalent, per §9's note on the event-stream ambiguity across chain SDK
// versions.
func isWasmEvent(t string) bool {
	return t == "wasm" || (len(t) > 5 && t[:5] == "wasm-")
}

func attrMap(attrs []chainclient.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}
