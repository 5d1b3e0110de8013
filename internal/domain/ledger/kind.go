package ledger

import "strings"

// Kind is the canonical tag stored on a ledger entry
type Kind string

const (
	KindRecharge                 Kind = "RECHARGE"
	KindWithdraw                 Kind = "WITHDRAW"
	KindHongbaoSend              Kind = "HONGBAO_SEND"
	KindHongbaoGrab              Kind = "HONGBAO_GRAB"
	KindInviteReward             Kind = "INVITE_REWARD"
	KindSignin                   Kind = "SIGNIN"
	KindExchangePointsToProgress Kind = "EXCHANGE_POINTS_TO_PROGRESS"
	KindExchangeEnergyToPoints   Kind = "EXCHANGE_ENERGY_TO_POINTS"
	KindAdjustment               Kind = "ADJUSTMENT"
	KindReset                    Kind = "RESET"
	KindOther                    Kind = "OTHER"
)

var canonicalKinds = map[Kind]struct{}{
	KindRecharge:                 {},
	KindWithdraw:                 {},
	KindHongbaoSend:              {},
	KindHongbaoGrab:              {},
	KindInviteReward:             {},
	KindSignin:                   {},
	KindExchangePointsToProgress: {},
	KindExchangeEnergyToPoints:   {},
	KindAdjustment:               {},
	KindReset:                    {},
	KindOther:                    {},
}

// legacy spellings still present in older rows, in alias order
var legacyKinds = []struct {
	tag  string
	kind Kind
}{
	{"SEND", KindHongbaoSend},
	{"GRAB", KindHongbaoGrab},
	{"ENVELOPE_GRAB", KindHongbaoGrab},
}

// NormalizeKind maps a free-form tag to its canonical kind. Unknown tags become OTHER.
func NormalizeKind(s string) Kind {
	up := strings.ToUpper(strings.TrimSpace(s))
	for _, l := range legacyKinds {
		if l.tag == up {
			return l.kind
		}
	}
	if _, ok := canonicalKinds[Kind(up)]; ok {
		return Kind(up)
	}
	return KindOther
}

// Aliases returns every stored spelling that counts as k, canonical tag first
func Aliases(k Kind) []string {
	out := []string{string(k)}
	for _, l := range legacyKinds {
		if l.kind == k {
			out = append(out, l.tag)
		}
	}
	return out
}

// ExpandKinds returns the de-duplicated union of alias sets for the given kinds
func ExpandKinds(kinds []Kind) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range kinds {
		for _, a := range Aliases(NormalizeKind(string(k))) {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// RefType classifies what a ledger entry's reference id points at
type RefType string

const (
	RefOrder    RefType = "ORDER"
	RefEnvelope RefType = "ENVELOPE"
	RefInvite   RefType = "INVITE"
	RefApproval RefType = "APPROVAL"
)
