package recharge

import "strings"

// Status is the lifecycle state of a recharge order
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusExpired
}

var providerStatuses = map[string]Status{
	"finished":       StatusSuccess,
	"confirmed":      StatusSuccess,
	"completed":      StatusSuccess,
	"paid":           StatusSuccess,
	"waiting":        StatusPending,
	"confirming":     StatusPending,
	"sending":        StatusPending,
	"partially_paid": StatusPending,
	"expired":        StatusExpired,
	"failed":         StatusFailed,
	"refunded":       StatusFailed,
	"chargeback":     StatusFailed,
}

// MapProviderStatus translates the provider's status vocabulary.
// known is false for anything outside it.
func MapProviderStatus(raw string) (status Status, known bool) {
	status, known = providerStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return status, known
}
