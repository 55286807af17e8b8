package account

import (
	"github.com/google/uuid"
	"github.com/skybi/report-server/internal/bitflag"
)

const (
	// CapabilityFetchReports allows fetching parsed reports for a station
	CapabilityFetchReports bitflag.Flag = 1 << iota
	// CapabilityParseReports allows submitting raw reports to be parsed
	CapabilityParseReports
)

// DefaultCapabilities holds the capabilities granted to new accounts
var DefaultCapabilities = bitflag.EmptyContainer.With(CapabilityFetchReports, CapabilityParseReports)

// Account represents a single account registered at the external account store.
// The report server only ever reads accounts and accumulates their usage; provisioning happens elsewhere.
type Account struct {
	ID uuid.UUID `json:"id"`
	// TokenHash holds the SHA-512 hash of the raw bearer token; the raw token is never stored
	TokenHash []byte `json:"-"`
	Name      string `json:"name"`
	// Plan holds the plan tier name the limit is derived from
	Plan string `json:"plan"`
	// Limit holds the amount of requests admitted per quota window; a negative value means unlimited
	Limit        int64             `json:"limit"`
	Capabilities bitflag.Container `json:"capabilities"`
	Active       bool              `json:"active"`
	// UsedQuota holds the total amount of admitted requests ever persisted for this account
	UsedQuota int64 `json:"used_quota"`
}
