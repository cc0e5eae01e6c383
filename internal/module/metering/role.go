// Package metering implements the gateway's authorization core: role
// resolution, daily quota ceilings and prepaid-credit accounting.
package metering

// Role labels the privilege tier a request resolved to.
type Role string

const (
	// RoleAdmin bypasses every quota and credit check.
	RoleAdmin Role = "admin"
	// RoleVip is backed by a prepaid credit card.
	RoleVip Role = "vip"
	// RoleFree is subject to the daily ceilings.
	RoleFree Role = "free"
)

// Decision is the outcome of resolving one request's identity. It is
// computed exactly once per request and never re-derived.
type Decision struct {
	Role   Role
	CardID string
	// Remaining is the card balance after the current call settles. It is
	// computed optimistically at admission; the actual deduction happens
	// only after a successful generation. Meaningful for RoleVip only.
	Remaining int
}

// ObservedBalance returns the card balance as read at admission time.
func (d Decision) ObservedBalance() int {
	return d.Remaining + 1
}

// Identity describes one request's caller. Derived fresh per request from
// transport headers; never persisted.
type Identity struct {
	SourceAddr string
	AdminToken string
	CardKey    string
}
