package faucet

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCooldown is the minimum time between two successful claims by one identity.
const DefaultCooldown = 24 * time.Hour

// BypassRule exempts one destination address from the cooldown. It is an
// intentional operator backdoor used for testing the faucet in production.
// The zero value matches nothing.
type BypassRule struct {
	Address string
}

// Matches reports whether destination is the privileged address. Hex addresses
// are compared case-insensitively so checksummed and lower-case forms agree.
func (b BypassRule) Matches(destination string) bool {
	if b.Address == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(destination), strings.TrimSpace(b.Address))
}

// CooldownPolicy decides whether an identity may claim again.
type CooldownPolicy struct {
	Window time.Duration
	Bypass BypassRule
}

// Eligibility is the outcome of a cooldown check.
type Eligibility struct {
	Eligible bool
	// Bypassed is set when only the bypass rule made the claim eligible.
	Bypassed  bool
	Remaining Remaining
}

// Remaining is the time left before the next claim is allowed.
type Remaining time.Duration

// Breakdown splits the duration into whole hours, minutes and seconds.
func (r Remaining) Breakdown() (hours, minutes, seconds int) {
	d := time.Duration(r)
	if d < 0 {
		d = 0
	}
	hours = int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes = int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	seconds = int(d / time.Second)
	return hours, minutes, seconds
}

// WaitMessage renders the remaining time for a claimant.
func (r Remaining) WaitMessage() string {
	h, m, s := r.Breakdown()
	return fmt.Sprintf("Please wait %dh %dm %ds before claiming again.", h, m, s)
}

// IsEligible applies the window to the last claim time, if any.
func (p CooldownPolicy) IsEligible(last *time.Time, now time.Time, destination string) Eligibility {
	if last == nil {
		return Eligibility{Eligible: true}
	}
	elapsed := now.Sub(*last)
	if elapsed < 0 {
		// A claim recorded after this request was stamped.
		elapsed = 0
	}
	if elapsed >= p.window() {
		return Eligibility{Eligible: true}
	}
	if p.Bypass.Matches(destination) {
		return Eligibility{Eligible: true, Bypassed: true}
	}
	return Eligibility{Remaining: Remaining(p.window() - elapsed)}
}

func (p CooldownPolicy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultCooldown
	}
	return p.Window
}
