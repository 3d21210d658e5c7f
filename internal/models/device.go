package models

import "time"

// TrustLevel is the ordered trust tier for a device fingerprint.
type TrustLevel string

const (
	TrustUnknown  TrustLevel = "unknown"
	TrustKnown    TrustLevel = "known"
	TrustVerified TrustLevel = "verified"
	TrustTrusted  TrustLevel = "trusted"
)

// trustRank orders trust levels for comparison. Unrecognized values rank
// below unknown so a corrupt row never satisfies a policy requirement.
var trustRank = map[TrustLevel]int{
	TrustUnknown:  1,
	TrustKnown:    2,
	TrustVerified: 3,
	TrustTrusted:  4,
}

// AtLeast reports whether t meets or exceeds the required trust level.
func (t TrustLevel) AtLeast(required TrustLevel) bool {
	return trustRank[t] >= trustRank[required]
}

// TrustedDevice is a device fingerprint seen for an identity. Devices start
// unknown and are promoted to known by the session service once enough
// low-risk sightings accumulate; higher tiers are set administratively.
type TrustedDevice struct {
	ID          string
	UserID      string
	Fingerprint string
	TrustLevel  TrustLevel
	UserAgent   string
	LastIP      string
	SeenCount   int
	FirstSeen   time.Time
	LastSeen    time.Time
}
