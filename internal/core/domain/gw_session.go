package domain

import "time"

// SessionKey identifies a session binding scope: a CLI family plus the
// client-supplied session identifier extracted by the request preparer.
type SessionKey struct {
	CLIKey    string
	SessionID string
}

// SessionBinding is spec section 3's "Session binding": a session pins
// to one provider, one sort mode and the provider order observed at
// bind time, so a later sort-mode change or reorder doesn't disturb an
// in-flight session (see spec Design Note "Session override vs mode
// change" — deliberately not "fixed" here).
type SessionBinding struct {
	BoundProviderID int64
	SortModeID      string
	ProviderOrder   []int64
	FirstSeen       time.Time
	LastSuccessAt   time.Time
	TTLUntil        time.Time
}

const DefaultSessionTTL = 4 * time.Hour

// Expired reports whether the binding's TTL has elapsed at `now`.
func (b SessionBinding) Expired(now time.Time) bool {
	return !b.TTLUntil.IsZero() && now.After(b.TTLUntil)
}

// NextAfterBound returns the provider id immediately following the
// bound provider in the order recorded at bind time that is still
// present in `candidates`. Used when the bound provider itself has been
// removed from the candidate list (spec 4.3 step 2: "closest remaining
// neighbour").
func (b SessionBinding) NextAfterBound(candidates map[int64]bool) (int64, bool) {
	idx := -1
	for i, id := range b.ProviderOrder {
		if id == b.BoundProviderID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, false
	}
	for i := idx + 1; i < len(b.ProviderOrder); i++ {
		if candidates[b.ProviderOrder[i]] {
			return b.ProviderOrder[i], true
		}
	}
	for i := 0; i < idx; i++ {
		if candidates[b.ProviderOrder[i]] {
			return b.ProviderOrder[i], true
		}
	}
	return 0, false
}
