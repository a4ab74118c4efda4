package bounce

import "strings"

// permanentPhrases mark a bounce as a confirmed failure regardless of status.
var permanentPhrases = []string{"inbox full", "overquota"}

// IsPermanent reports whether an outcome counts as a confirmed failure: a
// 5.x.x status, or a reason naming a full mailbox. Transient 4.x.x bounces
// without such a phrase are not failures.
func IsPermanent(o Outcome) bool {
	if strings.HasPrefix(strings.TrimSpace(o.Status), "5") {
		return true
	}
	reason := strings.ToLower(o.Reason)
	for _, p := range permanentPhrases {
		if strings.Contains(reason, p) {
			return true
		}
	}
	return false
}

// Failure is the recorded status code and reason for a failed address.
type Failure struct {
	Status string
	Reason string
}

// FailureSet accumulates confirmed failures keyed by lower-cased address.
// Recording an address that is already present overwrites the earlier
// entry, so the last outcome processed for an address wins.
type FailureSet struct {
	byEmail map[string]Failure
}

// NewFailureSet returns an empty set.
func NewFailureSet() *FailureSet {
	return &FailureSet{byEmail: make(map[string]Failure)}
}

// Record adds o when it is a confirmed failure and reports whether it did.
func (s *FailureSet) Record(o Outcome) bool {
	if !IsPermanent(o) {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(o.Email))
	if key == "" {
		return false
	}
	s.byEmail[key] = Failure{
		Status: strings.TrimSpace(o.Status),
		Reason: strings.TrimSpace(o.Reason),
	}
	return true
}

// Lookup returns the failure recorded for addr, compared case-insensitively.
func (s *FailureSet) Lookup(addr string) (Failure, bool) {
	f, ok := s.byEmail[strings.ToLower(strings.TrimSpace(addr))]
	return f, ok
}

// Len returns the number of failed addresses.
func (s *FailureSet) Len() int {
	return len(s.byEmail)
}
