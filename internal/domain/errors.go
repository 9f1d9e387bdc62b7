package domain

import "fmt"

// ValidationError reports a malformed in-memory entity — the same
// "programming error, not a user error" posture AVMC's domain.ParseCode
// takes toward malformed codes.
type ValidationError struct {
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("domain: invalid %s: %s", e.Entity, e.Reason)
}

func errMissingIdentifier(kind, field string) error {
	return &ValidationError{Entity: "subscription", Reason: fmt.Sprintf("%s subscription missing %s", kind, field)}
}

func errUnknownKind(k SubscriptionKind) error {
	return &ValidationError{Entity: "subscription", Reason: fmt.Sprintf("unknown subscription kind %d", int(k))}
}
