package core

import (
	"fmt"
	"time"
)

// HealthPolicy is the consecutive-failure rule applied to every binding.
type HealthPolicy struct {
	MaxConsecutiveFailures int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{MaxConsecutiveFailures: MaxConsecutiveFailures}
}

func (p HealthPolicy) threshold() int {
	if p.MaxConsecutiveFailures <= 0 {
		return MaxConsecutiveFailures
	}
	return p.MaxConsecutiveFailures
}

// Trips reports whether a post-increment failure count disables the binding.
func (p HealthPolicy) Trips(failureCount int) bool {
	return failureCount >= p.threshold()
}

func (p HealthPolicy) DisabledReason(failureCount int, errorText string) string {
	return fmt.Sprintf("auto-disabled after %d consecutive failures: %s", failureCount, errorText)
}

// HealthState is the health portion of a binding.
type HealthState struct {
	IsActive       bool
	FailureCount   int
	LastFailureAt  *time.Time
	DisabledReason *string
}

func HealthStateOf(b Binding) HealthState {
	return HealthState{
		IsActive:       b.IsActive,
		FailureCount:   b.FailureCount,
		LastFailureAt:  cloneTimePointer(b.LastFailureAt),
		DisabledReason: cloneStringPointer(b.DisabledReason),
	}
}

// Apply writes the health fields back onto a binding.
func (s HealthState) Apply(b Binding, at time.Time) Binding {
	out := CloneBinding(b)
	out.IsActive = s.IsActive
	out.FailureCount = s.FailureCount
	out.LastFailureAt = cloneTimePointer(s.LastFailureAt)
	out.DisabledReason = cloneStringPointer(s.DisabledReason)
	out.UpdatedAt = at
	return out
}

// OnSuccess resets the failure counter and clears last_failure_at together.
func (p HealthPolicy) OnSuccess(state HealthState) HealthState {
	out := state
	out.FailureCount = 0
	out.LastFailureAt = nil
	return out
}

// FailureTransition is the health change caused by one recorded failure.
type FailureTransition struct {
	Trip   bool
	Reason string
}

// AfterFailure decides the transition from the row as it stands after the
// failure was recorded: failureCount already includes the failure when
// counted is true. Stores that increment atomically call it with the
// returned counter and must apply a trip only while the row is still active.
func (p HealthPolicy) AfterFailure(failureCount int, counted bool, active bool, errorText string) FailureTransition {
	if !counted || !active || !p.Trips(failureCount) {
		return FailureTransition{}
	}
	return FailureTransition{Trip: true, Reason: p.DisabledReason(failureCount, errorText)}
}

// OnFailure applies one classified failure. The tripped result is true only
// for the transition from active to disabled.
func (p HealthPolicy) OnFailure(state HealthState, classification Classification, at time.Time) (HealthState, bool) {
	out := state
	failedAt := at.UTC()
	out.LastFailureAt = &failedAt
	if classification.CountsTowardLimit {
		out.FailureCount++
	}
	transition := p.AfterFailure(out.FailureCount, classification.CountsTowardLimit, state.IsActive, classification.ErrorText)
	if !transition.Trip {
		return out, false
	}
	out.IsActive = false
	out.DisabledReason = &transition.Reason
	return out, true
}
