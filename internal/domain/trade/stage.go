package trade

import (
	"fmt"
	"strings"
)

// Stage is the position of a trade session in the protocol.
type Stage string

const (
	StageInitiate       Stage = "initiate"
	StageConnectWallet  Stage = "connect_wallet"
	StageLockFunds      Stage = "lock_funds"
	StageFiatSent       Stage = "fiat_sent"
	StageReleaseFunds   Stage = "release_funds"
	StageCompleted      Stage = "completed"
	StageRateExperience Stage = "rate_experience"
	StageCancelled      Stage = "cancelled"
)

// forward order of the happy path; cancelled is outside it.
var stageOrder = map[Stage]int{
	StageInitiate:       0,
	StageConnectWallet:  1,
	StageLockFunds:      2,
	StageFiatSent:       3,
	StageReleaseFunds:   4,
	StageCompleted:      5,
	StageRateExperience: 6,
}

// Stages lists every stage, happy path first.
func Stages() []Stage {
	return []Stage{
		StageInitiate,
		StageConnectWallet,
		StageLockFunds,
		StageFiatSent,
		StageReleaseFunds,
		StageCompleted,
		StageRateExperience,
		StageCancelled,
	}
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, s)
	}
	return st, nil
}

func (s Stage) Valid() bool {
	if s == StageCancelled {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// IsTerminal reports whether no transition leaves the stage.
func (s Stage) IsTerminal() bool {
	return s == StageCancelled || s == StageRateExperience
}

// Cancellable reports whether the stage may still move to cancelled.
func (s Stage) Cancellable() bool {
	switch s {
	case StageInitiate, StageConnectWallet, StageLockFunds, StageFiatSent, StageReleaseFunds:
		return true
	}
	return false
}

// Reached reports whether s is target or lies beyond it on the happy path.
// A cancelled session has reached nothing but cancelled.
func (s Stage) Reached(target Stage) bool {
	if s == target {
		return true
	}
	if s == StageCancelled || target == StageCancelled {
		return false
	}
	return stageOrder[s] > stageOrder[target]
}

func (s Stage) String() string { return string(s) }
