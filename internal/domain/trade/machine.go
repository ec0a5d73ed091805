package trade

import (
	"fmt"
	"slices"

	"github.com/Knetic/govaluate"
)

// Trigger is the origin of a transition request.
type Trigger string

const (
	TriggerVendor     Trigger = "vendor"
	TriggerCustomer   Trigger = "customer"
	TriggerReconciler Trigger = "reconciler"
	TriggerSupervisor Trigger = "supervisor"
)

// TriggerFor maps a party role to its trigger.
func TriggerFor(role Role) Trigger {
	if role == RoleVendor {
		return TriggerVendor
	}
	return TriggerCustomer
}

// IsSystem reports whether the trigger is system-originated; system
// triggers skip the role check but not the table.
func (t Trigger) IsSystem() bool {
	return t == TriggerReconciler || t == TriggerSupervisor
}

// Mode restricts a rule to on-chain or off-chain sessions.
type Mode int

const (
	ModeAny Mode = iota
	ModeOffChain
	ModeOnChain
)

func (m Mode) matches(onChain bool) bool {
	switch m {
	case ModeOffChain:
		return !onChain
	case ModeOnChain:
		return onChain
	}
	return true
}

// Rule is one edge of the stage machine.
type Rule struct {
	From     Stage
	To       Stage
	Triggers []Trigger
	Mode     Mode
	// Guard is a boolean expression over session facts; empty means always.
	Guard     string
	GuardHint string

	expr *govaluate.EvaluableExpression
}

func (r *Rule) allows(t Trigger) bool {
	return slices.Contains(r.Triggers, t)
}

func (r *Rule) sameClass(t Trigger) bool {
	for _, rt := range r.Triggers {
		if rt.IsSystem() == t.IsSystem() {
			return true
		}
	}
	return false
}

func (r *Rule) guardHolds(s *Session) (bool, error) {
	if r.expr == nil {
		return true, nil
	}
	out, err := r.expr.Evaluate(sessionFacts(s))
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("guard %q did not evaluate to boolean", r.Guard)
	}
	return ok, nil
}

func sessionFacts(s *Session) map[string]interface{} {
	return map[string]interface{}{
		"vendorConfirmed":   s.Confirmations.Vendor,
		"customerConfirmed": s.Confirmations.Customer,
		"hasVendorWallet":   s.Wallets.Vendor != nil && *s.Wallets.Vendor != "",
		"hasCustomerWallet": s.Wallets.Customer != nil && *s.Wallets.Customer != "",
		"onChain":           s.OnChain,
	}
}

var parties = []Trigger{TriggerVendor, TriggerCustomer}

func baseRules() []Rule {
	rules := []Rule{
		{From: StageInitiate, To: StageConnectWallet, Triggers: parties,
			Guard: "vendorConfirmed && customerConfirmed", GuardHint: "both parties must confirm the trade"},
		{From: StageConnectWallet, To: StageLockFunds, Triggers: []Trigger{TriggerVendor},
			Guard: "hasVendorWallet", GuardHint: "the vendor must connect a wallet"},
		{From: StageLockFunds, To: StageFiatSent, Triggers: []Trigger{TriggerVendor}, Mode: ModeOffChain},
		{From: StageLockFunds, To: StageFiatSent, Triggers: []Trigger{TriggerReconciler}, Mode: ModeOnChain},
		{From: StageFiatSent, To: StageReleaseFunds, Triggers: []Trigger{TriggerCustomer}},
		{From: StageReleaseFunds, To: StageCompleted, Triggers: []Trigger{TriggerVendor}, Mode: ModeOffChain},
		{From: StageReleaseFunds, To: StageCompleted, Triggers: []Trigger{TriggerReconciler}, Mode: ModeOnChain},
		{From: StageCompleted, To: StageRateExperience, Triggers: parties},
	}
	for _, st := range Stages() {
		if st.Cancellable() {
			rules = append(rules, Rule{
				From:     st,
				To:       StageCancelled,
				Triggers: []Trigger{TriggerVendor, TriggerCustomer, TriggerSupervisor},
			})
		}
	}
	return rules
}

var rulesByFrom = compileRules(baseRules())

func compileRules(in []Rule) map[Stage][]*Rule {
	out := make(map[Stage][]*Rule)
	for i := range in {
		r := in[i]
		if r.Guard != "" {
			expr, err := govaluate.NewEvaluableExpression(r.Guard)
			if err != nil {
				panic(fmt.Sprintf("trade: bad guard %q: %v", r.Guard, err))
			}
			r.expr = expr
		}
		out[r.From] = append(out[r.From], &r)
	}
	return out
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	var out []Rule
	for _, st := range Stages() {
		for _, r := range rulesByFrom[st] {
			c := *r
			c.Triggers = slices.Clone(r.Triggers)
			out = append(out, c)
		}
	}
	return out
}

// CheckTransition validates moving s to the target stage on behalf of trig.
// It is the single interpreter of the transition table.
func CheckTransition(s *Session, to Stage, trig Trigger) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, to)
	}
	if s.Stage.IsTerminal() {
		if s.Stage == StageCancelled {
			return fmt.Errorf("%w: trade already cancelled", ErrInvalidTransition)
		}
		return fmt.Errorf("%w: trade already closed", ErrInvalidTransition)
	}
	if to == s.Stage {
		return fmt.Errorf("%w: trade is already in stage %s", ErrInvalidTransition, to)
	}

	var candidates []*Rule
	otherClass := false
	for _, r := range rulesByFrom[s.Stage] {
		if r.To != to || !r.Mode.matches(s.OnChain) {
			continue
		}
		if !r.sameClass(trig) {
			otherClass = true
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		if otherClass && !trig.IsSystem() {
			return fmt.Errorf("%w: %s -> %s is confirmed by the escrow contract, not by a party", ErrInvalidTransition, s.Stage, to)
		}
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidTransition, s.Stage, to)
	}

	for _, r := range candidates {
		if !r.allows(trig) {
			continue
		}
		ok, err := r.guardHolds(s)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, r.GuardHint)
		}
		return nil
	}
	return fmt.Errorf("%w: a %s cannot move the trade from %s to %s", ErrForbidden, trig, s.Stage, to)
}

// AvailableTransitions lists the stages trig could move s to right now.
func AvailableTransitions(s *Session, trig Trigger) []Stage {
	var out []Stage
	for _, r := range rulesByFrom[s.Stage] {
		if slices.Contains(out, r.To) {
			continue
		}
		if CheckTransition(s, r.To, trig) == nil {
			out = append(out, r.To)
		}
	}
	return out
}
