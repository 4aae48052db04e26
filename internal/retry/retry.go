// Package retry decides whether a failed stage attempt should be
// re-invoked and after what delay. The decision is a pure table lookup
// on (error kind, retries already consumed), so retry behavior is
// inspectable and testable without touching the processor.
package retry

import (
	"time"

	"loom/internal/config"
	"loom/internal/services"
)

// Rule bounds retries for one error kind. Schedule holds the delay
// before each retry; when retries outnumber schedule entries the last
// entry repeats.
type Rule struct {
	MaxAttempts int
	Schedule    []time.Duration
}

// Decision is the outcome of consulting the policy.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// GiveUp is the decision that ends a failure episode.
var GiveUp = Decision{}

// Policy maps error kinds to their retry rules. Kinds without a rule
// give up immediately, matching the unknown kind.
type Policy map[services.Kind]Rule

// Default returns the shipped policy table.
func Default() Policy {
	return Policy{
		services.KindNetwork:   {MaxAttempts: 3, Schedule: delays(0, 2, 4)},
		services.KindTimeout:   {MaxAttempts: 3, Schedule: delays(5, 10, 20)},
		services.KindRateLimit: {MaxAttempts: 5, Schedule: delays(60)},
		services.KindAuth:      {MaxAttempts: 0},
		services.KindServer:    {MaxAttempts: 3, Schedule: delays(10, 20, 40)},
		services.KindLocalIO:   {MaxAttempts: 2, Schedule: delays(1)},
		services.KindUnknown:   {MaxAttempts: 0},
	}
}

// FromConfig builds the policy from the configured table. Kinds the
// config leaves untouched keep their shipped defaults because the
// config decoder only overwrites present keys.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		services.KindNetwork:   fromRule(cfg.Network),
		services.KindTimeout:   fromRule(cfg.Timeout),
		services.KindRateLimit: fromRule(cfg.RateLimit),
		services.KindAuth:      fromRule(cfg.Auth),
		services.KindServer:    fromRule(cfg.Server),
		services.KindLocalIO:   fromRule(cfg.LocalIO),
		services.KindUnknown:   fromRule(cfg.Unknown),
	}
}

func fromRule(rule config.RetryRule) Rule {
	schedule := make([]time.Duration, 0, len(rule.DelaySeconds))
	for _, seconds := range rule.DelaySeconds {
		schedule = append(schedule, time.Duration(seconds)*time.Second)
	}
	return Rule{MaxAttempts: rule.MaxAttempts, Schedule: schedule}
}

// Decide consults the policy for a failure of the given kind after
// retriesSoFar previous retries. The first failure of an episode calls
// Decide with retriesSoFar == 0.
func (p Policy) Decide(kind services.Kind, retriesSoFar int) Decision {
	rule, ok := p[kind]
	if !ok {
		rule = p[services.KindUnknown]
	}
	if retriesSoFar < 0 {
		retriesSoFar = 0
	}
	if retriesSoFar >= rule.MaxAttempts {
		return GiveUp
	}
	return Decision{Retry: true, Delay: rule.delay(retriesSoFar)}
}

// MaxAttempts returns the retry budget for a kind.
func (p Policy) MaxAttempts(kind services.Kind) int {
	rule, ok := p[kind]
	if !ok {
		return 0
	}
	return rule.MaxAttempts
}

func (r Rule) delay(retryIndex int) time.Duration {
	if len(r.Schedule) == 0 {
		return 0
	}
	if retryIndex >= len(r.Schedule) {
		retryIndex = len(r.Schedule) - 1
	}
	if retryIndex < 0 {
		retryIndex = 0
	}
	return r.Schedule[retryIndex]
}

func delays(seconds ...int) []time.Duration {
	out := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
