package retry_test

import (
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/retry"
	"loom/internal/services"
)

func TestDefaultNetworkBackoff(t *testing.T) {
	policy := retry.Default()

	expected := []time.Duration{0, 2 * time.Second, 4 * time.Second}
	for i, want := range expected {
		decision := policy.Decide(services.KindNetwork, i)
		if !decision.Retry {
			t.Fatalf("retry %d: expected retry", i)
		}
		if decision.Delay != want {
			t.Fatalf("retry %d: delay = %s, want %s", i, decision.Delay, want)
		}
	}
	if decision := policy.Decide(services.KindNetwork, 3); decision.Retry {
		t.Fatal("expected give-up after 3 retries")
	}
}

func TestAuthAndUnknownGiveUpImmediately(t *testing.T) {
	policy := retry.Default()
	for _, kind := range []services.Kind{services.KindAuth, services.KindUnknown} {
		if decision := policy.Decide(kind, 0); decision.Retry {
			t.Fatalf("%s: expected immediate give-up", kind)
		}
	}
}

func TestRateLimitFixedDelayRepeats(t *testing.T) {
	policy := retry.Default()

	var total time.Duration
	for i := 0; i < 5; i++ {
		decision := policy.Decide(services.KindRateLimit, i)
		if !decision.Retry {
			t.Fatalf("retry %d: expected retry", i)
		}
		if decision.Delay != time.Minute {
			t.Fatalf("retry %d: delay = %s, want 1m", i, decision.Delay)
		}
		total += decision.Delay
	}
	if total != 5*time.Minute {
		t.Fatalf("total wait = %s, want 5m", total)
	}
	if decision := policy.Decide(services.KindRateLimit, 5); decision.Retry {
		t.Fatal("expected give-up after 5 retries")
	}
}

func TestLocalIOSchedule(t *testing.T) {
	policy := retry.Default()
	for i := 0; i < 2; i++ {
		decision := policy.Decide(services.KindLocalIO, i)
		if !decision.Retry || decision.Delay != time.Second {
			t.Fatalf("retry %d: got %+v", i, decision)
		}
	}
	if decision := policy.Decide(services.KindLocalIO, 2); decision.Retry {
		t.Fatal("expected give-up after 2 retries")
	}
}

func TestUnlistedKindGivesUp(t *testing.T) {
	policy := retry.Policy{}
	if decision := policy.Decide(services.Kind("mystery"), 0); decision.Retry {
		t.Fatal("expected give-up for unlisted kind")
	}
}

func TestFromConfigOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Network = config.RetryRule{MaxAttempts: 1, DelaySeconds: []int{7}}

	policy := retry.FromConfig(cfg.Retry)

	decision := policy.Decide(services.KindNetwork, 0)
	if !decision.Retry || decision.Delay != 7*time.Second {
		t.Fatalf("decision = %+v, want retry after 7s", decision)
	}
	if decision := policy.Decide(services.KindNetwork, 1); decision.Retry {
		t.Fatal("expected give-up after 1 retry")
	}

	// Untouched kinds keep their defaults.
	if got := policy.MaxAttempts(services.KindTimeout); got != 3 {
		t.Fatalf("timeout budget = %d, want default 3", got)
	}
}

func TestScheduleLastEntryRepeats(t *testing.T) {
	policy := retry.Policy{
		services.KindServer: {MaxAttempts: 4, Schedule: []time.Duration{time.Second, 2 * time.Second}},
	}
	if d := policy.Decide(services.KindServer, 3); !d.Retry || d.Delay != 2*time.Second {
		t.Fatalf("decision = %+v, want last schedule entry repeated", d)
	}
}
