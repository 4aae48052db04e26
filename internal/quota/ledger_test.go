package quota

import (
	"context"
	"testing"
	"time"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/testsupport"
)

// testClock drives the ledger deterministically: sleeps advance the
// clock instead of blocking.
type testClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func openTestLedger(t *testing.T, rpm, daily int) (*Ledger, *testClock) {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithQuota(rpm, daily))
	ledger, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ledger.now = clock.Now
	ledger.sleep = clock.Sleep
	return ledger, clock
}

func TestReserveDisabledIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ledger.Enabled() {
		t.Fatal("quota should be disabled by default in tests")
	}
	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve on disabled ledger: %v", err)
	}
	used, err := ledger.UsageToday("suno")
	if err != nil || used != 0 {
		t.Fatalf("UsageToday = %d, %v", used, err)
	}
}

func TestReservePacesRequestsPerMinute(t *testing.T) {
	ledger, clock := openTestLedger(t, 2, 100)

	for i := 0; i < 2; i++ {
		if err := ledger.Reserve(context.Background(), "suno"); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		clock.now = clock.now.Add(time.Second)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("unexpected pacing before the window fills: %v", clock.sleeps)
	}

	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(clock.sleeps) != 1 {
		t.Fatalf("sleeps = %v, want one pacing wait", clock.sleeps)
	}
	if wait := clock.sleeps[0]; wait <= 0 || wait > time.Minute {
		t.Fatalf("pacing wait = %s, want within the minute window", wait)
	}

	used, err := ledger.UsageToday("suno")
	if err != nil {
		t.Fatalf("UsageToday: %v", err)
	}
	if used != 3 {
		t.Fatalf("usage = %d, want 3", used)
	}
}

func TestReserveDailyLimit(t *testing.T) {
	ledger, clock := openTestLedger(t, 0, 2)

	for i := 0; i < 2; i++ {
		if err := ledger.Reserve(context.Background(), "openai"); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		clock.now = clock.now.Add(time.Minute)
	}

	err := ledger.Reserve(context.Background(), "openai")
	if err == nil {
		t.Fatal("expected daily limit error")
	}
	if kind := services.KindOf(err); kind != services.KindRateLimit {
		t.Fatalf("kind = %s, want rate_limit", kind)
	}
}

func TestDailyLimitResetsAtMidnight(t *testing.T) {
	ledger, clock := openTestLedger(t, 0, 1)

	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ledger.Reserve(context.Background(), "suno"); err == nil {
		t.Fatal("expected daily limit error")
	}

	clock.now = time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC)
	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve after rollover: %v", err)
	}
}

func TestServicesAreMeteredIndependently(t *testing.T) {
	ledger, _ := openTestLedger(t, 0, 1)

	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve suno: %v", err)
	}
	if err := ledger.Reserve(context.Background(), "openai"); err != nil {
		t.Fatalf("Reserve openai: %v", err)
	}
	if err := ledger.Reserve(context.Background(), "suno"); err == nil {
		t.Fatal("expected suno to be exhausted")
	}
}

func TestUsageSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(0, 10))
	ledger, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ledger.Reserve(context.Background(), "suno"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	used, err := reopened.UsageToday("suno")
	if err != nil {
		t.Fatalf("UsageToday: %v", err)
	}
	if used != 1 {
		t.Fatalf("usage after reopen = %d, want 1", used)
	}
}
