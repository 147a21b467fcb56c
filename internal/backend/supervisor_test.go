package backend

import (
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/stacklok/mcprelay/internal/config"
)

func TestNextRestartDelayDoublesToCeiling(t *testing.T) {
	p := config.RestartPolicy{InitialDelay: time.Second, MaxDelay: 8 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second}, // capped at ceiling
	}
	for _, tc := range cases {
		got, ok := nextRestartDelay(p, tc.attempt)
		if !ok {
			t.Fatalf("attempt %d: expected policy to permit restart", tc.attempt)
		}
		if got != tc.want {
			t.Errorf("attempt %d: got delay %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNextRestartDelayRespectsMaxRestarts(t *testing.T) {
	p := config.RestartPolicy{InitialDelay: time.Second, MaxDelay: 8 * time.Second, MaxRestarts: 2}

	if _, ok := nextRestartDelay(p, 2); !ok {
		t.Error("expected attempt 2 to still be permitted")
	}
	if _, ok := nextRestartDelay(p, 3); ok {
		t.Error("expected attempt 3 to exceed MaxRestarts")
	}
}

func TestRegistryTracksEnabledAndReadyBackends(t *testing.T) {
	reg := NewRegistry()

	a := New(Descriptor{Name: "a", Enabled: true}, nil)
	reg.Register(a, suture.ServiceToken{})

	if got := reg.ReadyAndEnabled(); len(got) != 0 {
		t.Fatalf("expected no ready backends before Serve runs, got %v", got)
	}

	a.setState(StateReady)
	got := reg.ReadyAndEnabled()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected [a] once ready and enabled, got %v", got)
	}

	if err := reg.SetEnabled("a", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if got := reg.ReadyAndEnabled(); len(got) != 0 {
		t.Fatalf("expected no ready backends once disabled, got %v", got)
	}
}

func TestRegistryLookupUnknownBackend(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Lookup("missing"); ok {
		t.Error("expected Lookup to report unknown backend as absent")
	}
	if err := reg.SetEnabled("missing", true); err == nil {
		t.Error("expected SetEnabled on unknown backend to error")
	}
}
