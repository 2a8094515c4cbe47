package resilience

import (
	"errors"
	"testing"
	"time"
)

// endpoint is a stand-in for a dialer or sink with a scriptable outcome.
type endpoint struct {
	name string
	fail bool
	hits int
}

func newGroup(cfg FallbackConfig, eps ...*endpoint) *FallbackGroup[*endpoint] {
	fg := NewFallbackGroup(eps[0], eps[0].name, cfg)
	for _, ep := range eps[1:] {
		fg.AddFallback(ep.name, ep)
	}
	return fg
}

func deliver(fg *FallbackGroup[*endpoint]) (*endpoint, error) {
	var used *endpoint
	err := fg.Execute(func(ep *endpoint) error {
		ep.hits++
		if ep.fail {
			return errDialRefused
		}
		used = ep
		return nil
	})
	return used, err
}

func TestFallbackGroup_HealthyPrimaryOnly(t *testing.T) {
	primary := &endpoint{name: "records-api"}
	secondary := &endpoint{name: "store"}
	fg := newGroup(FallbackConfig{}, primary, secondary)

	used, err := deliver(fg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != primary {
		t.Errorf("delivered via %q, want the primary", used.name)
	}
	if secondary.hits != 0 {
		t.Error("fallback was tried although the primary succeeded")
	}
}

func TestFallbackGroup_FailsOverInOrder(t *testing.T) {
	primary := &endpoint{name: "records-api", fail: true}
	secondary := &endpoint{name: "store"}
	fg := newGroup(FallbackConfig{}, primary, secondary)

	used, err := deliver(fg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != secondary {
		t.Errorf("delivered via %q, want the fallback", used.name)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	fg := newGroup(FallbackConfig{},
		&endpoint{name: "records-api", fail: true},
		&endpoint{name: "store", fail: true})

	if _, err := deliver(fg); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSparesThePrimary(t *testing.T) {
	primary := &endpoint{name: "records-api", fail: true}
	secondary := &endpoint{name: "store"}
	fg := newGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, primary, secondary)

	// Two failed deliveries trip the primary's breaker.
	deliver(fg)
	deliver(fg)
	before := primary.hits

	used, err := deliver(fg)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if used != secondary {
		t.Errorf("delivered via %q, want the fallback", used.name)
	}
	if primary.hits != before {
		t.Error("tripped primary was still dialed")
	}
}

func TestExecuteWithResult_ReturnsFirstHealthyValue(t *testing.T) {
	fg := newGroup(FallbackConfig{},
		&endpoint{name: "primary", fail: true},
		&endpoint{name: "backup"})

	got, err := ExecuteWithResult(fg, func(ep *endpoint) (string, error) {
		if ep.fail {
			return "", errDialRefused
		}
		return "session-" + ep.name, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "session-backup" {
		t.Errorf("result = %q", got)
	}
}

func TestExecuteWithResult_AllFailed(t *testing.T) {
	fg := newGroup(FallbackConfig{}, &endpoint{name: "primary", fail: true})

	_, err := ExecuteWithResult(fg, func(ep *endpoint) (string, error) {
		return "", errDialRefused
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
