package capability

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	c := NewFunc("echo", "Echo the query.", func(_ context.Context, q string) (string, error) {
		return q, nil
	})
	if err := r.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Get("echo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	out, err := got.Invoke(context.Background(), "hello")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected 'hello', got %q", out)
	}
}

func TestGetNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterRequiresName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewFunc("", "", nil)); err == nil {
		t.Fatal("expected error for unnamed capability")
	}
}

func TestPickDropsUnavailable(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, Logs); err != nil {
		t.Fatalf("register builtins: %v", err)
	}

	picked := r.Pick(Metrics, Logs, "nonexistent", SIEM)
	if len(picked) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(picked))
	}
	if picked[0].Name() != Metrics || picked[1].Name() != SIEM {
		t.Errorf("unexpected pick order: %s, %s", picked[0].Name(), picked[1].Name())
	}
}

func TestBuiltinOutputs(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	if n := len(r.Names()); n != 10 {
		t.Fatalf("expected 10 builtins, got %d", n)
	}

	tests := []struct {
		name, query, want string
	}{
		{Metrics, "payments", "Metrics snapshot for incident context: payments"},
		{DeployHistory, "payments-api", "Recent deploy history for payments-api: last deploy at T-30m"},
		{QueryAnalyzer, "orders", "Top slow queries for orders: none above threshold"},
		{StatusPage, "degraded", "Status page update drafted: degraded"},
	}
	for _, tt := range tests {
		c, err := r.Get(tt.name)
		if err != nil {
			t.Fatalf("get %s: %v", tt.name, err)
		}
		got, _ := c.Invoke(context.Background(), tt.query)
		if got != tt.want {
			t.Errorf("%s(%q) = %q, want %q", tt.name, tt.query, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	_ = RegisterBuiltins(r)
	descs := r.Describe()
	if descs[SIEM] != "Review security alerts and indicators of compromise." {
		t.Errorf("unexpected siem description: %q", descs[SIEM])
	}
}
