package readiness

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatus(t *testing.T) {
	svc := NewService(time.Second,
		Check{Name: "db", Probe: func(context.Context) error { return nil }},
		Check{Name: "queue", Probe: func(context.Context) error { return errors.New("unreachable") }},
	)
	st := svc.Status(context.Background())
	if st.OK {
		t.Fatalf("expected not ok")
	}
	if st.Checks["db"] != "ok" || st.Checks["queue"] != "unreachable" {
		t.Fatalf("unexpected checks: %+v", st.Checks)
	}
	if !NewService(0).Status(context.Background()).OK {
		t.Fatalf("no checks should be ok")
	}
}

func TestProbesGetDeadline(t *testing.T) {
	var hadDeadline bool
	svc := NewService(50*time.Millisecond, Check{Name: "db", Probe: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}})
	svc.Status(context.Background())
	if !hadDeadline {
		t.Fatalf("expected probe deadline")
	}
}
