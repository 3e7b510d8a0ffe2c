package classify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedClassifier struct {
	calls int
	err   error
	res   Result
}

func (s *scriptedClassifier) Classify(context.Context, string, string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func TestGuard_PassThrough(t *testing.T) {
	next := &scriptedClassifier{res: Result{Label: "reports"}}
	g := NewGuard(next, GuardConfig{}, nil, nil)

	res, err := g.Classify(context.Background(), "x", "a.docx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Label != "reports" {
		t.Errorf("expected label reports, got %q", res.Label)
	}
	if g.Stats().Snapshot().Count != 1 {
		t.Errorf("expected one latency sample, got %d", g.Stats().Snapshot().Count)
	}
}

func TestGuard_BreakerOpensOnServiceFailures(t *testing.T) {
	next := &scriptedClassifier{err: &Error{Kind: KindTransport, Err: errors.New("connection refused")}}
	g := NewGuard(next, GuardConfig{BreakerFailures: 2, BreakerCooldown: time.Minute}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := g.Classify(context.Background(), "x", "a.pdf")
		assertKind(t, err, KindTransport)
	}

	_, err := g.Classify(context.Background(), "x", "a.pdf")
	assertKind(t, err, KindUnavailable)
	if next.calls != 2 {
		t.Errorf("expected open circuit to skip the call, got %d calls", next.calls)
	}
	if got := g.Stats().Snapshot().Failures; got != 2 {
		t.Errorf("expected 2 recorded failures, got %d", got)
	}
}

func TestGuard_SchemaErrorsDoNotTripBreaker(t *testing.T) {
	next := &scriptedClassifier{err: &Error{Kind: KindSchema, Err: errors.New("missing required fields: label")}}
	g := NewGuard(next, GuardConfig{BreakerFailures: 1}, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Classify(context.Background(), "x", "a.pdf")
		assertKind(t, err, KindSchema)
	}
	if next.calls != 3 {
		t.Errorf("expected every call to reach the service, got %d", next.calls)
	}
}

func TestGuard_RateLimitHonorsCancellation(t *testing.T) {
	next := &scriptedClassifier{res: Result{Label: "x"}}
	g := NewGuard(next, GuardConfig{RequestsPerMinute: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Classify(ctx, "x", "a.pdf")
	assertKind(t, err, KindUnavailable)
	if next.calls != 0 {
		t.Errorf("expected no call with a canceled context, got %d", next.calls)
	}
}

func TestCountsAsHealthy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"decode", &Error{Kind: KindDecode}, true},
		{"schema", &Error{Kind: KindSchema}, true},
		{"bad request", &Error{Kind: KindStatus, StatusCode: 400}, true},
		{"rate limited", &Error{Kind: KindStatus, StatusCode: 429}, false},
		{"server error", &Error{Kind: KindStatus, StatusCode: 503}, false},
		{"transport", &Error{Kind: KindTransport}, false},
		{"foreign", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countsAsHealthy(tt.err); got != tt.want {
				t.Errorf("countsAsHealthy(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
