package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesReason(t *testing.T) {
	base := errors.New("synthesis backend said no")
	err := Wrap(base, ReasonSynthesisFailed)

	if Reason(err) != ReasonSynthesisFailed {
		t.Fatalf("expected reason %q, got %q", ReasonSynthesisFailed, Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("wrapped error should unwrap to the original")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil, ReasonReplyNetwork) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestWrapKeepsFirstReason(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonRecognitionTransient)
	err = Wrap(err, ReasonReplyUpstream)

	if Reason(err) != ReasonRecognitionTransient {
		t.Fatalf("re-wrap must not replace the original reason, got %q", Reason(err))
	}
}

func TestReasonThroughFmtWrap(t *testing.T) {
	err := Wrap(errors.New("quota hit"), ReasonSynthesisQuota)
	outer := fmt.Errorf("synthesize: %w", err)

	if !HasReason(outer, ReasonSynthesisQuota) {
		t.Fatalf("reason should survive fmt.Errorf wrapping")
	}
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatalf("plain error should report unknown reason")
	}
}
