package classify

import (
	"testing"
	"time"

	"github.com/arlojansen/goimap/internal/wire"
)

func TestCommandFailedExtractsCode(t *testing.T) {
	attrs := wire.List(wire.QuotedString("[ALREADYEXISTS] Mailbox already exists"))
	err := CommandFailed("NO", attrs)
	if err.Code != "ALREADYEXISTS" {
		t.Errorf("Code = %q, want ALREADYEXISTS", err.Code)
	}
	if err.Text != "Mailbox already exists" {
		t.Errorf("Text = %q", err.Text)
	}
}

func TestCommandFailedWithoutCode(t *testing.T) {
	attrs := wire.List(wire.QuotedString("Invalid mailbox name"))
	err := CommandFailed("BAD", attrs)
	if err.Code != "" {
		t.Errorf("Code = %q, want empty", err.Code)
	}
	if err.Status != "BAD" {
		t.Errorf("Status = %q, want BAD", err.Status)
	}
}

func TestCommandFailedDetectsThrottleHint(t *testing.T) {
	attrs := wire.List(wire.QuotedString("Try again in 30 seconds"))
	err := CommandFailed("NO", attrs)
	if err.Kind != KindThrottled {
		t.Fatalf("Kind = %v, want KindThrottled", err.Kind)
	}
	if err.ThrottleReset != 30*time.Second {
		t.Errorf("ThrottleReset = %v, want 30s", err.ThrottleReset)
	}
}

func TestCommandFailedClampsLongThrottleHint(t *testing.T) {
	attrs := wire.List(wire.QuotedString("Try again in 20 minutes"))
	err := CommandFailed("NO", attrs)
	if err.ThrottleReset != maxThrottleReset {
		t.Errorf("ThrottleReset = %v, want clamp of %v", err.ThrottleReset, maxThrottleReset)
	}
}

func TestCommandFailedDetectsSuggestedBackoffTime(t *testing.T) {
	attrs := wire.List(wire.QuotedString("Request is throttled. Suggested Backoff Time: 2000 milliseconds"))
	err := CommandFailed("NO", attrs)
	if err.Kind != KindThrottled {
		t.Fatalf("Kind = %v, want KindThrottled", err.Kind)
	}
	if err.ThrottleReset != 2*time.Second {
		t.Errorf("ThrottleReset = %v, want 2s", err.ThrottleReset)
	}
}

func TestReclassifyCreateAlreadyExists(t *testing.T) {
	attrs := wire.List(wire.QuotedString("[ALREADYEXISTS] Mailbox already exists"))
	err := CommandFailed("NO", attrs)
	if !ReclassifyCreateAlreadyExists(err) {
		t.Error("expected ALREADYEXISTS to be reclassifiable")
	}
}

func TestAsMatchesKind(t *testing.T) {
	err := New(KindNoConnection, "closed")
	if !As(err, KindNoConnection) {
		t.Error("As() = false, want true")
	}
	if As(err, KindProtocolViolation) {
		t.Error("As() = true, want false for a different kind")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := New(KindParseError, "bad token")
	wrapped := Wrap(KindProtocolViolation, cause)
	if wrapped.Unwrap() != cause {
		t.Error("Unwrap() did not return the original cause")
	}
}
