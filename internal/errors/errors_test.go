package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestAppErrorFormatting(t *testing.T) {
	plain := New(ErrValidation, "name is required")
	if got := plain.Error(); got != "[VALIDATION_ERROR] name is required" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(ErrSyncFailed, "remote pull failed", stderrors.New("connection reset"))
	msg := wrapped.Error()
	if !strings.Contains(msg, "SYNC_FAILED") || !strings.Contains(msg, "connection reset") {
		t.Errorf("wrapped Error() = %q, want code and cause", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := Wrap(ErrStorageQuota, "persist failed", cause)

	if !stderrors.Is(wrapped, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestIs(t *testing.T) {
	t.Run("direct code", func(t *testing.T) {
		err := New(ErrRemoteTimeout, "slow backend")
		if !Is(err, ErrRemoteTimeout) {
			t.Error("Is should match the direct code")
		}
		if Is(err, ErrRemoteUnavailable) {
			t.Error("Is should not match a different code")
		}
	})

	t.Run("nested code", func(t *testing.T) {
		inner := New(ErrRemoteUnavailable, "unreachable")
		outer := Wrap(ErrSyncFailed, "sync aborted", inner)

		if !Is(outer, ErrSyncFailed) {
			t.Error("Is should match the outer code")
		}
		if !Is(outer, ErrRemoteUnavailable) {
			t.Error("Is should walk into wrapped causes")
		}
	})

	t.Run("non app errors", func(t *testing.T) {
		if Is(stderrors.New("plain"), ErrInternal) {
			t.Error("Is should reject plain errors")
		}
		if Is(nil, ErrInternal) {
			t.Error("Is should reject nil")
		}
	})
}

func TestCode(t *testing.T) {
	if got := Code(New(ErrOpDropped, "ceiling reached")); got != ErrOpDropped {
		t.Errorf("Code = %s, want %s", got, ErrOpDropped)
	}
	if got := Code(stderrors.New("plain")); got != ErrInternal {
		t.Errorf("Code of plain error = %s, want %s", got, ErrInternal)
	}
}
