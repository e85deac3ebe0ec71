package errors

import (
	"fmt"
	"testing"
)

func TestConfigErrorIsFatal(t *testing.T) {
	err := NewConfigError("credentials.hostingToken", "missing", nil)
	if !IsFatal(err) {
		t.Error("ConfigError should be fatal")
	}
	if SeverityOf(err) != SeverityFatal {
		t.Errorf("SeverityOf = %v, want SeverityFatal", SeverityOf(err))
	}
}

func TestWrappedConfigError(t *testing.T) {
	base := NewConfigError("execution.workDir", "not writable", nil)
	wrapped := fmt.Errorf("initializing: %w", base)

	if !IsFatal(wrapped) {
		t.Error("wrapped ConfigError should still be fatal")
	}

	var ce *ConfigError
	if !As(wrapped, &ce) {
		t.Fatal("errors.As failed on wrapped ConfigError")
	}
	if ce.Field != "execution.workDir" {
		t.Errorf("Field = %q", ce.Field)
	}
}

func TestUpstreamErrorRetryable(t *testing.T) {
	retryable := NewUpstreamError("listOpenIssues", "issues", true, New("503"))
	terminal := NewUpstreamError("createPR", "pulls", false, New("403"))

	if !IsRetryable(retryable) {
		t.Error("expected retryable")
	}
	if IsRetryable(terminal) {
		t.Error("expected not retryable")
	}
	if IsFatal(retryable) {
		t.Error("upstream errors are never fatal")
	}
	if SeverityOf(retryable) != SeverityWarning {
		t.Errorf("SeverityOf = %v, want SeverityWarning", SeverityOf(retryable))
	}
}

func TestWorkerErrorTimeout(t *testing.T) {
	err := NewWorkerError(42, "auto/42-fix-thing", true, nil)
	want := "worker: issue 42: timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if HintOf(err) == "" {
		t.Error("expected a recovery hint")
	}
}

func TestMergeErrorConflict(t *testing.T) {
	err := NewMergeError("auto/7-rename", 3, true, New("merge conflict"))
	if SeverityOf(err) != SeverityError {
		t.Errorf("SeverityOf = %v, want SeverityError", SeverityOf(err))
	}
	want := "merge auto/7-rename: conflict after 3 attempts"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestUnclassifiedError(t *testing.T) {
	err := New("plain")
	if SeverityOf(err) != SeverityError {
		t.Errorf("SeverityOf(plain) = %v, want SeverityError", SeverityOf(err))
	}
	if HintOf(err) != "" {
		t.Errorf("HintOf(plain) = %q, want empty", HintOf(err))
	}
	if IsRetryable(err) {
		t.Error("plain errors are not retryable")
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		s    Severity
		want string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityFatal, "fatal"},
		{Severity(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
