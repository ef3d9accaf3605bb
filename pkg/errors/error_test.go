package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "nsbox/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{RequestInvalid, "Request invalid"},
		{MountFailed, "Mount failed"},
		{ErrorCode(4242), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_Status(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, ""},
		{RequestInvalid, "requestInvalid"},
		{UnknownField, "requestInvalid"},
		{InternalError, "internalError"},
		{ExecFailed, "internalError"},
		{CopyFileFailed, "internalError"},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.Status(); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(ChrootFailed)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if err.Code != ChrootFailed {
		t.Errorf("Code = %v, want %v", err.Code, ChrootFailed)
	}

	if err.Error() != ChrootFailed.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), ChrootFailed.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ExecFailed, "exec %q: no such file", "foo")

	want := `exec "foo": no such file`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		reason string
		want   string
	}{
		{name: "field", field: "mounts[1].type", reason: "expecting a string", want: "mounts[1].type: expecting a string"},
		{name: "document", field: "", reason: "empty request", want: "empty request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidationError(tt.field, tt.reason)
			if err.Code != RequestInvalid {
				t.Errorf("Code = %v, want %v", err.Code, RequestInvalid)
			}
			if err.Error() != tt.want {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.want)
			}
			if err.Details["field"] != tt.field {
				t.Error("Field detail not set")
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(PipeSetupFailed),
			want: PipeSetupFailed,
		},
		{
			name: "wrapped custom error",
			err:  fmt.Errorf("run: %w", New(CgroupSetupFailed)),
			want: CgroupSetupFailed,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(ExecFailed)

	if !Is(err, ExecFailed) {
		t.Error("Is() should return true for matching code")
	}

	if Is(err, MountFailed) {
		t.Error("Is() should return false for non-matching code")
	}

	if Is(nil, ExecFailed) {
		t.Error("Is() should return false for nil error")
	}
}
