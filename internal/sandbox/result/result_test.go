package result

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"nsbox/pkg/errors"
)

func TestWrite(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want string
	}{
		{name: "exit zero keeps code", res: Exited(0), want: `{"status":"exited","code":0}`},
		{name: "exit code", res: Exited(42), want: `{"status":"exited","code":42}`},
		{name: "killed", res: Killed("SIGTERM"), want: `{"status":"killed","signal":"SIGTERM"}`},
		{name: "time limit", res: TimeLimit(), want: `{"status":"timeLimit"}`},
		{name: "file limit", res: FileLimit(), want: `{"status":"fileLimit"}`},
		{name: "request invalid", res: RequestInvalid("gid: expecting a non-negative integer"), want: `{"status":"requestInvalid","description":"gid: expecting a non-negative integer"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tc.res); err != nil {
				t.Fatalf("write: %v", err)
			}
			if got := buf.String(); got != tc.want+"\n" {
				t.Fatalf("Write() = %q, want %q", got, tc.want+"\n")
			}
		})
	}
}

func TestFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Status
	}{
		{name: "validation", err: errors.ValidationError("cmd", "expecting an array of strings"), want: StatusRequestInvalid},
		{name: "malformed", err: errors.New(errors.MalformedDocument), want: StatusRequestInvalid},
		{name: "unknown field", err: errors.New(errors.UnknownField), want: StatusRequestInvalid},
		{name: "wrapped validation", err: fmt.Errorf("parse: %w", errors.ValidationError("gid", "out of range")), want: StatusRequestInvalid},
		{name: "mount", err: fmt.Errorf("apply: %w", errors.New(errors.MountFailed)), want: StatusInternalError},
		{name: "plain", err: stderrors.New("boom"), want: StatusInternalError},
		{name: "nil", err: nil, want: StatusInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromError(tc.err).Status; got != tc.want {
				t.Fatalf("FromError() status = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsRuntimeOutcome(t *testing.T) {
	if InternalError("x").IsRuntimeOutcome() {
		t.Fatal("internal error is not a runtime outcome")
	}
	if !Killed("SIGSEGV").IsRuntimeOutcome() {
		t.Fatal("killed is a runtime outcome")
	}
}
