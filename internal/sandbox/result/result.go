// Package result defines the terminal outcome of a sandbox run and its wire form.
package result

import (
	"encoding/json"
	"io"

	"nsbox/pkg/errors"
)

// Status is the discriminator of a Result.
type Status string

const (
	StatusRequestInvalid Status = "requestInvalid"
	StatusInternalError  Status = "internalError"
	StatusExited         Status = "exited"
	StatusKilled         Status = "killed"
	StatusTimeLimit      Status = "timeLimit"
	StatusMemoryLimit    Status = "memoryLimit"
	StatusPidsLimit      Status = "pidsLimit"
	StatusFileLimit      Status = "fileLimit"
)

// Result is the single externally visible outcome of one invocation.
type Result struct {
	Status      Status `json:"status"`
	Code        *int   `json:"code,omitempty"`
	Signal      string `json:"signal,omitempty"`
	Description string `json:"description,omitempty"`
}

func Exited(code int) Result {
	return Result{Status: StatusExited, Code: &code}
}

func Killed(signal string) Result {
	return Result{Status: StatusKilled, Signal: signal}
}

func TimeLimit() Result   { return Result{Status: StatusTimeLimit} }
func MemoryLimit() Result { return Result{Status: StatusMemoryLimit} }
func PidsLimit() Result   { return Result{Status: StatusPidsLimit} }
func FileLimit() Result   { return Result{Status: StatusFileLimit} }

func RequestInvalid(description string) Result {
	return Result{Status: StatusRequestInvalid, Description: description}
}

func InternalError(description string) Result {
	return Result{Status: StatusInternalError, Description: description}
}

// FromError maps a failure to requestInvalid or internalError according to
// its error code. Errors without a code are internal.
func FromError(err error) Result {
	if err == nil {
		return InternalError("unknown failure")
	}
	if Status(errors.GetCode(err).Status()) == StatusRequestInvalid {
		return RequestInvalid(err.Error())
	}
	return InternalError(err.Error())
}

// IsRuntimeOutcome reports whether the result describes the fate of a
// command that was started, as opposed to a request or setup failure.
func (r Result) IsRuntimeOutcome() bool {
	switch r.Status {
	case StatusRequestInvalid, StatusInternalError:
		return false
	default:
		return true
	}
}

// Write emits r as one JSON line.
func Write(w io.Writer, r Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
