package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 1000-1999: Request errors (reported as requestInvalid)
// 2000-2999: Execution errors (reported as internalError)

const (
	// Success
	Success ErrorCode = 0

	// ========== Request Errors (1000-1999) ==========

	// Validation errors (1000-1099)
	RequestInvalid    ErrorCode = 1000
	MalformedDocument ErrorCode = 1001
	UnknownField      ErrorCode = 1002

	// ========== Execution Errors (2000-2999) ==========

	// Generic (2000-2099)
	InternalError ErrorCode = 2000
	ConfigInvalid ErrorCode = 2001

	// Parent side setup (2100-2199)
	SinkOpenFailed    ErrorCode = 2100
	CgroupSetupFailed ErrorCode = 2101
	PipeSetupFailed   ErrorCode = 2102
	HelperStartFailed ErrorCode = 2103
	ControlFailed     ErrorCode = 2104
	CopyFileFailed    ErrorCode = 2105

	// Child side setup (2200-2299)
	NamespaceSetupFailed ErrorCode = 2200
	MountFailed          ErrorCode = 2201
	ChrootFailed         ErrorCode = 2202
	IdentityFailed       ErrorCode = 2203
	SeccompFailed        ErrorCode = 2204
	ExecFailed           ErrorCode = 2205
	HelperFailed         ErrorCode = 2206
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success: "Success",

	RequestInvalid:    "Request invalid",
	MalformedDocument: "Request is not a well-formed JSON object",
	UnknownField:      "unknown field",

	InternalError: "Internal error",
	ConfigInvalid: "Invalid configuration",

	SinkOpenFailed:    "Failed to open output sink",
	CgroupSetupFailed: "Failed to set up cgroup",
	PipeSetupFailed:   "Failed to set up pipe",
	HelperStartFailed: "Failed to start sandbox helper",
	ControlFailed:     "Sandbox control channel failed",
	CopyFileFailed:    "Failed to copy file out of sandbox",

	NamespaceSetupFailed: "Failed to set up namespaces",
	MountFailed:          "Mount failed",
	ChrootFailed:         "Chroot failed",
	IdentityFailed:       "Failed to switch identity",
	SeccompFailed:        "Failed to load seccomp filter",
	ExecFailed:           "Exec failed",
	HelperFailed:         "Sandbox helper failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsRequestError reports whether the code belongs to the request tier.
func (c ErrorCode) IsRequestError() bool {
	return c >= 1000 && c < 2000
}

// Status returns the wire status a failure with this code is reported as.
func (c ErrorCode) Status() string {
	switch {
	case c == Success:
		return ""
	case c.IsRequestError():
		return "requestInvalid"
	default:
		return "internalError"
	}
}
