// Package result defines the uniform (code, extended_code, details) triple
// used at every layer of the update orchestration core, from handler
// capability calls up through the reported-property document.
package result

import "fmt"

// Code is a result code. Ranges are authoritative: callers must not invent
// codes outside the partitions documented on the constants below.
type Code uint32

// Code partitions, per spec.md §3:
//
//	0                         -> generic failure
//	1..199                    -> reserved / in-progress markers
//	200..499                  -> success family (including the reboot,
//	                             agent-restart, and skipped variants)
//	500..                     -> failure family
const (
	CodeFailureNone Code = 0

	CodeInProgress Code = 2

	CodeSuccess                     Code = 200
	CodeSuccessRequiredReboot       Code = 201
	CodeSuccessRequiredAgentRestart Code = 202
	CodeSkippedUpdateAlreadyInstalled Code = 210
	CodeSkippedNoMatchingComponents   Code = 211

	// CodeInstalled and CodeNotInstalled are the two outcomes a handler's
	// is_installed capability may report; both are success-range codes
	// because spec.md §4.3 requires is_installed "never a failure that
	// aborts the overall workflow".
	CodeInstalled    Code = 220
	CodeNotInstalled Code = 221

	CodeFailureGeneric    Code = 500
	CodeFailureCancelled  Code = 501
	CodeFailureBadFormat  Code = 502
	CodeFailureSignature  Code = 503
	CodeFailureHashMismatch Code = 504
	CodeFailureInternal   Code = 505
)

// IsSuccess reports whether code falls in the success range [200, 500).
func (c Code) IsSuccess() bool {
	return c >= 200 && c < 500
}

// IsFailure reports whether code is the generic zero failure or falls in
// the failure range [500, ...).
func (c Code) IsFailure() bool {
	return c == CodeFailureNone || c >= 500
}

// IndicatesInProgress reports whether code marks an operation still running.
func (c Code) IndicatesInProgress() bool {
	return c > 0 && c < 200
}

// RequiresReboot reports whether a successful result demands the
// device reboot before any further phase can run.
func (c Code) RequiresReboot() bool {
	return c == CodeSuccessRequiredReboot
}

// RequiresAgentRestart reports whether a successful result demands the
// agent process restart before any further phase can run.
func (c Code) RequiresAgentRestart() bool {
	return c == CodeSuccessRequiredAgentRestart
}

func (c Code) String() string {
	switch c {
	case CodeFailureNone:
		return "Failure_None"
	case CodeInProgress:
		return "InProgress"
	case CodeSuccess:
		return "Success"
	case CodeSuccessRequiredReboot:
		return "Success_RequiredReboot"
	case CodeSuccessRequiredAgentRestart:
		return "Success_RequiredAgentRestart"
	case CodeSkippedUpdateAlreadyInstalled:
		return "Skipped_UpdateAlreadyInstalled"
	case CodeSkippedNoMatchingComponents:
		return "Skipped_NoMatchingComponents"
	case CodeInstalled:
		return "Installed"
	case CodeNotInstalled:
		return "NotInstalled"
	case CodeFailureGeneric:
		return "Failure_Generic"
	case CodeFailureCancelled:
		return "Failure_Cancelled"
	case CodeFailureBadFormat:
		return "Failure_BadFormat"
	case CodeFailureSignature:
		return "Failure_SignatureInvalid"
	case CodeFailureHashMismatch:
		return "Failure_ManifestHashMismatch"
	case CodeFailureInternal:
		return "Failure_Internal"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

// Result is the triple every handler capability call, step, and workflow
// node reports up the tree.
type Result struct {
	Code         Code   `json:"resultCode"`
	ExtendedCode uint32 `json:"extendedResultCode"`
	Details      string `json:"resultDetails,omitempty"`
}

// IsSuccess reports whether r.Code is in the success range.
func (r Result) IsSuccess() bool { return r.Code.IsSuccess() }

// IsFailure reports whether r.Code is in the failure range.
func (r Result) IsFailure() bool { return r.Code.IsFailure() }

// IndicatesInProgress reports whether r.Code marks an in-flight operation.
func (r Result) IndicatesInProgress() bool { return r.Code.IndicatesInProgress() }

// RequiresReboot reports whether r.Code demands a device reboot.
func (r Result) RequiresReboot() bool { return r.Code.RequiresReboot() }

// RequiresAgentRestart reports whether r.Code demands an agent restart.
func (r Result) RequiresAgentRestart() bool { return r.Code.RequiresAgentRestart() }

// Success builds a plain success result.
func Success() Result { return Result{Code: CodeSuccess} }

// SuccessRequiredReboot builds a success result that demands a reboot.
func SuccessRequiredReboot() Result { return Result{Code: CodeSuccessRequiredReboot} }

// SuccessRequiredAgentRestart builds a success result that demands an agent restart.
func SuccessRequiredAgentRestart() Result { return Result{Code: CodeSuccessRequiredAgentRestart} }

// SkippedAlreadyInstalled builds the result a step reports when is_installed
// short-circuited the phase.
func SkippedAlreadyInstalled() Result {
	return Result{Code: CodeSkippedUpdateAlreadyInstalled}
}

// SkippedNoMatchingComponents builds the result a reference step reports
// when the enumerator matched zero components.
func SkippedNoMatchingComponents() Result {
	return Result{Code: CodeSkippedNoMatchingComponents}
}

// Failuref builds a failure result with a formatted details string.
func Failuref(code Code, extended uint32, format string, args ...interface{}) Result {
	if !code.IsFailure() {
		code = CodeFailureGeneric
	}
	return Result{Code: code, ExtendedCode: extended, Details: fmt.Sprintf(format, args...)}
}

// Installed builds the is_installed result meaning the update is present.
func Installed() Result { return Result{Code: CodeInstalled} }

// NotInstalled builds the is_installed result meaning the update is absent.
func NotInstalled() Result { return Result{Code: CodeNotInstalled} }

// Cancelled builds the canonical cancellation result.
func Cancelled() Result {
	return Result{Code: CodeFailureCancelled, Details: "operation cancelled"}
}
