package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: Common client errors
// 11000-11999: Auth errors
// 12000-12999: Problem errors
// 13000-13999: Submission & status stream errors
// 14000-14999: Contest errors
// 15000-15999: Discussion errors

const (
	// ========== Common (10000-10999) ==========

	Success ErrorCode = 10000

	InternalError      ErrorCode = 10001
	InvalidParams      ErrorCode = 10002
	NotFound           ErrorCode = 10003
	Unauthorized       ErrorCode = 10004
	Forbidden          ErrorCode = 10005
	TooManyRequests    ErrorCode = 10006
	ServiceUnavailable ErrorCode = 10007
	Timeout            ErrorCode = 10008
	RequestFailed      ErrorCode = 10009
	ServerError        ErrorCode = 10010

	// Validation (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// Local state (10400-10499)
	ConfigLoadFailed ErrorCode = 10400
	StateLoadFailed  ErrorCode = 10401
	StateSaveFailed  ErrorCode = 10402

	// ========== Auth (11000-11999) ==========

	InvalidCredentials ErrorCode = 11000
	TokenMissing       ErrorCode = 11001
	TokenExpired       ErrorCode = 11003
	TokenInvalid       ErrorCode = 11004

	// ========== Problem (12000-12999) ==========

	ProblemNotFound      ErrorCode = 12000
	TemplateNotAvailable ErrorCode = 12001
	TemplateWriteFailed  ErrorCode = 12002

	// ========== Submission & Status Stream (13000-13999) ==========

	SubmissionNotFound        ErrorCode = 13000
	SubmissionCreateFailed    ErrorCode = 13001
	CodeEmpty                 ErrorCode = 13002
	LanguageNotSupported      ErrorCode = 13003
	SubmissionResponseInvalid ErrorCode = 13006
	SubmissionSuperseded      ErrorCode = 13007
	SubmissionDisposed        ErrorCode = 13008

	StreamConnectFailed  ErrorCode = 13300
	StreamProtocolError  ErrorCode = 13301
	StreamTransportError ErrorCode = 13302
	StreamDropped        ErrorCode = 13303
	StreamTimeout        ErrorCode = 13304

	// ========== Contest (14000-14999) ==========

	ContestNotFound    ErrorCode = 14000
	RegistrationFailed ErrorCode = 14102
	LeaderboardInvalid ErrorCode = 14200

	// ========== Discussion (15000-15999) ==========

	MessageEmpty   ErrorCode = 15000
	ChatClosed     ErrorCode = 15001
	ChatSendFailed ErrorCode = 15002
	HistoryInvalid ErrorCode = 15003
)

var errorMessages = map[ErrorCode]string{
	Success:            "Success",
	InternalError:      "Internal client error",
	InvalidParams:      "Invalid parameters",
	NotFound:           "Resource not found",
	Unauthorized:       "Unauthorized access",
	Forbidden:          "Access forbidden",
	TooManyRequests:    "Too many requests, please try again later",
	ServiceUnavailable: "Service temporarily unavailable",
	Timeout:            "Request timeout",
	RequestFailed:      "Request failed",
	ServerError:        "Server error",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	ConfigLoadFailed: "Failed to load config",
	StateLoadFailed:  "Failed to load token state",
	StateSaveFailed:  "Failed to save token state",

	InvalidCredentials: "Invalid email or password",
	TokenMissing:       "Not logged in",
	TokenExpired:       "Token has expired",
	TokenInvalid:       "Invalid token",

	ProblemNotFound:      "Problem not found",
	TemplateNotAvailable: "Code template not available",
	TemplateWriteFailed:  "Failed to write code template",

	SubmissionNotFound:        "Submission not found",
	SubmissionCreateFailed:    "Submission failed",
	CodeEmpty:                 "Source code is empty",
	LanguageNotSupported:      "Programming language not supported",
	SubmissionResponseInvalid: "Malformed submission response",
	SubmissionSuperseded:      "Submission superseded by a newer attempt",
	SubmissionDisposed:        "Submission client disposed",

	StreamConnectFailed:  "Error connecting to submission server",
	StreamProtocolError:  "Error processing server response",
	StreamTransportError: "Error connecting to submission server",
	StreamDropped:        "Error connecting to submission server",
	StreamTimeout:        "Timed out waiting for submission result",

	ContestNotFound:    "Contest not found",
	RegistrationFailed: "Contest registration failed",
	LeaderboardInvalid: "Malformed leaderboard data",

	MessageEmpty:   "Message cannot be empty",
	ChatClosed:     "Discussion room is closed",
	ChatSendFailed: "Failed to send message",
	HistoryInvalid: "Malformed discussion history",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// FromHTTPStatus maps a backend HTTP status to the closest client code.
func FromHTTPStatus(status int) ErrorCode {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status == http.StatusForbidden:
		return Forbidden
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusTooManyRequests:
		return TooManyRequests
	case status == http.StatusServiceUnavailable:
		return ServiceUnavailable
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return Timeout
	case status >= 400 && status < 500:
		return InvalidParams
	default:
		return ServerError
	}
}

// ClearsCredential reports whether a response with this code invalidates the stored token.
func (c ErrorCode) ClearsCredential() bool {
	return c == Unauthorized || c == NotFound
}
