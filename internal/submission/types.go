package submission

import (
	"strings"

	pkgerrors "codeverse/pkg/errors"
)

// User-facing messages published with status updates.
const (
	MsgSubmitting       = "Submitting your solution..."
	MsgConnected        = "Connected to submission server..."
	MsgSubmitFailed     = "Submission failed"
	MsgConnectionFailed = "Error connecting to submission server"
	MsgParseFailed      = "Error processing server response"
	MsgTimeout          = "Timed out waiting for submission result"
)

// Language is a judge language identifier as the backend spells it.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageCpp        Language = "cpp"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
)

var supportedLanguages = []Language{LanguagePython, LanguageCpp, LanguageJava, LanguageJavaScript}

// SupportedLanguages lists the languages accepted by Submit.
func SupportedLanguages() []Language {
	out := make([]Language, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// ParseLanguage normalizes user input such as "Python" into a Language.
func ParseLanguage(value string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(value)))
	if !lang.Supported() {
		return "", pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", value)
	}
	return lang, nil
}

func (l Language) Supported() bool {
	for _, s := range supportedLanguages {
		if l == s {
			return true
		}
	}
	return false
}

// Request is one user action to judge a piece of code. It is never mutated after construction.
type Request struct {
	OwnerID    int64
	ProblemID  int64
	Language   Language
	SourceCode string
}

// Validate checks the preconditions of Submit.
func (r Request) Validate() error {
	if r.OwnerID <= 0 {
		return pkgerrors.ValidationError("owner_id", "must be a positive integer")
	}
	if r.ProblemID <= 0 {
		return pkgerrors.ValidationError("problem_id", "must be a positive integer")
	}
	if !r.Language.Supported() {
		return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not supported", string(r.Language))
	}
	if strings.TrimSpace(r.SourceCode) == "" {
		return pkgerrors.New(pkgerrors.CodeEmpty)
	}
	return nil
}

// Handle identifies an accepted submission and the channel streaming its status.
type Handle struct {
	SubmissionID   string
	ChannelAddress string
}

// Status is the judge-visible state of a submission.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether no further updates follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// parseStreamStatus accepts the statuses the server may send, case-insensitively.
// ERROR is never accepted from the stream; it is produced locally.
func parseStreamStatus(value string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(value))); st {
	case StatusQueued, StatusExecuting, StatusCompleted, StatusFailed:
		return st, true
	default:
		return "", false
	}
}

// Phase is the client's position in the submission lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseStreaming
	PhaseCompleted
	PhaseFailed
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSubmitting:
		return "SUBMITTING"
	case PhaseStreaming:
		return "STREAMING"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseFailed:
		return "FAILED"
	case PhaseError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseError
}

func phaseFor(st Status) Phase {
	switch st {
	case StatusCompleted:
		return PhaseCompleted
	case StatusFailed:
		return PhaseFailed
	default:
		return PhaseError
	}
}

// Update is one status notification for an attempt.
type Update struct {
	Attempt      uint64
	SubmissionID string
	Status       Status
	Message      string
}

// Terminal reports whether this is the last update of its attempt.
func (u Update) Terminal() bool {
	return u.Status.Terminal()
}
