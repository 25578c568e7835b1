package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	httpclient "codeverse/internal/cli/http"
	pkgerrors "codeverse/pkg/errors"
	"codeverse/pkg/utils/response"

	"github.com/google/uuid"
)

const (
	CreatePath       = "/api/submission/"
	StatusPathPrefix = "/api/submission/status/"
)

// Creator issues the create-submission request.
type Creator interface {
	Create(ctx context.Context, token string, req Request) (Handle, error)
}

// CredentialSource yields the current bearer token. An empty token sends no Authorization header.
type CredentialSource func() string

// APICreator posts submissions to the backend over HTTP.
type APICreator struct {
	client     *httpclient.Client
	streamBase string
}

// NewAPICreator builds a creator. An empty streamBase is derived from the
// client's base URL by switching http(s) to ws(s).
func NewAPICreator(client *httpclient.Client, streamBase string) *APICreator {
	return &APICreator{
		client:     client,
		streamBase: strings.TrimRight(streamBase, "/"),
	}
}

type createPayload struct {
	UserID    int64  `json:"user_id"`
	ProblemID int64  `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// createResponse is the create payload, either bare or inside the {code,message,data} envelope.
type createResponse struct {
	Submission *struct {
		ID json.RawMessage `json:"id"`
	} `json:"submission"`
	SubmissionID json.RawMessage `json:"submission_id"`
	ID           json.RawMessage `json:"id"`
	Channel      string          `json:"channel"`
	WSURL        string          `json:"ws_url"`
}

func (a *APICreator) Create(ctx context.Context, token string, req Request) (Handle, error) {
	body, err := json.Marshal(createPayload{
		UserID:    req.OwnerID,
		ProblemID: req.ProblemID,
		Language:  string(req.Language),
		Code:      req.SourceCode,
	})
	if err != nil {
		return Handle{}, pkgerrors.Wrapf(err, pkgerrors.SubmissionCreateFailed, "marshal submission failed: %v", err)
	}

	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	resp, err := a.client.Do(ctx, http.MethodPost, CreatePath, headers, body)
	if err != nil {
		return Handle{}, pkgerrors.Wrapf(err, pkgerrors.RequestFailed, "create submission: %v", err)
	}
	if err := resp.Err(); err != nil {
		return Handle{}, err
	}
	return a.parseHandle(resp.Body)
}

func (a *APICreator) parseHandle(body []byte) (Handle, error) {
	payload, err := response.Payload(body)
	if err != nil {
		return Handle{}, pkgerrors.Wrap(err, pkgerrors.SubmissionCreateFailed)
	}
	var parsed createResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Handle{}, pkgerrors.Wrapf(err, pkgerrors.SubmissionResponseInvalid, "decode submission response: %v", err)
	}

	var id string
	var ok bool
	if parsed.Submission != nil {
		id, ok = opaqueID(parsed.Submission.ID)
	}
	if !ok {
		id, ok = opaqueID(parsed.SubmissionID)
	}
	if !ok {
		id, ok = opaqueID(parsed.ID)
	}
	if !ok {
		return Handle{}, pkgerrors.Newf(pkgerrors.SubmissionResponseInvalid, "submission response missing id")
	}

	address, err := a.channelAddress(firstNonEmpty(parsed.Channel, parsed.WSURL), id)
	if err != nil {
		return Handle{}, err
	}
	return Handle{SubmissionID: id, ChannelAddress: address}, nil
}

func (a *APICreator) channelAddress(explicit, id string) (string, error) {
	base := a.streamBase
	if base == "" {
		base = WebSocketBase(a.client.BaseURL())
	}
	if explicit != "" {
		if strings.HasPrefix(explicit, "/") {
			if base == "" {
				return "", pkgerrors.Newf(pkgerrors.SubmissionResponseInvalid, "relative channel address %q without stream base", explicit)
			}
			return base + explicit, nil
		}
		return explicit, nil
	}
	if base == "" {
		return "", pkgerrors.Newf(pkgerrors.SubmissionResponseInvalid, "submission response missing channel address")
	}
	return base + StatusPathPrefix + url.PathEscape(id), nil
}

// WebSocketBase converts an http(s) base URL into its ws(s) counterpart.
func WebSocketBase(httpBase string) string {
	httpBase = strings.TrimRight(httpBase, "/")
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return httpBase
	}
}

// opaqueID reads an identifier sent either as a JSON string or a JSON number.
func opaqueID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return n.String(), true
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
