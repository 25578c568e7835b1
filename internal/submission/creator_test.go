package submission

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	httpclient "codeverse/internal/cli/http"
	"codeverse/internal/testutil"
	pkgerrors "codeverse/pkg/errors"

	"github.com/gin-gonic/gin"
)

type capturedCreate struct {
	auth    string
	key     string
	payload createPayload
}

func newCreateBackend(t *testing.T, status int, body string, captured *capturedCreate) string {
	t.Helper()
	router := testutil.NewRouter()
	router.POST(CreatePath, func(c *gin.Context) {
		if captured != nil {
			captured.auth = c.GetHeader("Authorization")
			captured.key = c.GetHeader("Idempotency-Key")
			raw, _ := io.ReadAll(c.Request.Body)
			testutil.MustUnmarshalJSON(t, raw, &captured.payload)
		}
		c.Data(status, "application/json", []byte(body))
	})
	return testutil.NewBackend(t, router).URL
}

func TestAPICreatorSendsRequest(t *testing.T) {
	captured := &capturedCreate{}
	base := newCreateBackend(t, http.StatusCreated, `{"submission":{"id":"abc123"}}`, captured)
	creator := NewAPICreator(httpclient.New(base, time.Second, nil), "")

	handle, err := creator.Create(context.Background(), "tok", validRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	testutil.AssertEqual(t, captured.auth, "Bearer tok")
	testutil.AssertTrue(t, captured.key != "", "idempotency key should be set")
	testutil.AssertEqual(t, captured.payload, createPayload{UserID: 1, ProblemID: 42, Language: "python", Code: "print(1)"})
	testutil.AssertEqual(t, handle.SubmissionID, "abc123")
	testutil.AssertEqual(t, handle.ChannelAddress, WebSocketBase(base)+StatusPathPrefix+"abc123")
}

func TestAPICreatorWithoutToken(t *testing.T) {
	captured := &capturedCreate{}
	base := newCreateBackend(t, http.StatusOK, `{"submission":{"id":7}}`, captured)
	creator := NewAPICreator(httpclient.New(base, time.Second, nil), "ws://stream.local/")

	handle, err := creator.Create(context.Background(), "", validRequest())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	testutil.AssertEqual(t, captured.auth, "")
	testutil.AssertEqual(t, handle.SubmissionID, "7")
	testutil.AssertEqual(t, handle.ChannelAddress, "ws://stream.local/api/submission/status/7")
}

func TestAPICreatorResponseShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		id      string
		address string
	}{
		{"explicit channel", `{"submission":{"id":"a1"},"channel":"wss://push.example/s/a1"}`, "a1", "wss://push.example/s/a1"},
		{"ws_url field", `{"submission":{"id":"a2"},"ws_url":"ws://push.example/a2"}`, "a2", "ws://push.example/a2"},
		{"relative channel", `{"submission":{"id":"a3"},"channel":"/streams/a3"}`, "a3", "ws://stream.local/streams/a3"},
		{"envelope", `{"code":10000,"message":"ok","data":{"submission_id":"a4"}}`, "a4", "ws://stream.local/api/submission/status/a4"},
		{"bare body echoing code", `{"code":201,"submission":{"id":"a5"}}`, "a5", "ws://stream.local/api/submission/status/a5"},
		{"envelope numeric id", `{"code":0,"data":{"id":99,"ws_url":"ws://other/99"}}`, "99", "ws://other/99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newCreateBackend(t, http.StatusOK, tt.body, nil)
			creator := NewAPICreator(httpclient.New(base, time.Second, nil), "ws://stream.local")
			handle, err := creator.Create(context.Background(), "tok", validRequest())
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			testutil.AssertEqual(t, handle.SubmissionID, tt.id)
			testutil.AssertEqual(t, handle.ChannelAddress, tt.address)
		})
	}
}

func TestAPICreatorFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		code       pkgerrors.ErrorCode
		serverMsg  string
		hasMessage bool
	}{
		{"queue full", http.StatusInternalServerError, `{"message":"queue full"}`, pkgerrors.ServerError, "queue full", true},
		{"unauthorized", http.StatusUnauthorized, `{"error":"token expired"}`, pkgerrors.Unauthorized, "token expired", true},
		{"bad gateway no body", http.StatusBadGateway, ``, pkgerrors.ServerError, "", false},
		{"missing id", http.StatusOK, `{"submission":{}}`, pkgerrors.SubmissionResponseInvalid, "", false},
		{"not json", http.StatusOK, `accepted`, pkgerrors.SubmissionResponseInvalid, "", false},
		{"envelope failure", http.StatusOK, `{"code":13002,"message":"daily limit reached"}`, pkgerrors.SubmissionCreateFailed, "daily limit reached", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newCreateBackend(t, tt.status, tt.body, nil)
			creator := NewAPICreator(httpclient.New(base, time.Second, nil), "")
			_, err := creator.Create(context.Background(), "tok", validRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := pkgerrors.GetCode(err); got != tt.code {
				t.Fatalf("expected code %d, got %d (%v)", tt.code, got, err)
			}
			msg, ok := pkgerrors.ServerMessage(err)
			testutil.AssertEqual(t, ok, tt.hasMessage)
			testutil.AssertEqual(t, msg, tt.serverMsg)
		})
	}
}

func TestAPICreatorNetworkError(t *testing.T) {
	creator := NewAPICreator(httpclient.New("http://127.0.0.1:1", 200*time.Millisecond, nil), "")
	_, err := creator.Create(context.Background(), "", validRequest())
	if !pkgerrors.Is(err, pkgerrors.RequestFailed) {
		t.Fatalf("expected RequestFailed, got %v", err)
	}
}

func TestWebSocketBase(t *testing.T) {
	testutil.AssertEqual(t, WebSocketBase("http://localhost:8080/"), "ws://localhost:8080")
	testutil.AssertEqual(t, WebSocketBase("https://api.codeverse.dev"), "wss://api.codeverse.dev")
	testutil.AssertEqual(t, WebSocketBase("ws://already"), "ws://already")
}
