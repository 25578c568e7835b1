package submission

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	httpclient "codeverse/internal/cli/http"
	"codeverse/internal/testutil"
	pkgerrors "codeverse/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  Status
		message string
		wantErr bool
	}{
		{"executing default message", `{"status":"EXECUTING"}`, StatusExecuting, "Status: EXECUTING", false},
		{"lower case", `{"status":"completed","message":"All tests passed"}`, StatusCompleted, "All tests passed", false},
		{"queued", `{"status":"Queued"}`, StatusQueued, "Status: QUEUED", false},
		{"failed", `{"status":"FAILED","message":"Runtime error"}`, StatusFailed, "Runtime error", false},
		{"error not accepted", `{"status":"ERROR"}`, "", "", true},
		{"unknown", `{"status":"PENDING"}`, "", "", true},
		{"missing status", `{"message":"hi"}`, "", "", true},
		{"not json", `<html>`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, msg, err := decodeMessage([]byte(tt.payload))
			if tt.wantErr {
				if !pkgerrors.Is(err, pkgerrors.StreamProtocolError) {
					t.Fatalf("expected protocol error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			testutil.AssertEqual(t, st, tt.status)
			testutil.AssertEqual(t, msg, tt.message)
		})
	}
}

func TestOnceChannelClosesOnce(t *testing.T) {
	inner := newFakeChannel("ch", nil)
	oc := newOnceChannel(inner)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = oc.Close()
		}()
	}
	wg.Wait()
	testutil.AssertEqual(t, inner.closeCount(), 1)
}

// countingDialer records how often channels from the wrapped dialer are closed.
type countingDialer struct {
	Dialer
	closes atomic.Int32
}

type countingChannel struct {
	Channel
	closes *atomic.Int32
}

func (c *countingChannel) Close() error {
	c.closes.Add(1)
	return c.Channel.Close()
}

func (d *countingDialer) Dial(ctx context.Context, address string) (Channel, error) {
	ch, err := d.Dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return &countingChannel{Channel: ch, closes: &d.closes}, nil
}

// streamScript is what the fake backend does once a status socket is upgraded.
type streamScript func(conn *websocket.Conn)

func sendAndHold(messages ...string) streamScript {
	return func(conn *websocket.Conn) {
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

type fakeBackend struct {
	url     string
	creates atomic.Int32
	upgrade atomic.Int32
}

func newFakeBackend(t *testing.T, createStatus int, createBody string, script streamScript) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	router := testutil.NewRouter()
	router.POST(CreatePath, func(c *gin.Context) {
		fb.creates.Add(1)
		c.Data(createStatus, "application/json", []byte(createBody))
	})
	router.GET(StatusPathPrefix+":id", func(c *gin.Context) {
		fb.upgrade.Add(1)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	})
	fb.url = testutil.NewBackend(t, router).URL
	return fb
}

func newStreamingClient(fb *fakeBackend, cfg Config) (*Client, *countingDialer) {
	api := httpclient.New(fb.url, 2*time.Second, nil)
	dialer := &countingDialer{Dialer: NewWSDialer(time.Second)}
	return NewClient(NewAPICreator(api, ""), dialer, func() string { return "tok" }, cfg), dialer
}

func TestEndToEndCompleted(t *testing.T) {
	fb := newFakeBackend(t, http.StatusCreated, `{"submission":{"id":"abc123"}}`,
		sendAndHold(`{"status":"EXECUTING"}`, `{"status":"COMPLETED","message":"All tests passed"}`))
	rec := &recorder{}
	client, dialer := newStreamingClient(fb, rec.config())

	if err := client.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	final := waitTerminal(t, client)
	testutil.AssertEqual(t, final.Status, StatusCompleted)
	testutil.AssertEqual(t, final.Message, "All tests passed")
	testutil.AssertEqual(t, final.SubmissionID, "abc123")
	testutil.AssertEqual(t, dialer.closes.Load(), int32(1))

	seq := rec.forAttempt(final.Attempt)
	assertSingleTerminalLast(t, seq)
	testutil.AssertEqual(t, seq[1].Message, MsgConnected)
	testutil.AssertEqual(t, seq[2].Status, StatusExecuting)
}

func TestEndToEndCreateRejected(t *testing.T) {
	fb := newFakeBackend(t, http.StatusInternalServerError, `{"message":"queue full"}`, sendAndHold())
	client, _ := newStreamingClient(fb, Config{})

	if err := client.Submit(context.Background(), validRequest()); err == nil {
		t.Fatal("expected submit error")
	}
	cur := client.Current()
	testutil.AssertEqual(t, cur.Status, StatusError)
	testutil.AssertEqual(t, cur.Message, "queue full")
	testutil.AssertEqual(t, fb.upgrade.Load(), int32(0))
}

func TestEndToEndServerDropsConnection(t *testing.T) {
	fb := newFakeBackend(t, http.StatusCreated, `{"submission":{"id":"x1"}}`, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})
	client, dialer := newStreamingClient(fb, Config{})

	if err := client.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	final := waitTerminal(t, client)
	testutil.AssertEqual(t, final.Status, StatusError)
	testutil.AssertEqual(t, final.Message, MsgConnectionFailed)
	testutil.AssertEqual(t, dialer.closes.Load(), int32(1))
}

func TestEndToEndServerClosesBeforeTerminal(t *testing.T) {
	fb := newFakeBackend(t, http.StatusCreated, `{"submission":{"id":"x2"}}`, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"EXECUTING"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})
	client, _ := newStreamingClient(fb, Config{})

	if err := client.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	final := waitTerminal(t, client)
	testutil.AssertEqual(t, final.Status, StatusError)
	testutil.AssertEqual(t, final.Message, MsgConnectionFailed)
}

func TestEndToEndMalformedMessage(t *testing.T) {
	fb := newFakeBackend(t, http.StatusCreated, `{"submission":{"id":"x3"}}`, sendAndHold(`status=done`))
	client, dialer := newStreamingClient(fb, Config{})

	if err := client.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	final := waitTerminal(t, client)
	testutil.AssertEqual(t, final.Message, MsgParseFailed)
	testutil.AssertEqual(t, dialer.closes.Load(), int32(1))
}

func TestWSDialerRejectsPlainHTTP(t *testing.T) {
	router := testutil.NewRouter()
	router.GET("/api/submission/status/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "no such submission"})
	})
	srv := testutil.NewBackend(t, router)

	_, err := NewWSDialer(time.Second).Dial(context.Background(), WebSocketBase(srv.URL)+"/api/submission/status/1")
	if !pkgerrors.Is(err, pkgerrors.StreamConnectFailed) {
		t.Fatalf("expected StreamConnectFailed, got %v", err)
	}
	e := pkgerrors.GetError(err)
	testutil.AssertEqual(t, e.Details["http_status"], http.StatusNotFound)
	testutil.AssertTrue(t, strings.Contains(e.Error(), "dial ws://"), "error should name the address")
}
