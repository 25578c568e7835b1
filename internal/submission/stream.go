package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	pkgerrors "codeverse/pkg/errors"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 64 << 10
	closeWriteTimeout       = time.Second
	sendWriteTimeout        = 10 * time.Second
)

// ErrChannelClosed is returned by Channel.Read when the peer closed the channel.
var ErrChannelClosed = errors.New("submission channel closed")

// Channel is a receive-only server-push connection for one submission.
type Channel interface {
	// Read blocks until the next message, or returns an error once the channel
	// has failed or been closed.
	Read() ([]byte, error)
	Close() error
}

// Sender is implemented by channels that can also write. The status stream never
// sends; chat rooms do.
type Sender interface {
	Send(data []byte) error
}

// Dialer opens the status channel at a handle's address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Channel, error)
}

// onceChannel makes Close idempotent so each attempt closes its channel exactly once.
type onceChannel struct {
	Channel
	once sync.Once
	err  error
}

func newOnceChannel(ch Channel) *onceChannel {
	return &onceChannel{Channel: ch}
}

func (o *onceChannel) Close() error {
	o.once.Do(func() {
		o.err = o.Channel.Close()
	})
	return o.err
}

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// decodeMessage parses one stream payload. The message defaults to "Status: <STATUS>".
func decodeMessage(data []byte) (Status, string, error) {
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", pkgerrors.Wrap(err, pkgerrors.StreamProtocolError)
	}
	st, ok := parseStreamStatus(msg.Status)
	if !ok {
		return "", "", pkgerrors.Newf(pkgerrors.StreamProtocolError, "unknown status %q", msg.Status)
	}
	text := msg.Message
	if text == "" {
		text = fmt.Sprintf("Status: %s", st)
	}
	return st, text, nil
}

// WSDialer dials status channels over WebSocket.
type WSDialer struct {
	dialer    *websocket.Dialer
	header    http.Header
	readLimit int64
}

func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header:    http.Header{},
		readLimit: defaultReadLimit,
	}
}

func (d *WSDialer) Dial(ctx context.Context, address string) (Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, address, d.header)
	if err != nil {
		e := pkgerrors.Wrapf(err, pkgerrors.StreamConnectFailed, "dial %s: %v", address, err)
		if resp != nil {
			e.WithDetail("http_status", resp.StatusCode)
		}
		return nil, e
	}
	conn.SetReadLimit(d.readLimit)
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	// writeMu serializes data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func (w *wsChannel) Read() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure,
		) {
			return nil, fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		return nil, err
	}
	return data, nil
}

func (w *wsChannel) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	return w.conn.Close()
}

func (w *wsChannel) Send(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(sendWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.StreamTransportError, "send: %v", err)
	}
	return nil
}
