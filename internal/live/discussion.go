package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"
	"codeverse/pkg/utils/response"

	"go.uber.org/zap"
)

const anonymous = "Anonymous"

// Message is one post in a discussion room.
type Message struct {
	Sender    string
	Content   string
	Timestamp time.Time
}

type historyEntry struct {
	UserName struct {
		Username string `json:"username"`
	} `json:"user_name"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DecodeHistory parses the stored posts of a room, oldest first as served.
// Timestamps that do not parse are left zero.
func DecodeHistory(body []byte) ([]Message, error) {
	payload, err := response.Payload(body)
	if err != nil {
		return nil, err
	}
	var entries []historyEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.HistoryInvalid, "decode discussion history: %v", err)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		m := Message{Sender: e.UserName.Username, Content: e.Content}
		if m.Sender == "" {
			m.Sender = anonymous
		}
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			m.Timestamp = ts
		}
		out = append(out, m)
	}
	return out, nil
}

// chatFrame is the room's wire message in both directions.
type chatFrame struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// Chat is a joined discussion room.
type Chat struct {
	room   string
	name   string
	ch     *closer
	sender submission.Sender
	log    *zap.Logger
	closed atomic.Bool
	now    func() time.Time
}

// JoinChat opens the room of problem under base. Posts are signed with
// username, or "Anonymous" when it is empty.
func JoinChat(ctx context.Context, dialer submission.Dialer, base, problem, username string, log *zap.Logger) (*Chat, error) {
	room := RoomName(problem)
	if room == "" {
		return nil, pkgerrors.ValidationError("problem", "must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	ch, err := dialer.Dial(ctx, roomAddress(base, room))
	if err != nil {
		return nil, err
	}
	sender, ok := ch.(submission.Sender)
	if !ok {
		_ = ch.Close()
		return nil, pkgerrors.Newf(pkgerrors.ChatSendFailed, "room %s does not accept messages", room)
	}
	if strings.TrimSpace(username) == "" {
		username = anonymous
	}
	log.Debug("joined discussion room", zap.String("room", room))
	return &Chat{
		room:   room,
		name:   username,
		ch:     &closer{ch: ch},
		sender: sender,
		log:    log,
		now:    time.Now,
	}, nil
}

func (c *Chat) Room() string {
	return c.room
}

// Send posts text to the room. Blank text is rejected without a round trip.
func (c *Chat) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return pkgerrors.New(pkgerrors.MessageEmpty)
	}
	if c.closed.Load() {
		return pkgerrors.New(pkgerrors.ChatClosed)
	}
	data, err := json.Marshal(chatFrame{Message: text, Sender: c.name})
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ChatSendFailed, "encode message: %v", err)
	}
	if err := c.sender.Send(data); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ChatSendFailed)
	}
	return nil
}

// Listen delivers incoming posts until the room closes, Close is called or ctx
// ends. Frames that are not chat messages are skipped.
func (c *Chat) Listen(ctx context.Context, onMessage func(Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	err := follow(c.ch.ch, func(data []byte) bool {
		var f chatFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("skip malformed chat frame", zap.String("room", c.room), zap.Error(err))
			return false
		}
		sender := f.Sender
		if sender == "" {
			sender = anonymous
		}
		onMessage(Message{Sender: sender, Content: f.Message, Timestamp: c.now()})
		return false
	})
	if c.closed.Load() {
		return nil
	}
	// The peer ended the room; later sends must fail fast.
	c.closed.Store(true)
	_ = c.ch.Close()
	return err
}

// Close leaves the room. It is safe to call repeatedly.
func (c *Chat) Close() error {
	c.closed.Store(true)
	return c.ch.Close()
}
