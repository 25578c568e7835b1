// Package live follows the backend's push channels other than the submission
// status stream: per-problem discussion rooms and contest leaderboards.
package live

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"
)

// RoomName is the discussion room of a problem: its title lower-cased with
// whitespace runs collapsed to underscores.
func RoomName(problem string) string {
	return strings.Join(strings.Fields(strings.ToLower(problem)), "_")
}

// ContestSlug is the leaderboard room of a contest: spaces become underscores,
// case is kept.
func ContestSlug(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

// roomAddress joins a ws(s) base and a room as <base>/<room>/.
func roomAddress(base, room string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(room) + "/"
}

// closer closes a channel once, whichever of the caller or a cancelled
// context gets there first.
type closer struct {
	ch   submission.Channel
	once sync.Once
	err  error
}

func (c *closer) Close() error {
	c.once.Do(func() {
		c.err = c.ch.Close()
	})
	return c.err
}

// follow hands every payload of ch to handle until handle asks to stop or the
// channel ends. A peer close is a normal end.
func follow(ch submission.Channel, handle func([]byte) bool) error {
	for {
		data, err := ch.Read()
		if err != nil {
			if errors.Is(err, submission.ErrChannelClosed) {
				return nil
			}
			return pkgerrors.Wrap(err, pkgerrors.StreamTransportError)
		}
		if handle(data) {
			return nil
		}
	}
}
