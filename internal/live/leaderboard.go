package live

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"

	"go.uber.org/zap"
)

// Standing is one row of a contest leaderboard. Ids and scores may arrive as
// JSON numbers or numeric strings.
type Standing struct {
	UserID   json.Number `json:"user_id"`
	UserName string      `json:"user_name"`
	Score    json.Number `json:"score"`
}

func (s Standing) ID() int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s.UserID.String()), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s Standing) Points() float64 {
	f, err := s.Score.Float64()
	if err != nil {
		return 0
	}
	return f
}

// Board is a leaderboard ordered by score, highest first.
type Board []Standing

// Find returns the 1-based rank and row of userID.
func (b Board) Find(userID int64) (int, Standing, bool) {
	if userID <= 0 {
		return 0, Standing{}, false
	}
	for i, s := range b {
		if s.ID() == userID {
			return i + 1, s, true
		}
	}
	return 0, Standing{}, false
}

// DecodeBoard parses a leaderboard payload, either {"message":[...]} as pushed
// and served by the backend or a bare array, and orders it by score. Ties keep
// the server's order.
func DecodeBoard(body []byte) (Board, error) {
	body = bytes.TrimSpace(body)
	var rows []Standing
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.LeaderboardInvalid, "decode leaderboard: %v", err)
		}
	} else {
		var wrapped struct {
			Message *[]Standing `json:"message"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, pkgerrors.Wrapf(err, pkgerrors.LeaderboardInvalid, "decode leaderboard: %v", err)
		}
		if wrapped.Message == nil {
			return nil, pkgerrors.Newf(pkgerrors.LeaderboardInvalid, "leaderboard payload has no standings")
		}
		rows = *wrapped.Message
	}
	board := Board(rows)
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Points() > board[j].Points()
	})
	return board, nil
}

// WatchLeaderboard follows the live leaderboard of a contest under base and
// hands each board to onBoard until onBoard returns true, the stream closes or
// ctx ends. Payloads that are not boards are logged and skipped.
func WatchLeaderboard(ctx context.Context, dialer submission.Dialer, base, title string, log *zap.Logger, onBoard func(Board) bool) error {
	slug := ContestSlug(title)
	if slug == "" {
		return pkgerrors.ValidationError("contest_title", "must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	ch, err := dialer.Dial(ctx, roomAddress(base, slug))
	if err != nil {
		return err
	}
	c := &closer{ch: ch}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	log.Debug("watching leaderboard", zap.String("contest", slug))
	err = follow(ch, func(data []byte) bool {
		board, err := DecodeBoard(data)
		if err != nil {
			log.Warn("skip leaderboard frame", zap.String("contest", slug), zap.Error(err))
			return false
		}
		return onBoard(board)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
