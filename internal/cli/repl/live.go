package repl

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"codeverse/internal/cli/command"
	"codeverse/internal/live"
	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"

	"go.uber.org/zap"
)

const (
	discussionPath  = "/ws/discussion"
	leaderboardPath = "/ws/leaderboard"
	leaveCommand    = "/leave"
)

// pushBase is the ws(s) base that hosts the push channels when none is configured.
func (s *Session) pushBase() string {
	if s.opts.StreamURL != "" {
		return strings.TrimRight(s.opts.StreamURL, "/")
	}
	return submission.WebSocketBase(s.client.BaseURL())
}

func (s *Session) chatBase() string {
	if s.opts.ChatURL != "" {
		return s.opts.ChatURL
	}
	return s.pushBase() + discussionPath
}

func (s *Session) leaderboardBase() string {
	if s.opts.LeaderboardStreamURL != "" {
		return s.opts.LeaderboardStreamURL
	}
	return s.pushBase() + leaderboardPath
}

// liveParams parses args against the fields of the request command that
// shares them and prompts for what is still missing.
func (s *Session) liveParams(key string, args []string) (command.Command, command.Params, error) {
	cmd, ok := s.commands[key]
	if !ok {
		return cmd, nil, pkgerrors.Newf(pkgerrors.InvalidParams, "unknown command: %s", key)
	}
	params, err := command.ParseArgs(args)
	if err != nil {
		return cmd, nil, err
	}
	params.Canonicalize(cmd.Fields)
	if err := s.promptMissing(cmd.Fields, params); err != nil {
		return cmd, nil, err
	}
	return cmd, params, nil
}

// handleChat joins the discussion room of a problem. Typed lines are posted
// until /leave or end of input.
func (s *Session) handleChat(ctx context.Context, args []string) error {
	cmd, params, err := s.liveParams("discussion show", args)
	if err != nil {
		return err
	}
	problem := params.Get("problem")
	s.loadHistory(ctx, cmd, params)

	username := s.store.Get().Username
	if username == "" {
		s.printLine("not logged in, posting as Anonymous")
	}
	chat, err := live.JoinChat(ctx, s.opts.Dialer, s.chatBase(), problem, username, s.log.Named("discussion"))
	if err != nil {
		return err
	}
	defer chat.Close()
	s.printLine("joined %s, type %s to leave", chat.Room(), leaveCommand)

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	listened := make(chan error, 1)
	go func() {
		listened <- chat.Listen(listenCtx, func(m live.Message) {
			s.printLine("[%s] %s", m.Sender, m.Content)
		})
	}()

	for {
		line, readErr := s.input.ReadString('\n')
		text := strings.TrimSpace(line)
		if text == leaveCommand {
			break
		}
		if text != "" {
			if err := chat.Send(text); err != nil {
				if pkgerrors.Is(err, pkgerrors.ChatClosed) {
					s.printLine("room %s was closed", chat.Room())
					break
				}
				s.printLine("error: %v", err)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				s.log.Warn("read chat input failed", zap.Error(readErr))
			}
			break
		}
	}

	_ = chat.Close()
	cancel()
	err = <-listened
	s.printLine("left %s", chat.Room())
	return err
}

func (s *Session) loadHistory(ctx context.Context, cmd command.Command, params command.Params) {
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		s.printLine("could not load discussion history: %v", err)
		return
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil || !resp.OK() {
		if err == nil {
			err = pkgerrors.FromResponse(resp.StatusCode, "")
		}
		s.printLine("could not load discussion history: %v", err)
		return
	}
	if err := s.renderHistory(resp.Body); err != nil {
		s.printLine("could not load discussion history: %v", err)
	}
}

func (s *Session) renderHistory(body []byte) error {
	msgs, err := live.DecodeHistory(body)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		s.printLine("no messages yet")
		return nil
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			s.printLine("[%s] %s", m.Sender, m.Content)
			continue
		}
		s.printLine("%s [%s] %s", m.Timestamp.Local().Format(time.DateTime), m.Sender, m.Content)
	}
	return nil
}

// handleWatch prints the standings of a contest, then every board the live
// leaderboard pushes until updates=N boards were shown, the stream closes or
// ctx ends.
func (s *Session) handleWatch(ctx context.Context, args []string) error {
	cmd, params, err := s.liveParams("leaderboard show", args)
	if err != nil {
		return err
	}
	limit := 0
	if raw := params.Get("updates"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return pkgerrors.ValidationError("updates", "must be a non-negative integer")
		}
		limit = n
	}
	title := params.Get("contest_title")

	if req, err := command.BuildRequest(cmd, params); err == nil {
		resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
		switch {
		case err != nil:
			s.printLine("could not load standings: %v", err)
		case !resp.OK():
			s.printLine("could not load standings: HTTP %d", resp.StatusCode)
		default:
			if board, err := live.DecodeBoard(resp.Body); err == nil {
				s.renderBoard(board)
			} else {
				s.log.Debug("standings not in leaderboard form", zap.Error(err))
			}
		}
	}

	s.printLine("watching %s, press Ctrl-C to stop", title)
	seen := 0
	err = live.WatchLeaderboard(ctx, s.opts.Dialer, s.leaderboardBase(), title, s.log.Named("leaderboard"), func(b live.Board) bool {
		seen++
		s.printLine("update %d:", seen)
		s.renderBoard(b)
		return limit > 0 && seen >= limit
	})
	if err != nil {
		return err
	}
	s.printLine("stopped watching %s", title)
	return nil
}

// renderBoard prints the standings and marks the logged-in user's row.
func (s *Session) renderBoard(b live.Board) {
	if len(b) == 0 {
		s.printLine("no standings yet")
		return
	}
	me := s.store.Get().UserID
	s.printLine("  %-5s %-20s %s", "rank", "user", "score")
	for i, row := range b {
		marker := " "
		if me > 0 && row.ID() == me {
			marker = "*"
		}
		s.printLine("%s %-5d %-20s %s", marker, i+1, row.UserName, row.Score.String())
	}
	if rank, row, ok := b.Find(me); ok {
		s.printLine("your score: %s (rank %d)", row.Score.String(), rank)
	}
}
