package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeverse/internal/cli/command"
	httpclient "codeverse/internal/cli/http"
	"codeverse/internal/cli/state"
	"codeverse/internal/live"
	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"
	"codeverse/pkg/utils/response"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// Options tunes a Session. Zero values fall back to stdin/stdout and a WebSocket dialer.
type Options struct {
	PrettyJSON bool
	StreamURL  string
	// ChatURL and LeaderboardStreamURL default to paths under the stream base.
	ChatURL              string
	LeaderboardStreamURL string
	StatusTimeout        time.Duration
	HandshakeTimeout     time.Duration
	Dialer               submission.Dialer
	In                   io.Reader
	Out                  io.Writer
	Logger               *zap.Logger
}

// Session holds REPL state.
type Session struct {
	client   *httpclient.Client
	commands map[string]command.Command
	store    *state.Store
	opts     Options
	log      *zap.Logger

	solver *submission.Client

	input *bufio.Reader

	outMu        sync.Mutex
	outputWriter *bufio.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, store *state.Store, opts Options) *Session {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Dialer == nil {
		opts.Dialer = submission.NewWSDialer(opts.HandshakeTimeout)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		client:       client,
		commands:     commands,
		store:        store,
		opts:         opts,
		log:          log,
		input:        bufio.NewReader(opts.In),
		outputWriter: bufio.NewWriter(opts.Out),
	}
	client.OnUnauthorized(s.clearSession)
	s.solver = s.newSolver()
	return s
}

func (s *Session) newSolver() *submission.Client {
	creator := submission.NewAPICreator(s.client, s.opts.StreamURL)
	return submission.NewClient(creator, s.opts.Dialer, s.store.Token, submission.Config{
		StatusTimeout: s.opts.StatusTimeout,
		Logger:        s.log.Named("submission"),
		OnUpdate:      s.printUpdate,
	})
}

// Run reads commands until exit, end of input, or ctx is done.
func (s *Session) Run(ctx context.Context) {
	defer s.Close()
	for ctx.Err() == nil {
		s.prompt("codeverse> ")
		line, err := s.input.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			s.printLine("read input failed: %v", err)
			return
		}
		eof := err != nil
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if line != "" {
			if execErr := s.Execute(ctx, line); execErr != nil {
				s.printLine("error: %v", execErr)
			}
		}
		if eof {
			return
		}
	}
}

// Close releases the open status channel, if any.
func (s *Session) Close() {
	s.solver.Dispose()
}

// Execute runs one command line.
func (s *Session) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "parse command failed: %v", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	if handled, err := s.handleSystemCommand(ctx, tokens); handled {
		return err
	}
	return s.handleCommand(ctx, tokens)
}

func (s *Session) handleSystemCommand(ctx context.Context, tokens []string) (bool, error) {
	if len(tokens) > 1 {
		switch tokens[0] + " " + tokens[1] {
		case "discussion chat":
			return true, s.handleChat(ctx, tokens[2:])
		case "leaderboard watch":
			return true, s.handleWatch(ctx, tokens[2:])
		}
	}
	switch tokens[0] {
	case "help":
		s.printHelp()
		return true, nil
	case "set":
		s.handleSet(tokens[1:])
		return true, nil
	case "show":
		s.handleShow(tokens[1:])
		return true, nil
	case "logout":
		if err := s.store.Clear(); err != nil {
			return true, err
		}
		s.printLine("logged out")
		return true, nil
	case "solve":
		return true, s.handleSolve(ctx, tokens[1:])
	}
	return false, nil
}

func (s *Session) handleSet(args []string) {
	if len(args) == 0 {
		s.printLine("usage: set base|stream|chat|leaderboard-stream|timeout|status-timeout|token")
		return
	}
	switch args[0] {
	case "base":
		if len(args) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8080")
			return
		}
		s.client.SetBaseURL(args[1])
		s.printLine("base set to %s", args[1])
	case "stream":
		if len(args) < 2 {
			s.printLine("usage: set stream ws://127.0.0.1:8081")
			return
		}
		s.opts.StreamURL = args[1]
		s.resetSolver()
		s.printLine("stream set to %s", args[1])
	case "chat", "leaderboard-stream":
		if len(args) < 2 {
			s.printLine("usage: set %s ws://127.0.0.1:8081/ws/...", args[0])
			return
		}
		if args[0] == "chat" {
			s.opts.ChatURL = args[1]
		} else {
			s.opts.LeaderboardStreamURL = args[1]
		}
		s.printLine("%s set to %s", args[0], args[1])
	case "timeout", "status-timeout":
		if len(args) < 2 {
			s.printLine("usage: set %s 10s", args[0])
			return
		}
		dur, err := time.ParseDuration(args[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		if args[0] == "timeout" {
			s.client.SetTimeout(dur)
		} else {
			s.opts.StatusTimeout = dur
			s.resetSolver()
		}
		s.printLine("%s set to %s", args[0], dur)
	case "token":
		if len(args) < 2 {
			s.printLine("usage: set token <token>")
			return
		}
		err := s.store.Update(func(st *state.TokenState) {
			st.Token = args[1]
			if claims, err := state.ParseClaims(args[1]); err == nil && claims.UserID > 0 {
				st.UserID = claims.UserID
			}
		})
		if err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) resetSolver() {
	s.solver.Dispose()
	s.solver = s.newSolver()
}

func (s *Session) handleShow(args []string) {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}
	switch topic {
	case "token":
		st := s.store.Get()
		if st.Token == "" {
			s.printLine("token: <empty>")
			return
		}
		s.printLine("token: %s", maskToken(st.Token))
		claims, err := state.ParseClaims(st.Token)
		if err != nil {
			return
		}
		if !claims.ExpiresAt.IsZero() {
			s.printLine("expires: %s", claims.ExpiresAt.Local().Format(time.RFC3339))
			if err := claims.Check(time.Now()); err != nil {
				s.printLine("%v, please log in again", err)
			}
		}
	case "session", "user":
		st := s.store.Get()
		if !st.LoggedIn() {
			s.printLine("not logged in")
			return
		}
		s.printLine("user: %s (id %d)", st.Username, st.UserID)
	case "config":
		s.printLine("baseURL: %s", s.client.BaseURL())
		stream := s.opts.StreamURL
		if stream == "" {
			stream = submission.WebSocketBase(s.client.BaseURL()) + " (derived)"
		}
		s.printLine("streamURL: %s", stream)
		s.printLine("chatURL: %s", s.chatBase())
		s.printLine("leaderboardStreamURL: %s", s.leaderboardBase())
		s.printLine("timeout: %s", s.client.Timeout())
		s.printLine("statusTimeout: %s", s.opts.StatusTimeout)
		s.printLine("tokenStatePath: %s", s.store.Path())
	case "submission":
		cur := s.solver.Current()
		if cur.Attempt == 0 {
			s.printLine("no submission yet")
			return
		}
		s.printLine("phase: %s", s.solver.Phase())
		s.printUpdate(cur)
	default:
		s.printLine("usage: show token|session|config|submission")
	}
}

func maskToken(token string) string {
	if len(token) > 12 {
		return token[:6] + "..." + token[len(token)-4:]
	}
	return token
}

func (s *Session) handleCommand(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return pkgerrors.Newf(pkgerrors.InvalidParams, "invalid command, use: <service> <action> key=value ...")
	}
	key := tokens[0] + " " + tokens[1]
	cmd, ok := s.commands[key]
	if !ok {
		return pkgerrors.Newf(pkgerrors.InvalidParams, "unknown command: %s", key)
	}
	params, err := command.ParseArgs(tokens[2:])
	if err != nil {
		return err
	}
	params.Canonicalize(cmd.Fields)
	command.ApplyShortcuts(params)
	s.fillFromSession(cmd.Fields, params)
	if cmd.RequiresAuth {
		s.warnSession()
	}
	if err := s.promptMissing(cmd.Fields, params); err != nil {
		return err
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	s.log.Debug("send request", zap.String("command", key), zap.String("method", req.Method), zap.String("path", req.Path))
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.RequestFailed, "%v", err)
	}
	s.renderResponse(resp)
	if !resp.OK() {
		return commandFailure(key, resp)
	}

	switch key {
	case "user login":
		return s.saveLogin(resp.Body)
	case "problem template":
		if out := params.Get("output"); out != "" {
			return s.writeTemplate(out, resp.Body)
		}
	case "discussion show":
		return s.renderHistory(resp.Body)
	case "leaderboard show":
		if board, err := live.DecodeBoard(resp.Body); err == nil {
			s.renderBoard(board)
		}
	}
	return nil
}

// warnSession flags requests that the backend is going to reject for lack of a live token.
func (s *Session) warnSession() {
	st := s.store.Get()
	if !st.LoggedIn() {
		s.printLine("warning: not logged in, the request will be sent without a token")
		return
	}
	if claims, err := state.ParseClaims(st.Token); err == nil {
		if err := claims.Check(time.Now()); err != nil {
			s.printLine("warning: %v, the request will likely be rejected", err)
		}
	}
}

// commandFailure turns rejected responses that carry a domain meaning into
// coded errors. Other failures were already rendered and are not errors.
func commandFailure(key string, resp httpclient.ResponseInfo) error {
	var code pkgerrors.ErrorCode
	switch {
	case key == "user login" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest):
		code = pkgerrors.InvalidCredentials
	case (key == "contest register" || key == "leaderboard show") && resp.StatusCode == http.StatusNotFound:
		code = pkgerrors.ContestNotFound
	case key == "contest register":
		code = pkgerrors.RegistrationFailed
	default:
		return nil
	}
	e := pkgerrors.New(code).WithDetail("http_status", resp.StatusCode)
	if msg := httpclient.ServerMessage(resp.Body); msg != "" {
		e.WithDetail(pkgerrors.DetailServerMessage, msg)
	}
	return e
}

// fillFromSession supplies user_id-style fields from the logged-in user.
func (s *Session) fillFromSession(fields []command.Field, params command.Params) {
	st := s.store.Get()
	if st.UserID <= 0 {
		return
	}
	for _, field := range fields {
		if field.FromSession && params.Get(field.Name) == "" {
			params.Set(field.Name, fmt.Sprintf("%d", st.UserID))
		}
	}
}

func (s *Session) promptMissing(fields []command.Field, params command.Params) error {
	for _, field := range fields {
		if !field.Required {
			continue
		}
		if params.Get(field.Name) != "" {
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(prompt string) (string, error) {
	s.printLine("%s:", prompt)
	line, err := s.input.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "read input failed: %v", err)
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

// loginResponse accepts the token at the top level, under data, or as a bare JSON string.
type loginResponse struct {
	Token       string         `json:"token"`
	AccessToken string         `json:"access_token"`
	UserID      json.Number    `json:"user_id"`
	UserIDCamel json.Number    `json:"userId"`
	Username    string         `json:"username"`
	User        *loginUser     `json:"user"`
	Data        *loginResponse `json:"data"`
}

type loginUser struct {
	ID       json.Number `json:"id"`
	Username string      `json:"username"`
}

func parseLogin(body []byte) (state.TokenState, error) {
	var st state.TokenState
	payload, err := response.Payload(body)
	if err != nil {
		return st, err
	}
	var bare string
	if err := json.Unmarshal(payload, &bare); err == nil {
		st.Token = strings.TrimSpace(bare)
	} else {
		var resp loginResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return st, pkgerrors.Wrapf(err, pkgerrors.TokenInvalid, "decode login response: %v", err)
		}
		if resp.Data != nil && resp.Token == "" && resp.AccessToken == "" {
			resp = *resp.Data
		}
		st.Token = resp.Token
		if st.Token == "" {
			st.Token = resp.AccessToken
		}
		st.Username = resp.Username
		for _, n := range []json.Number{resp.UserID, resp.UserIDCamel} {
			if id, err := n.Int64(); err == nil && id > 0 {
				st.UserID = id
				break
			}
		}
		if resp.User != nil {
			if id, err := resp.User.ID.Int64(); err == nil && id > 0 && st.UserID == 0 {
				st.UserID = id
			}
			if st.Username == "" {
				st.Username = resp.User.Username
			}
		}
	}
	if st.Token == "" {
		return st, pkgerrors.Newf(pkgerrors.TokenMissing, "login response carried no token")
	}
	if st.UserID == 0 {
		if claims, err := state.ParseClaims(st.Token); err == nil {
			st.UserID = claims.UserID
		}
	}
	return st, nil
}

func (s *Session) saveLogin(body []byte) error {
	next, err := parseLogin(body)
	if err != nil {
		return err
	}
	if err := s.store.Update(func(st *state.TokenState) { *st = next }); err != nil {
		return err
	}
	s.log.Info("logged in", zap.Int64("user_id", next.UserID))
	if next.Username != "" {
		s.printLine("logged in as %s", next.Username)
	} else {
		s.printLine("logged in")
	}
	return nil
}

// clearSession drops stored credentials after the backend rejected them.
func (s *Session) clearSession() {
	if !s.store.Get().LoggedIn() {
		return
	}
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clear token state failed", zap.Error(err))
		return
	}
	s.printLine("session rejected by server, credentials cleared; please log in again")
}

func (s *Session) writeTemplate(path string, body []byte) error {
	var meta struct {
		Evaluator string `json:"evaluator"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || meta.Evaluator == "" {
		return pkgerrors.New(pkgerrors.TemplateNotAvailable)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.TemplateWriteFailed, "create template dir failed: %v", err)
		}
	}
	if err := os.WriteFile(path, []byte(meta.Evaluator), 0o644); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.TemplateWriteFailed, "write template failed: %v", err)
	}
	s.printLine("template written to %s", path)
	return nil
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | logout | solve | set base|stream|chat|leaderboard-stream|timeout|status-timeout|token | show token|session|config|submission")
	s.printLine("live: discussion chat problem=<title> | leaderboard watch contest_title=<title> [updates=N]")
	s.printLine("commands:")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %s", key)
	}
	s.printLine("examples:")
	s.printLine("  user login email=ada@example.com password=secret")
	s.printLine("  problem template id=1 language=python output=./solution.py")
	s.printLine("  solve problem_id=1 language=python source_file=./solution.py")
	s.printLine("  discussion chat problem='Two Sum'")
}

func (s *Session) prompt(text string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = s.outputWriter.WriteString(text)
	_ = s.outputWriter.Flush()
}

func (s *Session) printLine(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
