package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "codeverse/pkg/errors"

	"go.uber.org/zap"
)

// Config tunes a Client. Zero values are usable.
type Config struct {
	// StatusTimeout bounds the wait for a terminal status once the channel is open.
	// Zero waits forever.
	StatusTimeout time.Duration
	Logger        *zap.Logger
	// OnUpdate receives every update in order. The last update of an attempt is terminal.
	OnUpdate func(Update)
	// OnTerminal runs once per attempt that reaches COMPLETED, FAILED or ERROR.
	OnTerminal func(Update)
}

// attempt is one Submit call. All fields are guarded by Client.mu.
type attempt struct {
	id         uint64
	handle     Handle
	hasHandle  bool
	channel    *onceChannel
	timer      *time.Timer
	cancel     context.CancelFunc
	done       chan struct{}
	settled    bool
	terminal   bool
	disposed   bool
	superseded bool
	final      Update
}

// settle marks the attempt finished and detaches its channel for closing.
func (a *attempt) settle() *onceChannel {
	a.settled = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	ch := a.channel
	a.channel = nil
	return ch
}

// Client drives one submission at a time from create request to terminal status.
//
// OnUpdate runs while the client serializes its transitions, so it must not
// call Submit or Dispose. OnTerminal runs after the attempt has settled and may
// block; Wait returns once it is done.
type Client struct {
	creator Creator
	dialer  Dialer
	creds   CredentialSource
	cfg     Config
	log     *zap.Logger

	// emitMu orders a state change together with its notification.
	emitMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	cur     *attempt
	phase   Phase
	current Update
}

func NewClient(creator Creator, dialer Dialer, creds CredentialSource, cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		creator: creator,
		dialer:  dialer,
		creds:   creds,
		cfg:     cfg,
		log:     log,
	}
}

// Submit starts a new attempt, superseding any previous one. It returns once the
// create request has resolved and the status channel is open; the terminal
// status arrives later through OnUpdate, OnTerminal or Wait.
func (c *Client) Submit(ctx context.Context, req Request) error {
	a, ctx, stale := c.begin(ctx)
	if stale != nil {
		_ = stale.Close()
	}

	if err := req.Validate(); err != nil {
		c.finish(a.id, StatusError, err.Error(), err)
		return err
	}

	token := ""
	if c.creds != nil {
		token = c.creds()
	}
	handle, err := c.creator.Create(ctx, token, req)
	if err != nil {
		if staleErr := c.staleErr(a); staleErr != nil {
			return staleErr
		}
		message := MsgSubmitFailed
		if serverMsg, ok := pkgerrors.ServerMessage(err); ok {
			message = serverMsg
		}
		c.finish(a.id, StatusError, message, err)
		return err
	}
	if !c.startStreaming(a.id, handle) {
		return c.staleErr(a)
	}

	ch, err := c.dialer.Dial(ctx, handle.ChannelAddress)
	if err != nil {
		if staleErr := c.staleErr(a); staleErr != nil {
			return staleErr
		}
		err = pkgerrors.Wrap(err, pkgerrors.StreamConnectFailed)
		c.finish(a.id, StatusError, MsgConnectionFailed, err)
		return err
	}
	oc := newOnceChannel(ch)
	if !c.attach(a.id, oc) {
		_ = oc.Close()
		return c.staleErr(a)
	}
	go c.readLoop(a.id, oc)
	return nil
}

// Dispose closes any open channel. Later events for the attempt are ignored.
// It is safe to call repeatedly.
func (c *Client) Dispose() {
	c.emitMu.Lock()
	c.mu.Lock()
	a := c.cur
	if a == nil || a.settled {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return
	}
	ch := a.settle()
	a.disposed = true
	if !c.phase.Terminal() {
		c.phase = PhaseIdle
	}
	c.mu.Unlock()
	c.emitMu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	close(a.done)
	c.log.Debug("submission client disposed", zap.Uint64("attempt", a.id))
}

// Wait blocks until the current attempt ends and returns its terminal update.
func (c *Client) Wait(ctx context.Context) (Update, error) {
	c.mu.Lock()
	a := c.cur
	c.mu.Unlock()
	if a == nil {
		return Update{}, pkgerrors.New(pkgerrors.SubmissionNotFound).WithMessage("no submission started")
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		return c.Current(), ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case a.terminal:
		return a.final, nil
	case a.disposed:
		return c.current, pkgerrors.New(pkgerrors.SubmissionDisposed)
	default:
		return c.current, pkgerrors.New(pkgerrors.SubmissionSuperseded)
	}
}

// Current returns the latest update. Before the first Submit it is the zero Update.
func (c *Client) Current() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Handle returns the handle of the current attempt once its create request succeeded.
func (c *Client) Handle() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil || !c.cur.hasHandle {
		return Handle{}, false
	}
	return c.cur.handle, true
}

// begin opens a new attempt and publishes the optimistic QUEUED update before
// any network activity. The superseded channel is returned for closing.
func (c *Client) begin(parent context.Context) (*attempt, context.Context, *onceChannel) {
	ctx, cancel := context.WithCancel(parent)

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	var stale *onceChannel
	var prev *attempt
	if c.cur != nil && !c.cur.settled {
		prev = c.cur
		stale = prev.settle()
		prev.superseded = true
	}
	c.seq++
	a := &attempt{id: c.seq, cancel: cancel, done: make(chan struct{})}
	c.cur = a
	c.phase = PhaseSubmitting
	u := Update{Attempt: a.id, Status: StatusQueued, Message: MsgSubmitting}
	c.current = u
	c.mu.Unlock()

	if prev != nil {
		close(prev.done)
		c.log.Debug("submission superseded", zap.Uint64("attempt", prev.id))
	}
	c.notify(u)
	return a, ctx, stale
}

func (c *Client) startStreaming(id uint64, handle Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.live(id)
	if a == nil {
		return false
	}
	a.handle = handle
	a.hasHandle = true
	c.phase = PhaseStreaming
	c.current.SubmissionID = handle.SubmissionID
	return true
}

// attach installs an opened channel and publishes the open event.
func (c *Client) attach(id uint64, ch *onceChannel) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	a := c.live(id)
	if a == nil {
		c.mu.Unlock()
		return false
	}
	a.channel = ch
	if c.cfg.StatusTimeout > 0 {
		a.timer = time.AfterFunc(c.cfg.StatusTimeout, func() {
			c.finish(id, StatusError, MsgTimeout, pkgerrors.New(pkgerrors.StreamTimeout))
		})
	}
	u := Update{Attempt: id, SubmissionID: a.handle.SubmissionID, Status: StatusQueued, Message: MsgConnected}
	c.current = u
	c.mu.Unlock()

	c.notify(u)
	return true
}

func (c *Client) readLoop(id uint64, ch *onceChannel) {
	for {
		data, err := ch.Read()
		if err != nil {
			code := pkgerrors.StreamTransportError
			if errors.Is(err, ErrChannelClosed) {
				code = pkgerrors.StreamDropped
			}
			c.finish(id, StatusError, MsgConnectionFailed, pkgerrors.Wrap(err, code))
			return
		}
		if stop := c.handleMessage(id, data); stop {
			return
		}
	}
}

// handleMessage applies one payload and reports whether reading should stop.
func (c *Client) handleMessage(id uint64, data []byte) bool {
	st, message, err := decodeMessage(data)
	if err != nil {
		c.finish(id, StatusError, MsgParseFailed, err)
		return true
	}
	if st.Terminal() {
		c.finish(id, st, message, nil)
		return true
	}
	return !c.progress(id, st, message)
}

func (c *Client) progress(id uint64, st Status, message string) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	a := c.live(id)
	if a == nil {
		c.mu.Unlock()
		return false
	}
	u := Update{Attempt: id, SubmissionID: a.handle.SubmissionID, Status: st, Message: message}
	c.current = u
	c.mu.Unlock()

	c.log.Debug("submission status", zap.Uint64("attempt", id),
		zap.String("submission_id", u.SubmissionID), zap.String("status", string(st)))
	c.notify(u)
	return true
}

// finish moves a live attempt to its terminal status, closes its channel and
// signals completion. Stale or already settled attempts are ignored.
func (c *Client) finish(id uint64, st Status, message string, cause error) {
	c.emitMu.Lock()

	c.mu.Lock()
	a := c.live(id)
	if a == nil {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return
	}
	ch := a.settle()
	u := Update{Attempt: id, SubmissionID: a.handle.SubmissionID, Status: st, Message: message}
	a.terminal = true
	a.final = u
	c.current = u
	c.phase = phaseFor(st)
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if st == StatusError {
		c.log.Warn("submission ended with error", zap.Uint64("attempt", id),
			zap.String("submission_id", u.SubmissionID), zap.String("message", message),
			zap.Int("code", int(pkgerrors.GetCode(cause))), zap.Error(cause))
	} else {
		c.log.Info("submission finished", zap.Uint64("attempt", id),
			zap.String("submission_id", u.SubmissionID), zap.String("status", string(st)))
	}
	c.notify(u)
	c.emitMu.Unlock()

	// The attempt is settled, so Dispose and Submit no longer wait on the hook.
	if c.cfg.OnTerminal != nil {
		c.cfg.OnTerminal(u)
	}
	close(a.done)
}

// live returns the current attempt if id still owns it. Caller holds mu.
func (c *Client) live(id uint64) *attempt {
	if c.cur == nil || c.cur.id != id || c.cur.settled {
		return nil
	}
	return c.cur
}

func (c *Client) staleErr(a *attempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case a.disposed:
		return pkgerrors.New(pkgerrors.SubmissionDisposed)
	case a.superseded:
		return pkgerrors.New(pkgerrors.SubmissionSuperseded)
	default:
		return nil
	}
}

func (c *Client) notify(u Update) {
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(u)
	}
}
