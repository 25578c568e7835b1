package submission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// eventLog records cross-component call order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) index(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

type createResult struct {
	handle Handle
	err    error
}

type fakeCreator struct {
	log     *eventLog
	mu      sync.Mutex
	calls   int
	tokens  []string
	results []createResult
	block   chan struct{}
}

func (f *fakeCreator) Create(ctx context.Context, token string, req Request) (Handle, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.tokens = append(f.tokens, token)
	var res createResult
	if n <= len(f.results) {
		res = f.results[n-1]
	} else {
		res = createResult{handle: Handle{SubmissionID: fmt.Sprintf("sub-%d", n), ChannelAddress: fmt.Sprintf("ws://fake/%d", n)}}
	}
	block := f.block
	f.mu.Unlock()

	if f.log != nil {
		f.log.add("create:%d", n)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		}
	}
	return res.handle, res.err
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type channelEvent struct {
	data []byte
	err  error
}

type fakeChannel struct {
	name      string
	log       *eventLog
	events    chan channelEvent
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closes    int
}

func newFakeChannel(name string, log *eventLog) *fakeChannel {
	return &fakeChannel{
		name:   name,
		log:    log,
		events: make(chan channelEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Read() ([]byte, error) {
	select {
	case ev := <-f.events:
		return ev.data, ev.err
	case <-f.closed:
		return nil, ErrChannelClosed
	}
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	if f.log != nil {
		f.log.add("close:%s", f.name)
	}
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) send(payload string) {
	f.events <- channelEvent{data: []byte(payload)}
}

func (f *fakeChannel) fail(err error) {
	f.events <- channelEvent{err: err}
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeDialer struct {
	log      *eventLog
	mu       sync.Mutex
	channels []*fakeChannel
	addrs    []string
	err      error
}

func (f *fakeDialer) Dial(ctx context.Context, address string) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addrs = append(f.addrs, address)
	if f.err != nil {
		return nil, f.err
	}
	ch := newFakeChannel(fmt.Sprintf("ch%d", len(f.channels)+1), f.log)
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeDialer) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[i]
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addrs)
}

// recorder captures the update sequence delivered to OnUpdate.
type recorder struct {
	mu        sync.Mutex
	updates   []Update
	terminals []Update
}

func (r *recorder) onUpdate(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) onTerminal(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals = append(r.terminals, u)
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recorder) forAttempt(id uint64) []Update {
	var out []Update
	for _, u := range r.snapshot() {
		if u.Attempt == id {
			out = append(out, u)
		}
	}
	return out
}

func (r *recorder) config() Config {
	return Config{OnUpdate: r.onUpdate, OnTerminal: r.onTerminal}
}

func validRequest() Request {
	return Request{OwnerID: 1, ProblemID: 42, Language: LanguagePython, SourceCode: "print(1)"}
}

func waitTerminal(t *testing.T, c *Client) Update {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	return u
}

// assertSingleTerminalLast checks one attempt's sequence ends with its only terminal status.
func assertSingleTerminalLast(t *testing.T, seq []Update) {
	t.Helper()
	if len(seq) == 0 {
		t.Fatal("empty status sequence")
	}
	for i, u := range seq {
		if u.Terminal() && i != len(seq)-1 {
			t.Fatalf("terminal status %s at %d of %d", u.Status, i, len(seq))
		}
	}
	if !seq[len(seq)-1].Terminal() {
		t.Fatalf("sequence does not end terminal: %+v", seq[len(seq)-1])
	}
}
