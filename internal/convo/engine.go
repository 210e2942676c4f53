// Package convo keeps one two-party conversation view live by polling the marketplace backend.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gallerio/internal/api"
	"gallerio/internal/domain"
	"gallerio/internal/metrics"
	"gallerio/internal/nav"
	"gallerio/internal/repo"
)

const (
	// DefaultPollInterval is the refresh period of an open conversation.
	DefaultPollInterval = 5 * time.Second

	loadFailedMessage = "Failed to load conversation."
	sendFailedMessage = "Failed to send message."
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNotOpen          = errors.New("no conversation is open")
	ErrSendInProgress   = errors.New("a message is already being sent")
)

// Fetcher is the slice of the API client the engine needs.
type Fetcher interface {
	Conversation(ctx context.Context, peerID int64) ([]domain.Message, error)
	SendMessage(ctx context.Context, recipientID int64, content string) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID int64) error
}

// IdentitySource reports who is logged in.
type IdentitySource interface {
	Current() (domain.Identity, bool)
}

// Listener renders the view. Callbacks run on engine goroutines and must not call Open or Close.
type Listener interface {
	OnChange(Snapshot)
	ScrollToLatest()
}

// MessageLedger records sent messages locally.
type MessageLedger interface {
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
}

type State int

const (
	StateInit State = iota
	StateLoading
	StateReady
	StateError
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	case StateTornDown:
		return "TORN_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is an immutable copy of the view state.
type Snapshot struct {
	PeerID    int64
	State     State
	Messages  []Entry
	Error     string
	SendError string
	Draft     string
	Sending   bool
}

// Options configure an Engine. Zero values pick defaults.
type Options struct {
	PollInterval time.Duration
	// MarkRead flags displayed unread messages from the peer as read.
	MarkRead  bool
	Ledger    MessageLedger
	Navigator nav.Navigator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine drives one conversation view. Open switches peer, Close tears the view down.
type Engine struct {
	fetcher   Fetcher
	identity  IdentitySource
	listener  Listener
	interval  time.Duration
	markRead  bool
	ledger    MessageLedger
	navigator nav.Navigator
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// lifecycle serialises Open and Close.
	lifecycle sync.Mutex

	mu         sync.Mutex
	peerID     int64
	state      State
	messages   []domain.Message
	prevLen    int
	loadErr    string
	sendErr    string
	draft      string
	sending    bool
	generation uint64
	issued     uint64
	applied    uint64
	inFlight   int
	marked     map[int64]bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an engine in the INIT state.
func New(fetcher Fetcher, identity IdentitySource, listener Listener, opts Options) *Engine {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	navigator := opts.Navigator
	if navigator == nil {
		navigator = nav.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Engine{
		fetcher:   fetcher,
		identity:  identity,
		listener:  listener,
		interval:  interval,
		markRead:  opts.MarkRead,
		ledger:    opts.Ledger,
		navigator: navigator,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "conversation"),
		marked:    map[int64]bool{},
	}
}

// Open shows the conversation with peerID: any previous view is torn down, the history is
// loaded and polling starts. Polling stops on the next Open, on Close or when ctx ends.
// A failed load leaves the view in StateError and returns nil; only a missing identity is
// reported, after navigating to login.
func (e *Engine) Open(ctx context.Context, peerID int64) error {
	gen, err := e.mount(ctx, peerID)
	if err != nil {
		return err
	}
	// Loaded outside the lifecycle lock so a later Open is never held up by this fetch;
	// its result is dropped if the view moved on.
	return e.load(ctx, gen, peerID, loadInitial)
}

func (e *Engine) mount(ctx context.Context, peerID int64) (uint64, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.teardown()

	if _, ok := e.identity.Current(); !ok {
		e.logger.Info("no identity, redirecting to login")
		e.navigator.Navigate(nav.Login)
		return 0, ErrNotAuthenticated
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.peerID = peerID
	e.state = StateInit
	e.messages = nil
	e.prevLen = 0
	e.loadErr = ""
	e.sendErr = ""
	e.draft = ""
	e.sending = false
	e.inFlight = 0
	e.marked = map[int64]bool{}
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.poll(pollCtx, gen, peerID, done)
	e.logger.Debug("conversation opened", "peer_id", peerID, "interval", e.interval)
	return gen, nil
}

// Retry reloads after a failed load. It does nothing unless the view is in StateError.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateError {
		e.mu.Unlock()
		return nil
	}
	gen, peerID := e.generation, e.peerID
	e.mu.Unlock()
	return e.load(ctx, gen, peerID, loadInitial)
}

// SetDraft records the text being composed.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	e.draft = text
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.listener.OnChange(snap)
}

// Send posts content to the open peer. Whitespace-only content is rejected without a request.
// On success the draft is cleared and the conversation reloaded at once, and nil is returned even
// if that reload fails. On failure the draft and the history stay as they were and SendError is set.
func (e *Engine) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	self, ok := e.identity.Current()
	if !ok {
		e.navigator.Navigate(nav.Login)
		return ErrNotAuthenticated
	}

	e.mu.Lock()
	if e.peerID == 0 || e.state == StateTornDown || e.state == StateInit {
		e.mu.Unlock()
		return ErrNotOpen
	}
	if e.sending {
		e.mu.Unlock()
		return ErrSendInProgress
	}
	gen, peerID := e.generation, e.peerID
	e.sending = true
	e.draft = content
	e.sendErr = ""
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.listener.OnChange(snap)

	sent, err := e.fetcher.SendMessage(ctx, peerID, content)

	e.mu.Lock()
	current := gen == e.generation
	if current {
		e.sending = false
		if err != nil {
			e.sendErr = api.Describe(err, sendFailedMessage)
		} else {
			e.draft = ""
		}
	}
	snap = e.snapshotLocked()
	e.mu.Unlock()
	if current {
		e.listener.OnChange(snap)
	}

	if err != nil {
		e.countSend("error")
		e.logger.Warn("send message failed", "peer_id", peerID, "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	e.countSend("ok")
	e.record(ctx, self, peerID, content, sent)

	if !current {
		return nil
	}
	// The message is delivered; a failed refresh is logged by load and the next tick catches up.
	_ = e.load(ctx, gen, peerID, loadRefresh)
	return nil
}

// Snapshot returns the current view state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close tears the view down and waits for the poller to exit. It is safe to call repeatedly.
func (e *Engine) Close() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.teardown()
}

// teardown cancels the poller, waits for it and invalidates in-flight results.
// Callers hold lifecycle.
func (e *Engine) teardown() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	wasOpen := e.peerID != 0 && e.state != StateTornDown
	e.generation++
	if wasOpen {
		e.state = StateTornDown
	}
	e.sending = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if wasOpen {
		e.logger.Debug("conversation torn down")
	}
}

func (e *Engine) poll(ctx context.Context, gen uint64, peerID int64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, gen, peerID)
		}
	}
}

func (e *Engine) tick(ctx context.Context, gen uint64, peerID int64) {
	e.mu.Lock()
	skip := gen != e.generation || e.state != StateReady || e.inFlight > 0
	e.mu.Unlock()
	if skip {
		e.countTick("skipped")
		return
	}
	if err := e.load(ctx, gen, peerID, loadBackground); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			e.countTick("skipped")
			return
		}
		e.countTick("error")
		return
	}
	e.countTick("ok")
}

type loadKind int

const (
	// loadInitial shows LOADING and turns failures into StateError.
	loadInitial loadKind = iota
	// loadBackground and loadRefresh keep the current list on failure.
	loadBackground
	loadRefresh
)

// load fetches the conversation and applies it if the view has not moved on in the meantime.
// Errors returned are ErrNotAuthenticated or, for background loads, the fetch error.
func (e *Engine) load(ctx context.Context, gen uint64, peerID int64, kind loadKind) error {
	self, ok := e.identity.Current()
	if !ok {
		// Ticks stay quiet; whoever ended the session already navigated.
		if kind != loadBackground {
			e.logger.Info("no identity, redirecting to login")
			e.navigator.Navigate(nav.Login)
		}
		return ErrNotAuthenticated
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return nil
	}
	e.issued++
	seq := e.issued
	e.inFlight++
	var snap Snapshot
	notify := kind == loadInitial
	if notify {
		e.state = StateLoading
		e.loadErr = ""
		snap = e.snapshotLocked()
	}
	e.mu.Unlock()
	if notify {
		e.listener.OnChange(snap)
	}

	fetched, err := e.fetcher.Conversation(ctx, peerID)

	e.mu.Lock()
	if gen != e.generation || seq <= e.applied {
		if gen == e.generation {
			e.inFlight--
		}
		e.mu.Unlock()
		e.countStale()
		e.logger.Debug("dropping stale conversation response", "peer_id", peerID, "seq", seq)
		return nil
	}
	e.inFlight--

	if err != nil {
		// A failed refresh applies nothing, so an older response may still land.
		if kind != loadInitial {
			e.mu.Unlock()
			if ctx.Err() == nil {
				e.countError()
				e.logger.Warn("conversation refresh failed, keeping previous list", "peer_id", peerID, "error", err)
			}
			return err
		}
		e.applied = seq
		e.state = StateError
		e.loadErr = loadFailedMessage
		snap = e.snapshotLocked()
		e.mu.Unlock()
		e.countError()
		e.logger.Error("load conversation failed", "peer_id", peerID, "error", err)
		e.listener.OnChange(snap)
		return nil
	}

	e.applied = seq
	messages := thread(fetched, self.ID, peerID)
	grew := len(messages) > e.prevLen
	e.messages = messages
	e.prevLen = len(messages)
	e.state = StateReady
	e.loadErr = ""
	snap = e.snapshotFor(self.ID)
	var toMark []int64
	if e.markRead {
		for _, id := range unreadFrom(messages, self.ID, peerID) {
			if !e.marked[id] {
				e.marked[id] = true
				toMark = append(toMark, id)
			}
		}
	}
	e.mu.Unlock()

	e.listener.OnChange(snap)
	if grew {
		e.listener.ScrollToLatest()
	}
	for _, id := range toMark {
		if err := e.fetcher.MarkRead(ctx, id); err != nil {
			e.logger.Debug("mark read failed", "message_id", id, "error", err)
		}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, self domain.Identity, peerID int64, content string, sent *domain.Message) {
	if e.ledger == nil {
		return
	}
	rec := repo.MessageRecord{
		OwnerID:   self.ID,
		PeerID:    peerID,
		Direction: repo.DirectionOutbound,
		Content:   content,
	}
	if sent != nil {
		rec.RemoteID = sent.ID
		rec.CreatedAt = sent.CreatedAt
	}
	if err := e.ledger.InsertMessage(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("record sent message failed", "error", err)
	}
}

// snapshotLocked resolves attribution from the identity current right now.
func (e *Engine) snapshotLocked() Snapshot {
	var selfID int64
	if self, ok := e.identity.Current(); ok {
		selfID = self.ID
	}
	return e.snapshotFor(selfID)
}

func (e *Engine) snapshotFor(selfID int64) Snapshot {
	return Snapshot{
		PeerID:    e.peerID,
		State:     e.state,
		Messages:  attribute(e.messages, selfID),
		Error:     e.loadErr,
		SendError: e.sendErr,
		Draft:     e.draft,
		Sending:   e.sending,
	}
}

func (e *Engine) countTick(outcome string) {
	if e.metrics != nil {
		e.metrics.PollTicks.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countStale() {
	if e.metrics != nil {
		e.metrics.StaleResponses.WithLabelValues("conversation").Inc()
	}
}

func (e *Engine) countSend(status string) {
	if e.metrics != nil {
		e.metrics.MessagesSent.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countError() {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues("conversation").Inc()
	}
}

type nopListener struct{}

func (nopListener) OnChange(Snapshot) {}
func (nopListener) ScrollToLatest()   {}
