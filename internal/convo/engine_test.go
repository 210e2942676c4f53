package convo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"gallerio/internal/api"
	"gallerio/internal/apitest"
	"gallerio/internal/domain"
	"gallerio/internal/logging"
	"gallerio/internal/nav"
	"gallerio/internal/repo"
	"gallerio/internal/session"
)

const (
	selfID = int64(1)
	peerA  = int64(2)
	peerB  = int64(3)
)

type stubIdentity struct {
	mu       sync.Mutex
	identity *domain.Identity
}

func newIdentity(id int64) *stubIdentity {
	return &stubIdentity{identity: &domain.Identity{ID: id, Role: domain.RoleCollector}}
}

func (s *stubIdentity) Current() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (s *stubIdentity) set(id *domain.Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

type stubFetcher struct {
	mu       sync.Mutex
	server   map[int64][]domain.Message
	fetchErr error
	sendErr  error
	calls    map[int64]int
	gates    map[int64]chan struct{}
	entered  chan int64
	marked   []int64
	nextID   int64
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		server:  map[int64][]domain.Message{},
		calls:   map[int64]int{},
		gates:   map[int64]chan struct{}{},
		entered: make(chan int64, 16),
		nextID:  100,
	}
}

func (f *stubFetcher) Conversation(ctx context.Context, peerID int64) ([]domain.Message, error) {
	f.mu.Lock()
	f.calls[peerID]++
	gate := f.gates[peerID]
	delete(f.gates, peerID)
	f.mu.Unlock()

	if gate != nil {
		f.entered <- peerID
		// Deliberately ignores ctx to model a response that arrives late anyway.
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]domain.Message, len(f.server[peerID]))
	copy(out, f.server[peerID])
	return out, nil
}

func (f *stubFetcher) SendMessage(_ context.Context, recipientID int64, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	m := domain.Message{ID: f.nextID, SenderID: selfID, RecipientID: recipientID, Content: content, CreatedAt: time.Now().UTC()}
	f.nextID++
	f.server[recipientID] = append(f.server[recipientID], m)
	return &m, nil
}

func (f *stubFetcher) MarkRead(_ context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *stubFetcher) setServer(peerID int64, msgs ...domain.Message) {
	f.mu.Lock()
	f.server[peerID] = msgs
	f.mu.Unlock()
}

func (f *stubFetcher) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func (f *stubFetcher) hold(peerID int64) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[peerID] = gate
	f.mu.Unlock()
	return gate
}

func (f *stubFetcher) callCount(peerID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[peerID]
}

type recordingListener struct {
	mu      sync.Mutex
	last    Snapshot
	scrolls int
	changes chan Snapshot
}

func newListener() *recordingListener {
	return &recordingListener{changes: make(chan Snapshot, 256)}
}

func (l *recordingListener) OnChange(s Snapshot) {
	l.mu.Lock()
	l.last = s
	l.mu.Unlock()
	select {
	case l.changes <- s:
	default:
	}
}

func (l *recordingListener) ScrollToLatest() {
	l.mu.Lock()
	l.scrolls++
	l.mu.Unlock()
}

func (l *recordingListener) scrollCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scrolls
}

// waitFor drains snapshots until cond holds.
func (l *recordingListener) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-l.changes:
			if cond(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func newTestEngine(f Fetcher, id IdentitySource, l Listener, opts Options) *Engine {
	if opts.PollInterval == 0 {
		// Ticks are driven by hand unless a test asks for real polling.
		opts.PollInterval = time.Hour
	}
	opts.Logger = logging.Discard()
	return New(f, id, l, opts)
}

func currentGen(e *Engine) (uint64, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation, e.peerID
}

func TestOpenLoadsOrderedConversation(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA,
		msg(2, selfID, peerA, base.Add(time.Minute), "later"),
		msg(1, peerA, selfID, base, "earlier"),
		msg(9, peerB, selfID, base, "leaked"),
	)
	l := newListener()
	e := newTestEngine(f, newIdentity(selfID), l, Options{})
	defer e.Close()

	if err := e.Open(context.Background(), peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	snap := e.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("expected READY, got %s", snap.State)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Content != "earlier" || snap.Messages[0].Sent {
		t.Fatalf("unexpected first entry: %+v", snap.Messages[0])
	}
	if snap.Messages[1].Content != "later" || !snap.Messages[1].Sent {
		t.Fatalf("unexpected second entry: %+v", snap.Messages[1])
	}
	if l.scrollCount() != 1 {
		t.Fatalf("expected one scroll after first load, got %d", l.scrollCount())
	}
}

func TestAttributionRecomputedOnIdentityChange(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA, msg(1, selfID, peerA, base, "hi"))
	id := newIdentity(selfID)
	e := newTestEngine(f, id, nil, Options{})
	defer e.Close()

	if err := e.Open(context.Background(), peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !e.Snapshot().Messages[0].Sent {
		t.Fatalf("expected sent for sender identity")
	}
	id.set(&domain.Identity{ID: peerA})
	if e.Snapshot().Messages[0].Sent {
		t.Fatalf("attribution must follow the current identity")
	}
}

func TestScrollOnlyWhenListGrows(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	one := msg(1, peerA, selfID, base, "one")
	two := msg(2, selfID, peerA, base.Add(time.Second), "two")
	three := msg(3, peerA, selfID, base.Add(2*time.Second), "three")
	f.setServer(peerA, one, two)

	l := newListener()
	e := newTestEngine(f, newIdentity(selfID), l, Options{})
	defer e.Close()
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	gen, peer := currentGen(e)

	steps := []struct {
		name    string
		server  []domain.Message
		scrolls int
	}{
		{"unchanged", []domain.Message{one, two}, 1},
		{"unchanged again", []domain.Message{one, two}, 1},
		{"grew", []domain.Message{one, two, three}, 2},
		{"deleted", []domain.Message{one, three}, 2},
		{"same length different set", []domain.Message{two, three}, 2},
	}
	for _, step := range steps {
		f.setServer(peerA, step.server...)
		e.tick(ctx, gen, peer)
		if got := l.scrollCount(); got != step.scrolls {
			t.Fatalf("%s: expected %d scrolls, got %d", step.name, step.scrolls, got)
		}
	}
	if got := len(e.Snapshot().Messages); got != 2 {
		t.Fatalf("expected list replaced wholesale, got %d entries", got)
	}
}

func TestPollFailureKeepsPreviousList(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA, msg(1, peerA, selfID, base, "keep me"))
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	gen, peer := currentGen(e)

	f.setFetchErr(errors.New("connection reset"))
	e.tick(ctx, gen, peer)

	snap := e.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("poll failure must not change state, got %s", snap.State)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "keep me" {
		t.Fatalf("poll failure must keep the list, got %+v", snap.Messages)
	}
	if snap.Error != "" {
		t.Fatalf("poll failure must not surface an error, got %q", snap.Error)
	}
}

func TestInitialLoadFailureAndRetry(t *testing.T) {
	f := newStubFetcher()
	f.setFetchErr(&api.APIError{Status: 503, Endpoint: "/messages/conversation/{peerId}"})
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()

	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("load failures are reported through state, got %v", err)
	}
	snap := e.Snapshot()
	if snap.State != StateError || snap.Error != "Failed to load conversation." {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	gen, peer := currentGen(e)
	before := f.callCount(peerA)
	e.tick(ctx, gen, peer)
	if f.callCount(peerA) != before {
		t.Fatalf("ticks must not fetch while in ERROR")
	}

	f.setFetchErr(nil)
	f.setServer(peerA, msg(1, peerA, selfID, time.Now(), "back"))
	if err := e.Retry(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	snap = e.Snapshot()
	if snap.State != StateReady || len(snap.Messages) != 1 || snap.Error != "" {
		t.Fatalf("unexpected snapshot after retry: %+v", snap)
	}
}

func TestOpenWithoutIdentityNavigatesToLogin(t *testing.T) {
	f := newStubFetcher()
	id := newIdentity(selfID)
	id.set(nil)
	recorder := nav.NewRecorder()
	e := newTestEngine(f, id, nil, Options{Navigator: recorder})
	defer e.Close()

	if err := e.Open(context.Background(), peerA); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if f.callCount(peerA) != 0 {
		t.Fatalf("no request may be issued without identity")
	}
	if recorder.Count(nav.Login) != 1 {
		t.Fatalf("expected navigation to login, got %v", recorder.Routes())
	}
}

func TestStaleResponseForPreviousPeerIsDropped(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA, msg(1, peerA, selfID, base, "from A"))
	f.setServer(peerB, msg(2, peerB, selfID, base, "from B"))
	gate := f.hold(peerA)

	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()

	openedA := make(chan error, 1)
	go func() { openedA <- e.Open(ctx, peerA) }()
	<-f.entered

	if err := e.Open(ctx, peerB); err != nil {
		t.Fatalf("open B: %v", err)
	}
	close(gate)
	if err := <-openedA; err != nil {
		t.Fatalf("open A: %v", err)
	}

	snap := e.Snapshot()
	if snap.PeerID != peerB {
		t.Fatalf("expected peer B, got %d", snap.PeerID)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "from B" {
		t.Fatalf("late response for A overwrote B: %+v", snap.Messages)
	}
}

func TestOlderRequestCannotOverwriteNewer(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()
	f.setServer(peerA, msg(1, peerA, selfID, base, "one"))
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	gen, peer := currentGen(e)

	// A slow refresh is issued first and sees the old server view.
	gate := f.hold(peerA)
	slow := make(chan error, 1)
	go func() { slow <- e.load(ctx, gen, peer, loadRefresh) }()
	<-f.entered

	f.setServer(peerA, msg(1, peerA, selfID, base, "one"), msg(2, selfID, peerA, base.Add(time.Second), "two"))
	if err := e.load(ctx, gen, peer, loadRefresh); err != nil {
		t.Fatalf("fast refresh: %v", err)
	}
	// Roll the server back so a late apply of the slow request would be visible.
	f.setServer(peerA, msg(1, peerA, selfID, base, "one"))
	close(gate)
	if err := <-slow; err != nil {
		t.Fatalf("slow refresh: %v", err)
	}

	if got := len(e.Snapshot().Messages); got != 2 {
		t.Fatalf("older response applied over newer one: %d messages", got)
	}
}

func TestSendRejectsBlankContent(t *testing.T) {
	f := newStubFetcher()
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	if err := e.Open(context.Background(), peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, content := range []string{"", "   ", "\n\t"} {
		if err := e.Send(context.Background(), content); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", content, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.server[peerA]) != 0 {
		t.Fatalf("blank content must not be sent")
	}
}

func TestSendFailureKeepsDraftAndHistory(t *testing.T) {
	f := newStubFetcher()
	f.setServer(peerA, msg(1, peerA, selfID, time.Now(), "hello?"))
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.mu.Lock()
	f.sendErr = &api.APIError{Status: 400, Message: "Recipient not found"}
	f.mu.Unlock()
	if err := e.Send(ctx, "still there?"); err == nil {
		t.Fatalf("expected send error")
	}
	snap := e.Snapshot()
	if snap.Draft != "still there?" {
		t.Fatalf("draft lost: %q", snap.Draft)
	}
	if snap.SendError != "Recipient not found" {
		t.Fatalf("unexpected send error %q", snap.SendError)
	}
	if snap.State != StateReady || len(snap.Messages) != 1 {
		t.Fatalf("history must stay visible: %+v", snap)
	}
}

func TestSendSucceedsWhenRefreshFails(t *testing.T) {
	f := newStubFetcher()
	f.setServer(peerA, msg(1, peerA, selfID, time.Now(), "hello?"))
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.setFetchErr(errors.New("connection reset"))
	if err := e.Send(ctx, "is it framed?"); err != nil {
		t.Fatalf("a delivered message must not report failure, got %v", err)
	}
	snap := e.Snapshot()
	if snap.Draft != "" || snap.SendError != "" {
		t.Fatalf("expected cleared draft and no send error: %+v", snap)
	}
	if snap.State != StateReady || len(snap.Messages) != 1 || snap.Error != "" {
		t.Fatalf("failed refresh must keep the previous list: %+v", snap)
	}
	if f.callCount(peerA) != 2 {
		t.Fatalf("expected the refresh to be attempted, got %d loads", f.callCount(peerA))
	}

	f.setFetchErr(nil)
	gen, peer := currentGen(e)
	e.tick(ctx, gen, peer)
	if n := len(e.Snapshot().Messages); n != 2 {
		t.Fatalf("next tick should pick up the sent message, got %d", n)
	}
}

func TestFailedRefreshDoesNotStrandInitialLoad(t *testing.T) {
	f := newStubFetcher()
	f.setServer(peerA, msg(1, peerA, selfID, time.Now(), "hello?"))
	e := newTestEngine(f, newIdentity(selfID), nil, Options{})
	defer e.Close()
	ctx := context.Background()

	gate := f.hold(peerA)
	opened := make(chan error, 1)
	go func() { opened <- e.Open(ctx, peerA) }()
	<-f.entered

	f.setFetchErr(errors.New("connection reset"))
	if err := e.Send(ctx, "anyone there?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	f.setFetchErr(nil)
	close(gate)
	if err := <-opened; err != nil {
		t.Fatalf("open: %v", err)
	}

	snap := e.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("initial load must still apply, got %s", snap.State)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("expected both messages, got %+v", snap.Messages)
	}
}

type memoryLedger struct {
	mu      sync.Mutex
	records []repo.MessageRecord
}

func (m *memoryLedger) InsertMessage(_ context.Context, rec repo.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func TestSendRefreshesImmediatelyAgainstBackend(t *testing.T) {
	ctx := context.Background()
	backend := apitest.New(t)
	me := backend.AddUser(apitest.User{Email: "ama@example.com", Password: "pw", FirstName: "Ama"})
	peer := backend.AddUser(apitest.User{Email: "kofi@example.com", Password: "pw", FirstName: "Kofi", Role: domain.RoleArtist})

	store, err := session.Open(ctx, session.NewMemoryPersister(), logging.Discard())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := store.Login(ctx, domain.Identity{ID: me.ID, Email: me.Email}, backend.Token(me.ID)); err != nil {
		t.Fatalf("login: %v", err)
	}
	recorder := nav.NewRecorder()
	client := api.New(api.Config{BaseURL: backend.URL(), Timeout: 5 * time.Second}, store, recorder, logging.Discard(), nil)

	ledger := &memoryLedger{}
	l := newListener()
	e := newTestEngine(client, store, l, Options{Ledger: ledger, Navigator: recorder})
	defer e.Close()

	if err := e.Open(ctx, peer.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	if n := len(e.Snapshot().Messages); n != 0 {
		t.Fatalf("expected empty conversation, got %d", n)
	}

	e.SetDraft("hello")
	if err := e.Send(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	snap := e.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("expected one message after send, got %d", len(snap.Messages))
	}
	got := snap.Messages[0]
	if got.Content != "hello" || got.SenderID != me.ID || !got.Sent {
		t.Fatalf("unexpected message: %+v", got)
	}
	if snap.Draft != "" {
		t.Fatalf("draft should be cleared, got %q", snap.Draft)
	}
	if calls := backend.Calls("/messages/conversation/{peerId}"); calls != 2 {
		t.Fatalf("expected initial load plus one refresh, got %d", calls)
	}
	if l.scrollCount() != 1 {
		t.Fatalf("expected one scroll for the new message, got %d", l.scrollCount())
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.records) != 1 || ledger.records[0].RemoteID != got.ID || ledger.records[0].Direction != repo.DirectionOutbound {
		t.Fatalf("unexpected ledger records: %+v", ledger.records)
	}
}

func TestUnauthorizedPollEndsSession(t *testing.T) {
	ctx := context.Background()
	backend := apitest.New(t)
	me := backend.AddUser(apitest.User{Email: "ama@example.com", Password: "pw"})
	peer := backend.AddUser(apitest.User{Email: "kofi@example.com", Password: "pw"})

	store, err := session.Open(ctx, session.NewMemoryPersister(), logging.Discard())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	token := backend.Token(me.ID)
	if err := store.Login(ctx, domain.Identity{ID: me.ID}, token); err != nil {
		t.Fatalf("login: %v", err)
	}
	recorder := nav.NewRecorder()
	client := api.New(api.Config{BaseURL: backend.URL()}, store, recorder, logging.Discard(), nil)
	e := newTestEngine(client, store, nil, Options{Navigator: recorder})
	defer e.Close()
	if err := e.Open(ctx, peer.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	gen, peerID := currentGen(e)

	backend.Revoke(token)
	e.tick(ctx, gen, peerID)
	e.tick(ctx, gen, peerID)

	if recorder.Count(nav.Login) != 1 {
		t.Fatalf("expected exactly one login navigation, got %v", recorder.Routes())
	}
	if store.Token() != "" {
		t.Fatalf("session should be cleared")
	}
}

func TestMarksDisplayedMessagesReadOnce(t *testing.T) {
	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA, msg(1, peerA, selfID, base, "unread"), msg(2, selfID, peerA, base.Add(time.Second), "mine"))
	e := newTestEngine(f, newIdentity(selfID), nil, Options{MarkRead: true})
	defer e.Close()
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open: %v", err)
	}
	gen, peer := currentGen(e)
	e.tick(ctx, gen, peer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.marked) != 1 || f.marked[0] != 1 {
		t.Fatalf("expected message 1 marked once, got %v", f.marked)
	}
}

func TestPollingRefreshesAndCloseStopsIt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newStubFetcher()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.setServer(peerA, msg(1, peerA, selfID, base, "one"))
	l := newListener()
	e := newTestEngine(f, newIdentity(selfID), l, Options{PollInterval: 10 * time.Millisecond})
	if err := e.Open(context.Background(), peerA); err != nil {
		t.Fatalf("open: %v", err)
	}

	f.setServer(peerA, msg(1, peerA, selfID, base, "one"), msg(2, peerA, selfID, base.Add(time.Second), "two"))
	l.waitFor(t, func(s Snapshot) bool { return len(s.Messages) == 2 })

	e.Close()
	if got := e.Snapshot().State; got != StateTornDown {
		t.Fatalf("expected TORN_DOWN, got %s", got)
	}
	calls := f.callCount(peerA)
	time.Sleep(50 * time.Millisecond)
	if f.callCount(peerA) != calls {
		t.Fatalf("poller kept fetching after Close")
	}
	e.Close()
}

func TestPeerChangeStopsPreviousPoller(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newStubFetcher()
	e := newTestEngine(f, newIdentity(selfID), nil, Options{PollInterval: 5 * time.Millisecond})
	ctx := context.Background()
	if err := e.Open(ctx, peerA); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if err := e.Open(ctx, peerB); err != nil {
		t.Fatalf("open B: %v", err)
	}
	callsA := f.callCount(peerA)
	time.Sleep(50 * time.Millisecond)
	if f.callCount(peerA) != callsA {
		t.Fatalf("poller for A still running after switching to B")
	}
	if f.callCount(peerB) < 2 {
		t.Fatalf("expected B to be polled, got %d calls", f.callCount(peerB))
	}
	e.Close()
}
