package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"gallerio/internal/apitest"
	"gallerio/internal/domain"
	"gallerio/internal/logging"
	"gallerio/internal/nav"
	"gallerio/internal/session"
)

type fixture struct {
	backend   *apitest.Backend
	store     *session.Store
	navigator *nav.Recorder
	client    *Client
	me        apitest.User
	peer      apitest.User
	token     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := apitest.New(t)
	me := backend.AddUser(apitest.User{Email: "ama@example.com", Password: "secret", FirstName: "Ama", LastName: "Mensah"})
	peer := backend.AddUser(apitest.User{Email: "kofi@example.com", Password: "secret", FirstName: "Kofi", Role: domain.RoleArtist})

	store, err := session.Open(ctx, session.NewMemoryPersister(), logging.Discard())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	token := backend.Token(me.ID)
	if err := store.Login(ctx, domain.Identity{ID: me.ID, Email: me.Email, Role: me.Role}, token); err != nil {
		t.Fatalf("login: %v", err)
	}

	recorder := nav.NewRecorder()
	client := New(Config{BaseURL: backend.URL(), Timeout: 5 * time.Second}, store, recorder, logging.Discard(), nil)
	return &fixture{backend: backend, store: store, navigator: recorder, client: client, me: me, peer: peer, token: token}
}

func TestConversationDecodesNestedParticipants(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.backend.AddMessage(f.peer.ID, f.me.ID, "hello", base)
	f.backend.AddMessage(f.me.ID, f.peer.ID, "hi back", base.Add(time.Minute))

	msgs, err := f.client.Conversation(context.Background(), f.peer.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderID != f.peer.ID || msgs[0].RecipientID != f.me.ID {
		t.Fatalf("unexpected participants: %+v", msgs[0])
	}
	if msgs[0].Sender.Name() != "Kofi" {
		t.Fatalf("expected sender name Kofi, got %q", msgs[0].Sender.Name())
	}
	if !msgs[0].CreatedAt.Equal(base) {
		t.Fatalf("expected %v, got %v", base, msgs[0].CreatedAt)
	}
}

func TestSendMessageAndInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent, err := f.client.SendMessage(ctx, f.peer.ID, "is it still available?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID == 0 || sent.SenderID != f.me.ID || sent.RecipientID != f.peer.ID {
		t.Fatalf("unexpected sent message: %+v", sent)
	}

	f.backend.AddMessage(f.peer.ID, f.me.ID, "yes", time.Now())
	inbox, err := f.client.Inbox(ctx)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Content != "yes" {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}
	if err := f.client.MarkRead(ctx, inbox[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	reply, err := f.client.Reply(ctx, inbox[0].ID, "great")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.RecipientID != f.peer.ID {
		t.Fatalf("reply should go to %d, got %d", f.peer.ID, reply.RecipientID)
	}
	if err := f.client.DeleteMessage(ctx, reply.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.client.DeleteMessage(ctx, reply.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestBackendMessageSurfaces(t *testing.T) {
	f := newFixture(t)
	f.backend.FailNext("/messages/send", http.StatusBadRequest, "Recipient blocked you")

	_, err := f.client.SendMessage(context.Background(), f.peer.ID, "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", apiErr.Status)
	}
	if got := Describe(err, "Failed to send message."); got != "Recipient blocked you" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestConcurrentUnauthorizedNavigatesOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.Revoke(f.token)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := f.client.Conversation(ctx, f.peer.ID)
			if !errors.Is(err, ErrUnauthorized) {
				return errors.New("expected unauthorized")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("requests: %v", err)
	}

	if got := f.navigator.Count(nav.Login); got != 1 {
		t.Fatalf("expected exactly one login navigation, got %d", got)
	}
	if f.store.Token() != "" {
		t.Fatalf("expected token cleared")
	}
	if _, ok := f.store.Identity(); ok {
		t.Fatalf("expected identity cleared")
	}
}

func TestLateUnauthorizedDoesNotClearNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := f.backend.HoldOnce("/messages/conversation/{peerId}")

	errCh := make(chan error, 1)
	go func() {
		_, err := f.client.Conversation(ctx, f.peer.ID)
		errCh <- err
	}()
	<-gate.Entered()

	// The held request carries the old token; the user logs in again meanwhile.
	f.backend.Revoke(f.token)
	fresh := f.backend.Token(f.me.ID)
	if err := f.store.Login(ctx, domain.Identity{ID: f.me.ID, Email: f.me.Email}, fresh); err != nil {
		t.Fatalf("relogin: %v", err)
	}
	gate.Release()

	if err := <-errCh; !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if f.store.Token() != fresh {
		t.Fatalf("new session must survive a late 401 for the old token")
	}
	if got := f.navigator.Count(nav.Login); got != 0 {
		t.Fatalf("expected no navigation, got %d", got)
	}
}

func TestLoginResolvesIdentityWithoutTouchingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.client.Login(ctx, Credentials{Email: f.peer.Email, Password: "wrong"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if f.store.Token() != f.token {
		t.Fatalf("failed login must not clear the session")
	}
	if got := len(f.navigator.Routes()); got != 0 {
		t.Fatalf("expected no navigation, got %d", got)
	}

	token, identity, err := f.client.Login(ctx, Credentials{Email: f.peer.Email, Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if identity.ID != f.peer.ID || identity.Role != domain.RoleArtist {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if f.backend.Calls("/auth/verify") != 1 {
		t.Fatalf("expected verify to be called once")
	}
}

func TestOrdersRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.AddArtwork(7, "Lake Kivu at Dusk", f.peer.ID)

	order, err := f.client.CreateOrder(ctx, domain.OrderRequest{ArtworkID: 7, PhoneNumber: "0781234567", PaymentMethod: domain.PaymentMTN})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ArtworkID != 7 || order.ArtworkTitle != "Lake Kivu at Dusk" || order.PaymentStatus != domain.StatusPendingPayment {
		t.Fatalf("unexpected order: %+v", order)
	}

	mine, err := f.client.CustomerOrders(ctx)
	if err != nil {
		t.Fatalf("customer orders: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != order.ID {
		t.Fatalf("unexpected customer orders: %+v", mine)
	}

	if _, err := f.client.AdminOrders(ctx); err == nil {
		t.Fatalf("expected forbidden for non-admin")
	}

	_, err = f.client.CreateOrder(ctx, domain.OrderRequest{ArtworkID: 99, PhoneNumber: "0781234567", PaymentMethod: domain.PaymentMTN})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := Describe(err, "Failed to place order."); got != "Artwork not found" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestAdminUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.backend.AddUser(apitest.User{Email: "admin@example.com", Password: "secret", Role: domain.RoleAdmin})
	f.backend.AddArtwork(3, "Imigongo", f.peer.ID)
	order, err := f.client.CreateOrder(ctx, domain.OrderRequest{ArtworkID: 3, PhoneNumber: "0721234567", PaymentMethod: domain.PaymentAirtel})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	adminToken := f.backend.Token(admin.ID)
	if err := f.store.Login(ctx, domain.Identity{ID: admin.ID, Role: domain.RoleAdmin}, adminToken); err != nil {
		t.Fatalf("login admin: %v", err)
	}
	updated, err := f.client.AdminUpdateOrderStatus(ctx, order.ID, domain.StatusPaid)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.PaymentStatus != domain.StatusPaid {
		t.Fatalf("expected PAID, got %s", updated.PaymentStatus)
	}
	all, err := f.client.AdminOrders(ctx)
	if err != nil {
		t.Fatalf("admin orders: %v", err)
	}
	if len(all) != 1 || all[0].PaymentMethod != domain.PaymentAirtel {
		t.Fatalf("unexpected admin orders: %+v", all)
	}
}

func TestDescribeFallbacks(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"transport", errors.New("dial tcp: connection refused"), "fallback"},
		{"html body", &APIError{Status: 502, Message: "<html>bad gateway</html>"}, "fallback"},
		{"blank 500", &APIError{Status: 500}, "fallback"},
		{"expired", &APIError{Status: 401}, "Your session has expired. Please log in again."},
		{"timeout", context.DeadlineExceeded, "The server took too long to respond."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Describe(tc.err, "fallback"); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClassifyHTTPError(t *testing.T) {
	err := classifyHTTPError("/orders", 400, []byte(`{"error":"Bad Request","code":42}`))
	if err.Message != "Bad Request" || err.Code != "42" {
		t.Fatalf("unexpected error: %+v", err)
	}
	err = classifyHTTPError("/orders", 500, []byte("upstream exploded"))
	if err.Message != "upstream exploded" {
		t.Fatalf("expected plain body snippet, got %q", err.Message)
	}
	if !err.Temporary() {
		t.Fatalf("500 should be temporary")
	}
}

func TestLenientMessageDecoding(t *testing.T) {
	raw := `[
		{"id":"5","senderId":3,"recipientId":"4","content":"flat","createdAt":1714557600000,"isRead":true},
		{"id":6,"sender":{"id":4,"username":"kofi"},"recipient":{"id":3},"content":"nested","createdAt":"2024-05-01 10:01:00"},
		{"id":7,"sender":{"id":3},"recipient":{"id":4},"content":"zoned","createdAt":"2024-05-01T12:02:00+02:00"}
	]`
	var wire []wireMessage
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("decode: %v", err)
	}
	msgs := messagesFromWire(wire)

	if msgs[0].ID != 5 || msgs[0].SenderID != 3 || msgs[0].RecipientID != 4 || !msgs[0].Read {
		t.Fatalf("unexpected flat message: %+v", msgs[0])
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !msgs[0].CreatedAt.Equal(want) {
		t.Fatalf("epoch millis: expected %v, got %v", want, msgs[0].CreatedAt)
	}
	if msgs[1].SenderID != 4 || msgs[1].Sender.Name() != "kofi" {
		t.Fatalf("unexpected nested message: %+v", msgs[1])
	}
	if want := time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC); !msgs[1].CreatedAt.Equal(want) {
		t.Fatalf("zoneless: expected %v, got %v", want, msgs[1].CreatedAt)
	}
	if want := time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC); !msgs[2].CreatedAt.Equal(want) {
		t.Fatalf("zoned: expected %v, got %v", want, msgs[2].CreatedAt)
	}
}
