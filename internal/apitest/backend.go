// Package apitest runs an in-memory marketplace backend for tests.
package apitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"gallerio/internal/domain"
)

const wireTimeLayout = "2006-01-02T15:04:05.000000"

// User is an account known to the backend.
type User struct {
	ID        int64
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      domain.Role
}

type artwork struct {
	ID       int64
	Title    string
	ArtistID int64
}

type failure struct {
	status  int
	message string
}

// Gate holds requests for one route until released.
type Gate struct {
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	oneShot  bool
	consumed bool
}

// Entered receives once per request that reached the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets every held and future request through.
func (g *Gate) Release() { g.once.Do(func() { close(g.release) }) }

// Backend is a fake of the marketplace REST API mounted under /api.
type Backend struct {
	mu        sync.Mutex
	users     map[int64]*User
	artworks  map[int64]artwork
	messages  []domain.Message
	orders    []domain.Order
	revoked   map[string]bool
	failures  map[string][]failure
	gates     map[string]*Gate
	calls     map[string]int
	nextMsg   int64
	nextOrder int64
	now       func() time.Time
	secret    []byte

	server *httptest.Server
}

// New starts a backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	b := NewUnstarted()
	b.server = httptest.NewServer(b.Handler())
	t.Cleanup(b.Close)
	return b
}

// NewUnstarted returns a backend without a listener; serve Handler yourself.
func NewUnstarted() *Backend {
	return &Backend{
		users:     map[int64]*User{},
		artworks:  map[int64]artwork{},
		revoked:   map[string]bool{},
		failures:  map[string][]failure{},
		gates:     map[string]*Gate{},
		calls:     map[string]int{},
		nextMsg:   1,
		nextOrder: 1,
		now:       time.Now,
		secret:    []byte("apitest-secret"),
	}
}

// URL is the API base URL, including the /api prefix.
func (b *Backend) URL() string {
	return b.server.URL + "/api"
}

// Close stops the listener and releases any held request.
func (b *Backend) Close() {
	b.mu.Lock()
	for _, g := range b.gates {
		g.Release()
	}
	b.mu.Unlock()
	if b.server != nil {
		b.server.Close()
	}
}

// Handler exposes the router.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", b.route("/auth/login", false, b.handleLogin))
		api.Get("/auth/verify", b.route("/auth/verify", true, b.handleVerify))

		api.Get("/messages", b.route("/messages", true, b.handleInbox))
		api.Post("/messages/send", b.route("/messages/send", true, b.handleSend))
		api.Get("/messages/conversation/{peerId}", b.route("/messages/conversation/{peerId}", true, b.handleConversation))
		api.Patch("/messages/{id}/read", b.route("/messages/{id}/read", true, b.handleMarkRead))
		api.Post("/messages/{id}/reply", b.route("/messages/{id}/reply", true, b.handleReply))
		api.Delete("/messages/{id}", b.route("/messages/{id}", true, b.handleDelete))

		api.Post("/orders", b.route("/orders", true, b.handleCreateOrder))
		api.Get("/orders/customer", b.route("/orders/customer", true, b.handleCustomerOrders))
		api.Get("/orders/artist", b.route("/orders/artist", true, b.handleArtistOrders))
		api.Get("/admin/orders", b.route("/admin/orders", true, b.handleAdminOrders))
		api.Put("/admin/orders/{id}/status", b.route("/admin/orders/{id}/status", true, b.handleAdminStatus))
	})
	return r
}

// AddUser registers an account. A zero ID is assigned automatically.
func (b *Backend) AddUser(u User) User {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == 0 {
		for id := range b.users {
			u.ID = max(u.ID, id)
		}
		u.ID++
	}
	if u.Role == "" {
		u.Role = domain.RoleCollector
	}
	stored := u
	b.users[u.ID] = &stored
	return u
}

// AddArtwork registers an artwork that can be ordered.
func (b *Backend) AddArtwork(id int64, title string, artistID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artworks[id] = artwork{ID: id, Title: title, ArtistID: artistID}
}

// Token mints a valid bearer token for userID.
func (b *Backend) Token(userID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mintLocked(userID)
}

// Revoke makes token fail with 401 from now on.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = true
}

// FailNext makes the next request to route fail with status and message. Calls queue up.
func (b *Backend) FailNext(route string, status int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = append(b.failures[route], failure{status: status, message: message})
}

// Hold blocks requests to route until the returned gate is released.
func (b *Backend) Hold(route string) *Gate {
	return b.hold(route, false)
}

// HoldOnce blocks only the next request to route.
func (b *Backend) HoldOnce(route string) *Gate {
	return b.hold(route, true)
}

func (b *Backend) hold(route string, oneShot bool) *Gate {
	g := &Gate{entered: make(chan struct{}, 64), release: make(chan struct{}), oneShot: oneShot}
	b.mu.Lock()
	b.gates[route] = g
	b.mu.Unlock()
	return g
}

// Calls returns how many requests reached route.
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// AddMessage seeds a message and returns it as the backend stores it.
func (b *Backend) AddMessage(senderID, recipientID int64, content string, at time.Time) domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertMessageLocked(senderID, recipientID, content, at)
}

// Messages returns a copy of every stored message.
func (b *Backend) Messages() []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Orders returns a copy of every stored order.
func (b *Backend) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// route wraps a handler with call counting, failure injection, gates and optional auth.
func (b *Backend) route(pattern string, auth bool, next func(http.ResponseWriter, *http.Request, *User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[pattern]++
		gate := b.gates[pattern]
		if gate != nil && gate.oneShot {
			if gate.consumed {
				gate = nil
			} else {
				gate.consumed = true
			}
		}
		var fail *failure
		if queue := b.failures[pattern]; len(queue) > 0 {
			f := queue[0]
			fail = &f
			b.failures[pattern] = queue[1:]
		}
		b.mu.Unlock()

		if gate != nil {
			select {
			case gate.entered <- struct{}{}:
			default:
			}
			select {
			case <-gate.release:
			case <-r.Context().Done():
				return
			}
		}

		if fail != nil {
			writeError(w, fail.status, fail.message)
			return
		}

		var user *User
		if auth {
			u, err := b.authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			user = u
		}
		next(w, r, user)
	}
}

func (b *Backend) authenticate(r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revoked[raw] {
		return nil, errors.New("token revoked")
	}
	u, ok := b.users[id]
	if !ok {
		return nil, errors.New("unknown user")
	}
	copied := *u
	return &copied, nil
}

func (b *Backend) mintLocked(userID int64) string {
	now := b.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		// Unique per mint so revoking one token leaves later ones valid.
		ID: fmt.Sprintf("%d-%d", userID, now.UnixNano()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		panic(fmt.Sprintf("apitest: sign token: %v", err))
	}
	return token
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request, _ *User) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	b.mu.Lock()
	var match *User
	for _, u := range b.users {
		if strings.EqualFold(u.Email, body.Email) && u.Password == body.Password {
			match = u
			break
		}
	}
	if match == nil {
		b.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token := b.mintLocked(match.ID)
	user := *match
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"username": user.Email,
		"email":    user.Email,
		"role":     string(user.Role),
		"message":  "Login successful",
	})
}

func (b *Backend) handleVerify(w http.ResponseWriter, _ *http.Request, user *User) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Email,
		"role":     string(user.Role),
		"message":  "Token is valid",
	})
}

func (b *Backend) handleInbox(w http.ResponseWriter, _ *http.Request, user *User) {
	b.mu.Lock()
	out := make([]map[string]any, 0)
	for _, m := range b.messages {
		if m.RecipientID == user.ID {
			out = append(out, b.messageJSONLocked(m))
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleConversation(w http.ResponseWriter, r *http.Request, user *User) {
	peerID, ok := pathID(w, r, "peerId")
	if !ok {
		return
	}
	b.mu.Lock()
	if _, exists := b.users[peerID]; !exists {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	convo := make([]domain.Message, 0)
	for _, m := range b.messages {
		if m.Between(user.ID, peerID) {
			convo = append(convo, m)
		}
	}
	sort.SliceStable(convo, func(i, j int) bool { return convo[i].CreatedAt.Before(convo[j].CreatedAt) })
	out := make([]map[string]any, 0, len(convo))
	for _, m := range convo {
		out = append(out, b.messageJSONLocked(m))
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleSend(w http.ResponseWriter, r *http.Request, user *User) {
	var body struct {
		RecipientID int64  `json:"recipientId"`
		Content     string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	b.mu.Lock()
	if _, exists := b.users[body.RecipientID]; !exists {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "Recipient not found")
		return
	}
	msg := b.insertMessageLocked(user.ID, body.RecipientID, body.Content, b.now())
	out := b.messageJSONLocked(msg)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleMarkRead(w http.ResponseWriter, r *http.Request, user *User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.messages {
		if b.messages[i].ID != id {
			continue
		}
		if b.messages[i].RecipientID != user.ID {
			writeError(w, http.StatusForbidden, "Not allowed")
			return
		}
		b.messages[i].Read = true
		writeJSON(w, http.StatusOK, map[string]string{"message": "Marked as read"})
		return
	}
	writeError(w, http.StatusNotFound, "Message not found")
}

func (b *Backend) handleReply(w http.ResponseWriter, r *http.Request, user *User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages {
		if m.ID != id {
			continue
		}
		if m.RecipientID != user.ID {
			writeError(w, http.StatusForbidden, "Not allowed")
			return
		}
		reply := b.insertMessageLocked(user.ID, m.SenderID, body.Content, b.now())
		writeJSON(w, http.StatusOK, b.messageJSONLocked(reply))
		return
	}
	writeError(w, http.StatusNotFound, "Message not found")
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request, user *User) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.messages {
		if m.ID != id {
			continue
		}
		if m.SenderID != user.ID && m.RecipientID != user.ID {
			writeError(w, http.StatusForbidden, "Not allowed")
			return
		}
		b.messages = append(b.messages[:i], b.messages[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, http.StatusNotFound, "Message not found")
}

func (b *Backend) handleCreateOrder(w http.ResponseWriter, r *http.Request, user *User) {
	var body struct {
		ArtworkID     int64  `json:"artworkId"`
		PhoneNumber   string `json:"phoneNumber"`
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	method, ok := domain.ParsePaymentMethod(body.PaymentMethod)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unsupported payment method")
		return
	}
	if len(body.PhoneNumber) != 10 {
		writeError(w, http.StatusBadRequest, "Invalid phone number")
		return
	}
	b.mu.Lock()
	art, exists := b.artworks[body.ArtworkID]
	if !exists {
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "Artwork not found")
		return
	}
	order := domain.Order{
		ID:            b.nextOrder,
		ArtworkID:     art.ID,
		ArtworkTitle:  art.Title,
		CustomerID:    user.ID,
		PhoneNumber:   body.PhoneNumber,
		PaymentMethod: method,
		PaymentStatus: domain.StatusPendingPayment,
		CreatedAt:     b.now().UTC(),
	}
	b.nextOrder++
	b.orders = append(b.orders, order)
	out := orderJSON(order)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleCustomerOrders(w http.ResponseWriter, _ *http.Request, user *User) {
	b.writeOrders(w, func(o domain.Order) bool { return o.CustomerID == user.ID })
}

func (b *Backend) handleArtistOrders(w http.ResponseWriter, _ *http.Request, user *User) {
	b.writeOrders(w, func(o domain.Order) bool { return b.artworks[o.ArtworkID].ArtistID == user.ID })
}

func (b *Backend) handleAdminOrders(w http.ResponseWriter, _ *http.Request, user *User) {
	if user.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	b.writeOrders(w, func(domain.Order) bool { return true })
}

func (b *Backend) handleAdminStatus(w http.ResponseWriter, r *http.Request, user *User) {
	if user.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status, valid := domain.ParsePaymentStatus(r.URL.Query().Get("status"))
	if !valid {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.orders {
		if b.orders[i].ID == id {
			b.orders[i].PaymentStatus = status
			writeJSON(w, http.StatusOK, orderJSON(b.orders[i]))
			return
		}
	}
	writeError(w, http.StatusNotFound, "Order not found")
}

// writeOrders holds the lock while filtering; keep must not lock.
func (b *Backend) writeOrders(w http.ResponseWriter, keep func(domain.Order) bool) {
	b.mu.Lock()
	out := make([]map[string]any, 0)
	for _, o := range b.orders {
		if keep(o) {
			out = append(out, orderJSON(o))
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) insertMessageLocked(senderID, recipientID int64, content string, at time.Time) domain.Message {
	msg := domain.Message{
		ID:          b.nextMsg,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   at.UTC().Truncate(time.Microsecond),
	}
	b.nextMsg++
	b.messages = append(b.messages, msg)
	return msg
}

func (b *Backend) messageJSONLocked(m domain.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"content":   m.Content,
		"subject":   m.Subject,
		"createdAt": m.CreatedAt.UTC().Format(wireTimeLayout),
		"read":      m.Read,
		"sender":    b.userJSONLocked(m.SenderID),
		"recipient": b.userJSONLocked(m.RecipientID),
	}
}

func (b *Backend) userJSONLocked(id int64) map[string]any {
	u, ok := b.users[id]
	if !ok {
		return map[string]any{"id": id}
	}
	return map[string]any{
		"id":        u.ID,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
	}
}

func orderJSON(o domain.Order) map[string]any {
	return map[string]any{
		"id":            o.ID,
		"artwork":       map[string]any{"id": o.ArtworkID, "title": o.ArtworkTitle},
		"customer":      map[string]any{"id": o.CustomerID},
		"phoneNumber":   o.PhoneNumber,
		"paymentMethod": string(o.PaymentMethod),
		"paymentStatus": string(o.PaymentStatus),
		"createdAt":     o.CreatedAt.UTC().Format(wireTimeLayout),
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
