// Package order implements the mobile-money checkout wizard for a single artwork.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gallerio/internal/api"
	"gallerio/internal/domain"
	"gallerio/internal/metrics"
	"gallerio/internal/nav"
	"gallerio/internal/repo"
)

const (
	// DefaultConfirmDelay is how long the confirmation stays up before the wizard closes.
	DefaultConfirmDelay = 3000 * time.Millisecond

	// ConfirmationMessage is shown once the order has been accepted.
	ConfirmationMessage = "Order placed! Check your phone for a USSD prompt and enter your PIN to complete the payment."

	submitFailedMessage = "Failed to place order. Please try again."
)

var (
	ErrWrongPhase     = errors.New("action not available in the current step")
	ErrInvalidPhone   = errors.New("phone number is not valid for the selected method")
	ErrSubmitting     = errors.New("order submission already in progress")
	ErrClosed         = errors.New("wizard closed before the order completed")
	ErrUnknownMethod  = errors.New("unknown payment method")
	ErrMissingArtwork = errors.New("artwork id is required")
)

type Phase int

const (
	PhaseClosed Phase = iota
	PhaseMethodSelect
	PhasePhoneEntry
	PhaseConfirming
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "CLOSED"
	case PhaseMethodSelect:
		return "METHOD_SELECT"
	case PhasePhoneEntry:
		return "PHONE_ENTRY"
	case PhaseConfirming:
		return "CONFIRMING"
	default:
		return "UNKNOWN"
	}
}

// Submitter creates orders on the backend.
type Submitter interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
}

// ReceiptLedger keeps a local receipt of every accepted order.
type ReceiptLedger interface {
	InsertReceipt(ctx context.Context, receipt repo.Receipt) (*repo.Receipt, error)
}

// Stopper cancels a scheduled call. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

// View is a copy of the wizard state for rendering. Error holds the phone validation message,
// or the last submit failure while the input itself is valid.
type View struct {
	Phase        Phase
	ArtworkID    int64
	Method       domain.PaymentMethod
	Phone        string
	Error        string
	Confirmation string
	Submitting   bool
	CanSubmit    bool
}

type Options struct {
	ConfirmDelay time.Duration
	// AfterFunc schedules the auto-close; defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Stopper
	Ledger    ReceiptLedger
	Navigator nav.Navigator
	// OnChange is called after every state change, outside the wizard lock.
	OnChange func(View)
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Wizard walks a buyer through method selection, phone entry and submission.
// Phone input shorter than a provider prefix shows no error while it can still become one
// ("07" for mtn); such input is never submittable.
type Wizard struct {
	submitter Submitter
	delay     time.Duration
	afterFunc func(time.Duration, func()) Stopper
	ledger    ReceiptLedger
	navigator nav.Navigator
	onChange  func(View)
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu           sync.Mutex
	phase        Phase
	artworkID    int64
	method       domain.PaymentMethod
	phone        string
	errMsg       string
	submitErr    string
	confirmation string
	submitting   bool
	// epoch changes on every open and close so late results can tell they are stale.
	epoch uint64
	timer Stopper
}

// New returns a closed wizard.
func New(submitter Submitter, opts Options) *Wizard {
	delay := opts.ConfirmDelay
	if delay <= 0 {
		delay = DefaultConfirmDelay
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
	}
	navigator := opts.Navigator
	if navigator == nil {
		navigator = nav.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wizard{
		submitter: submitter,
		delay:     delay,
		afterFunc: afterFunc,
		ledger:    opts.Ledger,
		navigator: navigator,
		onChange:  opts.OnChange,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "order_wizard"),
	}
}

// Open starts a purchase of artworkID at method selection, discarding anything left over.
func (w *Wizard) Open(artworkID int64) error {
	if artworkID <= 0 {
		return ErrMissingArtwork
	}
	w.mu.Lock()
	w.resetLocked()
	w.phase = PhaseMethodSelect
	w.artworkID = artworkID
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
	return nil
}

// Close resets every field from any phase and cancels a pending auto-close.
func (w *Wizard) Close() {
	w.mu.Lock()
	w.resetLocked()
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
}

// SelectMethod picks the provider and moves to phone entry.
func (w *Wizard) SelectMethod(method domain.PaymentMethod) error {
	parsed, ok := domain.ParsePaymentMethod(string(method))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	w.mu.Lock()
	if w.phase != PhaseMethodSelect {
		w.mu.Unlock()
		return ErrWrongPhase
	}
	w.method = parsed
	w.phone = ""
	w.errMsg = ""
	w.submitErr = ""
	w.phase = PhasePhoneEntry
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
	return nil
}

// Back returns from phone entry to method selection.
func (w *Wizard) Back() error {
	w.mu.Lock()
	if w.phase != PhasePhoneEntry || w.submitting {
		w.mu.Unlock()
		return ErrWrongPhase
	}
	w.phase = PhaseMethodSelect
	w.method = ""
	w.phone = ""
	w.errMsg = ""
	w.submitErr = ""
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
	return nil
}

// SetPhone replaces the phone field with the digits of input and revalidates it. A prefix that
// can still grow into an allowed one (such as "07") carries no error yet; CanSubmit stays false
// until all ten digits are in.
func (w *Wizard) SetPhone(input string) (View, error) {
	w.mu.Lock()
	if w.phase != PhasePhoneEntry || w.submitting {
		view := w.viewLocked()
		w.mu.Unlock()
		return view, ErrWrongPhase
	}
	w.phone = CleanPhone(input)
	w.errMsg = ValidatePhone(w.method, w.phone)
	w.submitErr = ""
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
	return view, nil
}

// CanSubmit reports whether Submit would send a request.
func (w *Wizard) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSubmitLocked()
}

// View returns the current state.
func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Submit places the order. On success the wizard shows the confirmation and closes itself after
// the confirm delay, then navigates to the orders list. On failure it stays on phone entry with
// the input intact and the error set; calling Submit again retries with the same input.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.phase != PhasePhoneEntry {
		w.mu.Unlock()
		return ErrWrongPhase
	}
	if w.submitting {
		w.mu.Unlock()
		return ErrSubmitting
	}
	if !w.canSubmitLocked() {
		w.mu.Unlock()
		return ErrInvalidPhone
	}
	w.submitting = true
	w.submitErr = ""
	epoch := w.epoch
	req := domain.OrderRequest{ArtworkID: w.artworkID, PhoneNumber: w.phone, PaymentMethod: w.method}
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)

	created, err := w.submitter.CreateOrder(ctx, req)

	if err == nil {
		w.record(ctx, req, created)
	}

	w.mu.Lock()
	if epoch != w.epoch {
		w.mu.Unlock()
		w.count(req.PaymentMethod, "discarded")
		w.logger.Info("order result arrived after the wizard closed", "artwork_id", req.ArtworkID, "error", err)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return ErrClosed
	}
	w.submitting = false

	if err != nil {
		w.submitErr = api.Describe(err, submitFailedMessage)
		view = w.viewLocked()
		w.mu.Unlock()
		w.notify(view)
		w.count(req.PaymentMethod, "error")
		w.logger.Warn("create order failed", "artwork_id", req.ArtworkID, "method", req.PaymentMethod, "error", err)
		return fmt.Errorf("create order: %w", err)
	}

	w.phase = PhaseConfirming
	w.confirmation = ConfirmationMessage
	w.timer = w.afterFunc(w.delay, func() { w.autoClose(epoch) })
	view = w.viewLocked()
	w.mu.Unlock()
	w.notify(view)

	w.count(req.PaymentMethod, "ok")
	w.logger.Info("order placed", "order_id", created.ID, "artwork_id", req.ArtworkID, "method", req.PaymentMethod)
	return nil
}

func (w *Wizard) autoClose(epoch uint64) {
	w.mu.Lock()
	if epoch != w.epoch || w.phase != PhaseConfirming {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.resetLocked()
	view := w.viewLocked()
	w.mu.Unlock()
	w.notify(view)
	w.navigator.Navigate(nav.Orders)
}

func (w *Wizard) record(ctx context.Context, req domain.OrderRequest, created *domain.Order) {
	if w.ledger == nil || created == nil {
		return
	}
	receipt := repo.Receipt{
		OrderID:       created.ID,
		CustomerID:    created.CustomerID,
		ArtworkID:     req.ArtworkID,
		ArtworkTitle:  created.ArtworkTitle,
		PhoneNumber:   req.PhoneNumber,
		PaymentMethod: string(req.PaymentMethod),
		Status:        string(domain.StatusPendingPayment),
	}
	if _, err := w.ledger.InsertReceipt(context.WithoutCancel(ctx), receipt); err != nil {
		w.logger.Warn("record receipt failed", "order_id", created.ID, "error", err)
	}
}

// resetLocked returns to CLOSED with empty fields and invalidates in-flight work.
func (w *Wizard) resetLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.epoch++
	w.phase = PhaseClosed
	w.artworkID = 0
	w.method = ""
	w.phone = ""
	w.errMsg = ""
	w.submitErr = ""
	w.confirmation = ""
	w.submitting = false
}

func (w *Wizard) canSubmitLocked() bool {
	return w.phase == PhasePhoneEntry && !w.submitting && w.errMsg == "" && Submittable(w.method, w.phone)
}

func (w *Wizard) viewLocked() View {
	errMsg := w.errMsg
	if errMsg == "" {
		errMsg = w.submitErr
	}
	return View{
		Phase:        w.phase,
		ArtworkID:    w.artworkID,
		Method:       w.method,
		Phone:        w.phone,
		Error:        errMsg,
		Confirmation: w.confirmation,
		Submitting:   w.submitting,
		CanSubmit:    w.canSubmitLocked(),
	}
}

func (w *Wizard) notify(view View) {
	if w.onChange != nil {
		w.onChange(view)
	}
}

func (w *Wizard) count(method domain.PaymentMethod, status string) {
	if w.metrics != nil {
		w.metrics.OrdersSubmitted.WithLabelValues(string(method), status).Inc()
	}
}
