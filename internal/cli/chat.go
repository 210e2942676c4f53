package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gallerio/internal/convo"
	"gallerio/internal/nav"
	"gallerio/internal/session"
)

var errSessionEnded = errors.New("session ended")

func newChatCmd(flags *rootFlags) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "chat <peerId>",
		Short: "Open a live conversation with another user",
		Long: `Shows the conversation and refreshes it in the background. Type a line to send it.
Commands: /retry reloads after a failure, /quit leaves.

With --history the messages sent to the peer from this device are listed from the local
ledger instead, without contacting the backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peerID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || peerID <= 0 {
				return fmt.Errorf("invalid peer id %q", args[0])
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if history > 0 {
					return printHistory(ctx, a, peerID, history)
				}
				return runChat(ctx, a, peerID)
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "list the last N messages sent from this device and exit")
	return cmd
}

func printHistory(ctx context.Context, a *app, peerID int64, limit int) error {
	if a.ledger == nil {
		return errors.New("the local ledger is disabled (ledgerDriver: none)")
	}
	self, ok := a.session.Current()
	if !ok {
		a.navigator.Navigate(nav.Login)
		return errSessionEnded
	}
	records, err := a.ledger.ListRecentMessages(ctx, self.ID, peerID, limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(records) == 0 {
		a.printf("Nothing sent to #%d from this device yet.\n", peerID)
		return nil
	}
	// Oldest first, like the live view.
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		a.printf("[%s] You: %s\n", rec.CreatedAt.Local().Format("Jan 2 15:04"), rec.Content)
	}
	return nil
}

func runChat(parent context.Context, a *app, peerID int64) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	view := &chatView{out: a.out, printed: map[int64]bool{}}
	opts := convo.Options{
		PollInterval: a.cfg.PollInterval,
		MarkRead:     true,
		Navigator:    a.navigator,
		Metrics:      a.metrics,
		Logger:       a.logger,
	}
	if a.ledger != nil {
		opts.Ledger = a.ledger
	}
	engine := convo.New(a.client, a.session, view, opts)
	defer engine.Close()

	events, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	if err := engine.Open(ctx, peerID); err != nil {
		return err
	}

	// The reader is not part of the group: a blocked terminal read cannot be interrupted.
	lines := make(chan string)
	go readLines(ctx, a.input, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case evt := <-events:
				if evt.Kind == session.Invalidated || evt.Kind == session.LoggedOut {
					return errSessionEnded
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		for {
			var line string
			var ok bool
			select {
			case <-gctx.Done():
				return nil
			case line, ok = <-lines:
				if !ok {
					return nil
				}
			}
			switch text := strings.TrimSpace(line); text {
			case "":
			case "/quit":
				return nil
			case "/retry":
				if err := engine.Retry(gctx); err != nil {
					view.notice("%v", err)
				}
			default:
				err := engine.Send(gctx, text)
				if errors.Is(err, convo.ErrNotAuthenticated) {
					return errSessionEnded
				}
				if errors.Is(err, convo.ErrNotOpen) || errors.Is(err, convo.ErrSendInProgress) {
					view.notice("%v", err)
				}
			}
		}
	})
	return g.Wait()
}

func readLines(ctx context.Context, r *bufio.Reader, out chan<- string) {
	defer close(out)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case out <- strings.TrimRight(line, "\r\n"):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// chatView prints each message once, in order, and reports errors as they appear.
type chatView struct {
	mu          sync.Mutex
	out         io.Writer
	printed     map[int64]bool
	lastErr     string
	lastSendErr string
}

func (v *chatView) OnChange(s convo.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.State == convo.StateLoading && len(s.Messages) == 0 {
		return
	}
	for _, entry := range s.Messages {
		if v.printed[entry.ID] {
			continue
		}
		v.printed[entry.ID] = true
		who := entry.Sender.Name()
		if entry.Sent {
			who = "You"
		}
		if who == "" {
			who = fmt.Sprintf("#%d", entry.SenderID)
		}
		fmt.Fprintf(v.out, "[%s] %s: %s\n", entry.CreatedAt.Local().Format("Jan 2 15:04"), who, entry.Content)
	}
	if s.Error != v.lastErr {
		v.lastErr = s.Error
		if s.Error != "" {
			fmt.Fprintf(v.out, "! %s Type /retry to try again.\n", s.Error)
		}
	}
	if s.SendError != v.lastSendErr {
		v.lastSendErr = s.SendError
		if s.SendError != "" {
			fmt.Fprintf(v.out, "! %s\n", s.SendError)
		}
	}
}

func (v *chatView) ScrollToLatest() {}

func (v *chatView) notice(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "! "+format+"\n", args...)
}
