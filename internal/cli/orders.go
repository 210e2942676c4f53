package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gallerio/internal/api"
	"gallerio/internal/domain"
	"gallerio/internal/nav"
	"gallerio/internal/order"
)

func newOrderCmd(flags *rootFlags) *cobra.Command {
	var method, phone string
	cmd := &cobra.Command{
		Use:   "order <artworkId>",
		Short: "Buy an artwork with mobile money",
		Long: `Walks through the checkout: pick MTN or Airtel, enter the 10 digit number
and confirm the USSD prompt on your phone. Type "back" at the phone prompt to change provider.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artworkID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || artworkID <= 0 {
				return fmt.Errorf("invalid artwork id %q", args[0])
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if _, ok := a.session.Current(); !ok {
					a.navigator.Navigate(nav.Login)
					return errSessionEnded
				}
				return runOrder(ctx, a, artworkID, method, phone)
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "payment method: mtn or airtel")
	cmd.Flags().StringVar(&phone, "phone", "", "mobile money number")
	return cmd
}

func runOrder(ctx context.Context, a *app, artworkID int64, method, phone string) error {
	opts := order.Options{
		ConfirmDelay: a.cfg.ConfirmDelay,
		Navigator:    a.navigator,
		Metrics:      a.metrics,
		Logger:       a.logger,
	}
	if a.ledger != nil {
		opts.Ledger = a.ledger
	}
	w := order.New(a.client, opts)
	defer w.Close()

	if err := w.Open(artworkID); err != nil {
		return err
	}
	scripted := method != "" && phone != ""

	for {
		if w.View().Phase == order.PhaseMethodSelect {
			choice := method
			method = ""
			if choice == "" {
				var err error
				if choice, err = a.prompt("Pay with (mtn/airtel): "); err != nil {
					return err
				}
			}
			if err := w.SelectMethod(domain.PaymentMethod(choice)); err != nil {
				if scripted {
					return err
				}
				a.printf("Choose mtn or airtel.\n")
				continue
			}
		}

		input := phone
		phone = ""
		if input == "" {
			var err error
			label := fmt.Sprintf("%s number: ", w.View().Method.Label())
			if input, err = a.prompt(label); err != nil {
				return err
			}
		}
		if strings.EqualFold(strings.TrimSpace(input), "back") {
			_ = w.Back()
			continue
		}

		view, err := w.SetPhone(input)
		if err != nil {
			return err
		}
		if !view.CanSubmit {
			msg := view.Error
			if msg == "" {
				msg = fmt.Sprintf("Enter all %d digits.", order.PhoneDigits)
			}
			if scripted {
				return errors.New(msg)
			}
			a.printf("%s\n", msg)
			continue
		}

		if err := w.Submit(ctx); err != nil {
			msg := w.View().Error
			if msg == "" {
				msg = api.Describe(err, "Failed to place order. Please try again.")
			}
			if scripted {
				return errors.New(msg)
			}
			a.printf("%s\n", msg)
			continue
		}
		break
	}

	a.printf("%s\n", w.View().Confirmation)
	return waitForRoute(ctx, a.navigator, nav.Orders, a.cfg.ConfirmDelay+5*time.Second)
}

func waitForRoute(ctx context.Context, n *terminalNavigator, route string, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	for {
		select {
		case got := <-n.C():
			if got == route {
				return nil
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func newOrdersCmd(flags *rootFlags) *cobra.Command {
	var as string
	var local bool
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if local {
					return printReceipts(ctx, a)
				}
				identity, ok := a.session.Current()
				if !ok {
					a.navigator.Navigate(nav.Login)
					return errSessionEnded
				}
				view := strings.ToLower(strings.TrimSpace(as))
				if view == "" {
					switch identity.Role {
					case domain.RoleArtist:
						view = "artist"
					case domain.RoleAdmin:
						view = "admin"
					default:
						view = "customer"
					}
				}

				var (
					orders []domain.Order
					err    error
				)
				switch view {
				case "customer":
					orders, err = a.client.CustomerOrders(ctx)
				case "artist":
					orders, err = a.client.ArtistOrders(ctx)
				case "admin":
					orders, err = a.client.AdminOrders(ctx)
				default:
					return fmt.Errorf("unknown view %q (customer, artist, admin)", as)
				}
				if err != nil {
					return errors.New(api.Describe(err, "Failed to load orders."))
				}
				printOrders(a, orders)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "customer, artist or admin (defaults to your role)")
	cmd.Flags().BoolVar(&local, "local", false, "show receipts from the local ledger")
	cmd.AddCommand(newSetStatusCmd(flags))
	return cmd
}

func newSetStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <orderId> <PENDING_PAYMENT|PAID>",
		Short: "Move an order to another payment status (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseID(args[0], "order")
			if err != nil {
				return err
			}
			status, ok := domain.ParsePaymentStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q (PENDING_PAYMENT, PAID)", args[1])
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := requireSession(a); err != nil {
					return err
				}
				updated, err := a.client.AdminUpdateOrderStatus(ctx, orderID, status)
				if err != nil {
					return errors.New(api.Describe(err, "Failed to update the order."))
				}
				a.printf("Order %d is now %s.\n", updated.ID, updated.PaymentStatus)
				return nil
			})
		},
	}
}

func printOrders(a *app, orders []domain.Order) {
	if len(orders) == 0 {
		a.printf("No orders yet.\n")
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tARTWORK\tMETHOD\tPHONE\tSTATUS\tCREATED")
	for _, o := range orders {
		title := o.ArtworkTitle
		if title == "" {
			title = fmt.Sprintf("#%d", o.ArtworkID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", o.ID, title, o.PaymentMethod.Label(), o.PhoneNumber, o.PaymentStatus, formatTime(o.CreatedAt))
	}
	_ = tw.Flush()
}

func printReceipts(ctx context.Context, a *app) error {
	if a.ledger == nil {
		return errors.New("the local ledger is disabled (set GALLERIO_LEDGER_DRIVER)")
	}
	var customerID int64
	if identity, ok := a.session.Current(); ok {
		customerID = identity.ID
	}
	receipts, err := a.ledger.ListReceipts(ctx, customerID, 50)
	if err != nil {
		return fmt.Errorf("list receipts: %w", err)
	}
	if len(receipts) == 0 {
		a.printf("No receipts recorded.\n")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tARTWORK\tMETHOD\tPHONE\tSTATUS\tUPDATED")
	for _, r := range receipts {
		title := r.ArtworkTitle
		if title == "" {
			title = fmt.Sprintf("#%d", r.ArtworkID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.OrderID, title, domain.PaymentMethod(r.PaymentMethod).Label(), r.PhoneNumber, r.Status, formatTime(r.UpdatedAt))
	}
	return tw.Flush()
}

func newInboxCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "List received messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if _, ok := a.session.Current(); !ok {
					a.navigator.Navigate(nav.Login)
					return errSessionEnded
				}
				msgs, err := a.client.Inbox(ctx)
				if err != nil {
					return errors.New(api.Describe(err, "Failed to load messages."))
				}
				if len(msgs) == 0 {
					a.printf("Inbox is empty.\n")
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFROM\tRECEIVED\t\tMESSAGE")
				for _, m := range msgs {
					unread := ""
					if !m.Read {
						unread = "*"
					}
					from := m.Sender.Name()
					if from == "" {
						from = fmt.Sprintf("#%d", m.SenderID)
					}
					fmt.Fprintf(tw, "%d\t%s (%d)\t%s\t%s\t%s\n", m.ID, from, m.SenderID, formatTime(m.CreatedAt), unread, m.Content)
				}
				return tw.Flush()
			})
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
