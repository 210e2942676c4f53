package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gallerio/internal/api"
	"gallerio/internal/nav"
)

func newReplyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reply <messageId> <text>...",
		Short: "Answer the sender of a message from your inbox",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return errors.New("message is empty")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := requireSession(a); err != nil {
					return err
				}
				sent, err := a.client.Reply(ctx, messageID, content)
				if err != nil {
					return errors.New(api.Describe(err, "Failed to send reply. Please try again."))
				}
				a.printf("Replied to #%d (message %d).\n", sent.RecipientID, sent.ID)
				return nil
			})
		},
	}
}

func newDeleteMessageCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <messageId>",
		Short: "Delete a message you sent or received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if err := requireSession(a); err != nil {
					return err
				}
				if err := a.client.DeleteMessage(ctx, messageID); err != nil {
					return errors.New(api.Describe(err, "Failed to delete message."))
				}
				a.printf("Message %d deleted.\n", messageID)
				return nil
			})
		},
	}
}

func requireSession(a *app) error {
	if _, ok := a.session.Current(); !ok {
		a.navigator.Navigate(nav.Login)
		return errSessionEnded
	}
	return nil
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}
