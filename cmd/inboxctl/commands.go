package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"inboxsync/internal/domain"
	"inboxsync/internal/session"
	"inboxsync/internal/snapshot"
	"inboxsync/internal/view"
)

const maxListPages = 20

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and print a fresh access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			token, err := c.Login(cmd.Context(), a.cfg.Username, a.cfg.Password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Print the inbox once",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			// Load never touches a store, so none is attached
			l := snapshot.NewLoader(c, nil, snapshot.Options{
				PageSize: a.cfg.PageSize,
				Timeout:  a.cfg.RequestTimeout,
				Sort:     string(q.Sort),
				Logger:   a.logger,
			})
			all, err := loadAll(cmd.Context(), l, a.cfg.PageSize)
			if err != nil {
				return err
			}
			printInbox(cmd.OutOrStdout(), view.Compute(all, q, time.Now()), nil)
			return nil
		},
	}
	qf.register(cmd)
	return cmd
}

// loadAll reads pages until the server reports no more, capped at
// maxListPages.
func loadAll(ctx context.Context, l *snapshot.Loader, pageSize int) ([]domain.ConversationSummary, error) {
	var all []domain.ConversationSummary
	for page := 1; page <= maxListPages; page++ {
		res, err := l.Load(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, res.Items...)
		if !res.HasMore {
			break
		}
	}
	return all, nil
}

func newWatchCmd(a *app) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the inbox live and reprint it on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			s.SetQuickFilter(q.Quick)
			s.SetFilters(q.Filters)
			s.SetDateRange(q.Range)
			s.SetSort(q.Sort)
			s.SetSearch(q.Search)

			changes, cancel := s.Changes()
			defer cancel()
			out := cmd.OutOrStdout()
			tick := time.NewTicker(5 * time.Second)
			defer tick.Stop()
			var lastStatus string
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changes:
				case <-tick.C:
					if string(s.Status()) == lastStatus {
						continue
					}
				}
				lastStatus = string(s.Status())
				fmt.Fprintf(out, "\n[%s] %s  more=%t\n", time.Now().Format(time.TimeOnly), lastStatus, s.HasMore())
				printInbox(out, s.View(), s)
			}
		},
	}
	qf.register(cmd)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete CONVERSATION_ID...",
		Aliases: []string{"rm"},
		Short:   "Delete conversations from the inbox",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			s.Selection().Select(args...)
			if err := s.BulkDelete(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d conversation(s)\n", len(args))
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "send CONVERSATION_ID TEXT...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			msg, err := c.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "), domain.MessageType(typ))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(domain.MessageText), "message type")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit CONVERSATION_ID MESSAGE_ID TEXT...",
		Short: "Replace the text of one of your messages",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			_, err = c.EditMessage(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "))
			return err
		},
	}
}

func newUnsendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unsend CONVERSATION_ID MESSAGE_ID",
		Short: "Delete one of your messages for everyone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return c.DeleteMessage(cmd.Context(), args[0], args[1])
		},
	}
}

func newOpenCmd(a *app) *cobra.Command {
	var productID, productTitle string
	cmd := &cobra.Command{
		Use:   "open USER_ID",
		Short: "Open a conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var product *domain.Product
			if productID != "" {
				product = &domain.Product{ID: productID, Title: productTitle}
			}
			conv, err := c.CreateConversation(cmd.Context(), args[0], product)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&productID, "product-id", "", "product the conversation is about")
	cmd.Flags().StringVar(&productTitle, "product-title", "", "title of that product")
	return cmd
}

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read CONVERSATION_ID",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return c.MarkRead(cmd.Context(), args[0])
		},
	}
}

func newUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the users a conversation can be opened with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			users, err := c.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tONLINE")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%t\n", u.ID, u.DisplayName, u.IsOnline)
			}
			return w.Flush()
		},
	}
}

// printInbox renders one row per conversation. With a live session the
// typing and online columns are filled in.
func printInbox(out io.Writer, list []domain.ConversationSummary, s *session.Session) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tUNREAD\tUPDATED\tLAST MESSAGE")
	for _, c := range list {
		name := c.OtherParticipant.DisplayName
		if s != nil && s.IsOnline(c.OtherParticipant.ID) {
			name += " *"
		}
		last := ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage)
		}
		if s != nil && len(s.Typing(c.ID)) > 0 {
			last = "typing..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, name, c.UnreadCount, c.UpdatedAt.Local().Format(time.DateTime), last)
	}
	_ = w.Flush()
}

func preview(m *domain.LastMessage) string {
	if m.Type != domain.MessageText && m.Type != "" {
		return "[" + string(m.Type) + "]"
	}
	text := strings.ReplaceAll(m.Content, "\n", " ")
	if r := []rune(text); len(r) > 48 {
		return string(r[:47]) + "…"
	}
	return text
}

