package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"inboxsync/internal/domain"
)

// DemoPassword is the password of every seeded demo account.
const DemoPassword = "password"

type demoThread struct {
	with     string
	product  *domain.Product
	messages []demoLine
}

type demoLine struct {
	fromMe bool
	text   string
	typ    domain.MessageType
}

var demoUsers = []RegisterInput{
	{Username: "me", DisplayName: "Me"},
	{Username: "alice", DisplayName: "Alice Martin"},
	{Username: "bob", DisplayName: "Bob Stone"},
	{Username: "carol", DisplayName: "Carol Diaz"},
}

var demoThreads = []demoThread{
	{
		with:    "alice",
		product: &domain.Product{ID: "bike-42", Title: "City bike"},
		messages: []demoLine{
			{text: "Hi, is the bike still available?"},
			{fromMe: true, text: "Yes it is"},
			{text: "Can you send a picture of the frame?"},
		},
	},
	{
		with: "bob",
		messages: []demoLine{
			{fromMe: true, text: "See you tomorrow"},
			{text: "photo.jpg", typ: domain.MessageImage},
		},
	},
	{
		with:    "carol",
		product: &domain.Product{ID: "lamp-7", Title: "Desk lamp"},
		messages: []demoLine{
			{text: "Would you take 15 for the lamp?"},
		},
	},
}

// SeedDemo creates demo accounts and conversations. Running it twice is a
// no-op.
func SeedDemo(ctx context.Context, auth *AuthService, convs *ConversationService, msgs *MessageService, logger *slog.Logger) error {
	ids := make(map[string]string, len(demoUsers))
	for _, in := range demoUsers {
		in.Password = DemoPassword
		u, err := auth.Register(ctx, in)
		if errors.Is(err, domain.ErrConflict) {
			logger.Info("demo data already present")
			return nil
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", in.Username, err)
		}
		ids[in.Username] = u.ID
	}

	me := ids["me"]
	for _, th := range demoThreads {
		other := ids[th.with]
		sum, _, err := convs.Create(ctx, ConversationCreateInput{ParticipantID: other, Product: th.product}, me)
		if err != nil {
			return fmt.Errorf("seed conversation with %s: %w", th.with, err)
		}
		for _, line := range th.messages {
			from := other
			if line.fromMe {
				from = me
			}
			if _, err := msgs.Send(ctx, from, sum.ID, SendMessageInput{Content: line.text, Type: line.typ}); err != nil {
				return fmt.Errorf("seed message: %w", err)
			}
		}
	}
	logger.Info("demo data seeded", "users", len(ids), "conversations", len(demoThreads))
	return nil
}
