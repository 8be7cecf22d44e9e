package service

import (
	"context"

	"inboxsync/internal/domain"
)

// UserService provides user lookups for picking conversation partners.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

// Directory lists the active users other than the caller.
func (s *UserService) Directory(ctx context.Context, callerID string) ([]domain.Participant, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(users))
	for _, u := range users {
		if u.ID == callerID {
			continue
		}
		out = append(out, u.Participant())
	}
	return out, nil
}
