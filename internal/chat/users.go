package chat

import (
	"context"
	"net/mail"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type CreateUserParams struct {
	Name         string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
}

// CreateUser registers an account. The password must already be hashed.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (types.User, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return types.User{}, ErrValidation("name is required")
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(params.EmailAddress))
	if err != nil {
		return types.User{}, ErrValidation("invalid email address")
	}

	if params.PasswordHash == "" {
		return types.User{}, ErrValidation("password is required")
	}

	u, err := s.db.CreateUser(ctx, database.CreateUserParams{
		Name:         name,
		EmailAddress: addr.Address,
		AvatarUrl:    params.AvatarUrl,
		PasswordHash: params.PasswordHash,
	})
	if err != nil {
		return types.User{}, storeErr(err, "account")
	}

	s.log.Info().Str("user_id", u.Id).Msg("account created")
	return toUser(u), nil
}

func (s *Service) GetUser(ctx context.Context, id string) (types.User, error) {
	if err := validId(id, "user"); err != nil {
		return types.User{}, err
	}

	u, err := s.db.GetUserById(ctx, id)
	if err != nil {
		return types.User{}, storeErr(err, "user")
	}
	return toUser(u), nil
}

// Credentials returns the account registered under email and its password
// hash.
func (s *Service) Credentials(ctx context.Context, email string) (types.User, string, error) {
	u, err := s.db.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return types.User{}, "", storeErr(err, "account")
	}
	return toUser(u), u.PasswordHash, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
