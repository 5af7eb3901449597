package application

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// UserRepository captures the persistence interactions needed by the user
// service.
type UserRepository interface {
	CreateUser(ctx context.Context, user User, passwordHash *string) error
	UpdateUser(ctx context.Context, user User, passwordHash *string) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, role UserRole) ([]User, error)
	DeleteUser(ctx context.Context, id string) error
}

// UserService manages the trainer and athlete directory. Athlete records
// supply the recipient addresses used by the notification dispatcher.
type UserService struct {
	users       UserRepository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewUserService constructs a user service.
func NewUserService(users UserRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

// Create registers a new trainer or athlete. Trainer accounts require a
// password; athlete records never carry one.
func (s *UserService) Create(ctx context.Context, input UserInput) (User, error) {
	vErr := &ValidationError{}
	validateUserInput(input, vErr)

	var passwordHash *string
	if input.Role == RoleTrainer {
		if strings.TrimSpace(input.Password) == "" {
			vErr.add("password", "password is required for trainer accounts")
		} else {
			hash, err := HashPassword(input.Password)
			if err != nil {
				return User{}, err
			}
			passwordHash = &hash
		}
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	if _, err := s.users.GetUserByEmail(ctx, input.Email); err == nil {
		return User{}, ErrAlreadyExists
	} else if !errors.Is(mapRepoError(err), ErrNotFound) {
		return User{}, mapRepoError(err)
	}

	now := s.now()
	user := User{
		ID:          s.idGenerator(),
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Role:        input.Role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.CreateUser(ctx, user, passwordHash); err != nil {
		return User{}, mapRepoError(err)
	}

	serviceLogger(ctx, s.logger, "users", "create", "user_id", user.ID, "role", user.Role).
		InfoContext(ctx, "user created")
	return user, nil
}

// Update rewrites an account's profile fields. Role is immutable.
func (s *UserService) Update(ctx context.Context, userID string, input UserInput) (User, error) {
	existing, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapRepoError(err)
	}

	vErr := &ValidationError{}
	if input.Role != "" && input.Role != existing.Role {
		vErr.add("role", "role cannot be changed")
	}
	input.Role = existing.Role
	validateUserInput(input, vErr)

	var passwordHash *string
	if input.Password != "" {
		if existing.Role != RoleTrainer {
			vErr.add("password", "only trainer accounts have passwords")
		} else {
			hash, err := HashPassword(input.Password)
			if err != nil {
				return User{}, err
			}
			passwordHash = &hash
		}
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	updated := existing
	updated.Email = strings.ToLower(strings.TrimSpace(input.Email))
	updated.DisplayName = strings.TrimSpace(input.DisplayName)
	updated.UpdatedAt = s.now()

	if err := s.users.UpdateUser(ctx, updated, passwordHash); err != nil {
		return User{}, mapRepoError(err)
	}
	return updated, nil
}

// Get retrieves one account.
func (s *UserService) Get(ctx context.Context, userID string) (User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, mapRepoError(err)
	}
	return user, nil
}

// List enumerates accounts, optionally filtered by role.
func (s *UserService) List(ctx context.Context, role UserRole) ([]User, error) {
	users, err := s.users.ListUsers(ctx, role)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return users, nil
}

// Delete removes an account.
func (s *UserService) Delete(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return mapRepoError(err)
	}
	return nil
}

func validateUserInput(input UserInput, vErr *ValidationError) {
	if strings.TrimSpace(input.DisplayName) == "" {
		vErr.add("display_name", "display name is required")
	}
	if strings.TrimSpace(input.Email) == "" {
		vErr.add("email", "email is required")
	} else if _, err := mail.ParseAddress(input.Email); err != nil {
		vErr.add("email", "must be a valid email address")
	}
	switch input.Role {
	case RoleTrainer, RoleAthlete:
	default:
		vErr.add("role", "must be trainer or athlete")
	}
}
