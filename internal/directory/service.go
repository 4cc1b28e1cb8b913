package directory

import (
	"context"
	"errors"
	"fmt"

	"roomchat/internal/domain"
	"roomchat/internal/relationship"
	"roomchat/internal/repository"

	"github.com/google/uuid"
)

type Store interface {
	repository.UserRepository
	repository.NotificationRepository
}

// Service answers user lookups and notification inbox queries.
type Service struct {
	store  Store
	ledger *relationship.Ledger
}

func NewService(store Store, ledger *relationship.Ledger) *Service {
	return &Service{store: store, ledger: ledger}
}

// Register creates or refreshes a user record.
func (s *Service) Register(ctx context.Context, user *domain.User) error {
	if user.ID == uuid.Nil || user.UserName == "" {
		return fmt.Errorf("user id and user name required: %w", domain.ErrInvalidPayload)
	}
	return s.store.UpsertUser(ctx, user)
}

// ListUsers returns everyone except viewer and users sharing a block with
// viewer in either direction.
func (s *Service) ListUsers(ctx context.Context, viewer uuid.UUID) ([]domain.User, error) {
	hidden, err := s.ledger.Hidden(ctx, viewer)
	if err != nil {
		return nil, err
	}
	exclude := make([]uuid.UUID, 0, len(hidden)+1)
	exclude = append(exclude, viewer)
	for id := range hidden {
		exclude = append(exclude, id)
	}
	users, err := s.store.ListUsers(ctx, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

func (s *Service) User(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) Profile(ctx context.Context, viewer, userID uuid.UUID) (*domain.Profile, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := &domain.Profile{User: *user}

	rel, err := s.ledger.Relationship(ctx, viewer, userID)
	switch {
	case err == nil:
		t := rel.RelationshipType
		profile.RelationshipType = &t
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load relationship: %w", err)
	}

	n, err := s.store.LatestNotification(ctx, viewer, userID, domain.NotificationPrivate)
	switch {
	case err == nil:
		profile.LatestNotification = n
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	return profile, nil
}

// Notifications lists userID's inbox, newest first.
func (s *Service) Notifications(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*domain.Notification, error) {
	list, err := s.store.NotificationsFor(ctx, userID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if list == nil {
		list = []*domain.Notification{}
	}
	return list, nil
}

func (s *Service) MarkRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, notificationID, userID)
}
