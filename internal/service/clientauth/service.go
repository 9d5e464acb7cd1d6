package clientauth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/pkg/events"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors the handlers translate into HTTP statuses. Credential
// and token failures are deliberately indistinguishable to the caller.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAlreadyRegistered  = errors.New("client already registered")
	ErrNotFound           = errors.New("not found")
)

const bcryptCost = 12

type Service struct {
	parties  postgres.PartyRepo
	profiles postgres.ClientProfileRepo
	tokens   *token.Service
	bus      events.Publisher
}

func NewService(parties postgres.PartyRepo, profiles postgres.ClientProfileRepo, tokens *token.Service, bus events.Publisher) *Service {
	return &Service{parties: parties, profiles: profiles, tokens: tokens, bus: bus}
}

// signPair signs the access and refresh tokens concurrently. Both are pure
// CPU work, so the pair either fully succeeds or the whole call fails.
func (s *Service) signPair(id token.ClientIdentity) (*domain.TokenPair, error) {
	var access, refresh string
	var g errgroup.Group
	g.Go(func() error {
		var err error
		access, err = s.tokens.IssueAccess(id)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = s.tokens.IssueRefresh(id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh, ClientID: id.ClientID}, nil
}

// Login authenticates by CRM party email + portal password. Unknown email,
// missing portal account and wrong password all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.TokenPair, error) {
	party, err := s.parties.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if party == nil {
		return nil, ErrInvalidCredentials
	}

	profile, err := s.profiles.FindByCRMClientID(ctx, party.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.signPair(token.ClientIdentity{ClientID: profile.ID, CRMClientID: profile.CRMClientID})
	if err != nil {
		return nil, err
	}
	if err := s.profiles.StoreRefreshHash(ctx, profile.ID, token.Hash(pair.RefreshToken)); err != nil {
		return nil, err
	}

	s.publish(ctx, events.ClientLoggedIn, events.ClientRegisteredEvent{
		ClientID: profile.ID, CRMClientID: profile.CRMClientID, CreatedAt: time.Now(),
	})
	return pair, nil
}

// Refresh rotates the refresh token. The swap is a compare-and-swap on the
// stored hash, so a replayed or superseded token loses the race and the
// caller has to log in again.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	identity, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	pair, err := s.signPair(identity)
	if err != nil {
		return nil, err
	}

	rotated, err := s.profiles.RotateRefreshHash(ctx, identity.ClientID,
		token.Hash(refreshToken), token.Hash(pair.RefreshToken))
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, ErrInvalidToken
	}
	return pair, nil
}

// Register redeems an invitation token and creates the portal account.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.TokenPair, error) {
	inv, err := s.tokens.VerifyInvitation(req.InvitationToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	existing, err := s.profiles.FindByCRMClientID(ctx, inv.CRMClientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, err
	}

	// The row needs a refresh hash before the real one exists; a hash of a
	// random UUID can never match a signed token.
	agentID := inv.AgentID
	profile, err := s.profiles.Create(ctx, inv.CRMClientID, string(hash), token.Hash(uuid.NewString()), &agentID)
	if err != nil {
		return nil, err
	}

	pair, err := s.signPair(token.ClientIdentity{ClientID: profile.ID, CRMClientID: profile.CRMClientID})
	if err != nil {
		return nil, err
	}
	if err := s.profiles.StoreRefreshHash(ctx, profile.ID, token.Hash(pair.RefreshToken)); err != nil {
		return nil, err
	}

	s.publish(ctx, events.ClientRegistered, events.ClientRegisteredEvent{
		ClientID: profile.ID, CRMClientID: profile.CRMClientID, CreatedAt: profile.CreatedAt,
	})
	return pair, nil
}

// Logout clears the stored refresh hash. The access token stays valid
// until its expiry.
func (s *Service) Logout(ctx context.Context, clientID string) error {
	return s.profiles.ClearRefreshHash(ctx, clientID)
}

// ProfileDTO is the client-facing account view.
type ProfileDTO struct {
	ClientID    string     `json:"clientId"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PushEnabled bool       `json:"pushEnabled"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (s *Service) Profile(ctx context.Context, id token.ClientIdentity) (*ProfileDTO, error) {
	profile, err := s.profiles.FindByID(ctx, id.ClientID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrNotFound
	}
	party, err := s.parties.FindByID(ctx, profile.CRMClientID)
	if err != nil {
		return nil, err
	}
	if party == nil {
		return nil, ErrNotFound
	}
	return &ProfileDTO{
		ClientID:    profile.ID,
		Name:        party.Name,
		Email:       party.Email,
		PushEnabled: profile.NotificationToken != nil,
		LastLoginAt: profile.LastLoginAt,
	}, nil
}

// SetNotificationToken stores (or clears, when nil) the device push token.
func (s *Service) SetNotificationToken(ctx context.Context, clientID string, deviceToken *string) error {
	return s.profiles.SetNotificationToken(ctx, clientID, deviceToken)
}

func (s *Service) publish(ctx context.Context, subject string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
