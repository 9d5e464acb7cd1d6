package staffauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/mailer"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPartyNotFound      = errors.New("party not found")
	ErrAlreadyRegistered  = errors.New("client already registered")
)

type Service struct {
	staff    postgres.StaffRepo
	parties  postgres.PartyRepo
	profiles postgres.ClientProfileRepo
	tokens   *token.Service
	mail     mailer.Service
	baseURL  string
}

func NewService(staff postgres.StaffRepo, parties postgres.PartyRepo, profiles postgres.ClientProfileRepo, tokens *token.Service, mail mailer.Service, baseURL string) *Service {
	return &Service{staff: staff, parties: parties, profiles: profiles, tokens: tokens, mail: mail, baseURL: baseURL}
}

type LoginResult struct {
	Token string            `json:"token"`
	User  *domain.StaffUser `json:"-"`
	Name  string            `json:"name"`
	Role  string            `json:"role"`
}

// Login authenticates a back-office account.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.staff.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	match, err := argon2id.ComparePasswordAndHash(password, user.PasswordHash)
	if err != nil || !match {
		return nil, ErrInvalidCredentials
	}

	tok, err := s.tokens.IssueStaff(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: tok, User: user, Name: user.Name, Role: user.Role}, nil
}

type InvitationResult struct {
	InvitationToken string `json:"invitationToken"`
	RegistrationURL string `json:"registrationUrl"`
}

// InviteClient issues a registration credential for a CRM party and emails
// the registration link. A party that already has a portal account cannot
// be invited again.
func (s *Service) InviteClient(ctx context.Context, partyID, agentID string) (*InvitationResult, error) {
	party, err := s.parties.FindByID(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if party == nil {
		return nil, ErrPartyNotFound
	}

	existing, err := s.profiles.FindByCRMClientID(ctx, party.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	tok, err := s.tokens.IssueInvitation(party.ID, agentID)
	if err != nil {
		return nil, err
	}
	registrationURL := fmt.Sprintf("%s/register?invitation=%s", s.baseURL, tok)

	subject := "Your travel portal invitation"
	text := fmt.Sprintf("Hi %s,\n\nYou have been invited to the client portal. Complete your registration here (valid for 24 hours):\n%s", party.Name, registrationURL)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>You have been invited to the client portal. Complete your registration here (valid for 24 hours):</p><p><a href="%s">Set up your account</a></p>`, party.Name, registrationURL)
	if err := s.mail.Send(ctx, party.Email, party.Name, subject, text, html); err != nil {
		logger.WarnContext(ctx, "invitation email failed", "party_id", party.ID, "error", err)
	}

	return &InvitationResult{InvitationToken: tok, RegistrationURL: registrationURL}, nil
}
