package domain

import (
	"errors"
	"strings"
	"time"
)

// ClientProfile is the persistent portal account row. Exactly one active
// refresh token hash per profile; a nil hash means no refresh is possible.
type ClientProfile struct {
	ID                string
	CRMClientID       string
	PasswordHash      string
	RefreshTokenHash  *string
	InvitedByAgentID  *string
	NotificationToken *string
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Party is the CRM person record a portal account is linked to.
type Party struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return errors.New("valid email is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

type RegisterRequest struct {
	InvitationToken string `json:"invitationToken"`
	Password        string `json:"password"`
}

func (r *RegisterRequest) Validate() error {
	if r.InvitationToken == "" {
		return errors.New("invitationToken is required")
	}
	if len(r.Password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r *RefreshRequest) Validate() error {
	if r.RefreshToken == "" {
		return errors.New("refreshToken is required")
	}
	return nil
}

// TokenPair is what login, register and refresh hand back to the app.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId,omitempty"`
}

// ClientNotification is one row of the in-app notification feed, written
// alongside every push send.
type ClientNotification struct {
	ID        int64      `json:"id"`
	ClientID  string     `json:"client_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Type      string     `json:"type"`
	RefID     *string    `json:"ref_id,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
