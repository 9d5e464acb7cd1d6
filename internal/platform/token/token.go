package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
)

// ErrInvalid covers every verification failure: bad signature, expired
// token, malformed token, wrong token type. Callers never learn which
// check failed.
var ErrInvalid = errors.New("invalid token")

// ClientIdentity is the payload carried by client access and refresh
// tokens. Constructed per request from a verified token, never persisted.
type ClientIdentity struct {
	ClientID    string
	CRMClientID string
}

// Invitation is the payload of a staff-issued registration credential.
type Invitation struct {
	CRMClientID string
	AgentID     string
}

type clientClaims struct {
	ClientID    string `json:"clientId"`
	CRMClientID string `json:"crmClientId"`
	jwt.RegisteredClaims
}

type invitationClaims struct {
	CRMClientID string `json:"crmClientId"`
	AgentID     string `json:"agentId"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

type StaffClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

const invitationType = "invitation"

// Service signs and verifies the portal's credential types. Access,
// refresh and invitation tokens use three independent secrets so a leaked
// secret for one type cannot forge another.
type Service struct {
	accessSecret     []byte
	refreshSecret    []byte
	invitationSecret []byte
	staffSecret      []byte

	accessTTL     time.Duration
	refreshTTL    time.Duration
	invitationTTL time.Duration
	staffTTL      time.Duration
}

func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		accessSecret:     []byte(cfg.AccessSecret),
		refreshSecret:    []byte(cfg.RefreshSecret),
		invitationSecret: []byte(cfg.InvitationSecret),
		staffSecret:      []byte(cfg.StaffSecret),
		accessTTL:        cfg.AccessTokenTTL,
		refreshTTL:       cfg.RefreshTokenTTL,
		invitationTTL:    cfg.InvitationTTL,
		staffTTL:         cfg.StaffTokenTTL,
	}
}

func (s *Service) signClient(id ClientIdentity, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := clientClaims{
		ClientID:    id.ClientID,
		CRMClientID: id.CRMClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) verifyClient(tokenString string, secret []byte) (ClientIdentity, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &clientClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return ClientIdentity{}, ErrInvalid
	}
	claims, ok := tok.Claims.(*clientClaims)
	if !ok || !tok.Valid {
		return ClientIdentity{}, ErrInvalid
	}
	return ClientIdentity{ClientID: claims.ClientID, CRMClientID: claims.CRMClientID}, nil
}

// IssueAccess signs a short-lived access token. Pure function of identity,
// current time and the access secret.
func (s *Service) IssueAccess(id ClientIdentity) (string, error) {
	return s.signClient(id, s.accessSecret, s.accessTTL)
}

// IssueRefresh signs a long-lived refresh token with a secret distinct
// from the access secret.
func (s *Service) IssueRefresh(id ClientIdentity) (string, error) {
	return s.signClient(id, s.refreshSecret, s.refreshTTL)
}

func (s *Service) VerifyAccess(tokenString string) (ClientIdentity, error) {
	return s.verifyClient(tokenString, s.accessSecret)
}

func (s *Service) VerifyRefresh(tokenString string) (ClientIdentity, error) {
	return s.verifyClient(tokenString, s.refreshSecret)
}

// IssueInvitation signs a 24h registration credential for a CRM party.
func (s *Service) IssueInvitation(crmClientID, agentID string) (string, error) {
	now := time.Now()
	claims := invitationClaims{
		CRMClientID: crmClientID,
		AgentID:     agentID,
		Type:        invitationType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.invitationTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.invitationSecret)
}

// VerifyInvitation checks signature, expiry and the type discriminator.
// A validly signed token whose type is not "invitation" fails closed.
func (s *Service) VerifyInvitation(tokenString string) (Invitation, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &invitationClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.invitationSecret, nil
	})
	if err != nil {
		return Invitation{}, ErrInvalid
	}
	claims, ok := tok.Claims.(*invitationClaims)
	if !ok || !tok.Valid || claims.Type != invitationType {
		return Invitation{}, ErrInvalid
	}
	return Invitation{CRMClientID: claims.CRMClientID, AgentID: claims.AgentID}, nil
}

// IssueStaff signs a back-office session token.
func (s *Service) IssueStaff(staffID, email, role string) (string, error) {
	now := time.Now()
	claims := StaffClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.staffTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.staffSecret)
}

func (s *Service) VerifyStaff(tokenString string) (*StaffClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.staffSecret, nil
	})
	if err != nil {
		return nil, ErrInvalid
	}
	claims, ok := tok.Claims.(*StaffClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Hash returns the hex SHA-256 digest of a token string. Used only for
// server-side equality against the stored refresh hash, never to verify
// authenticity.
func Hash(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
