package token

import (
	"testing"
	"time"

	"github.com/tripdesk/tripdesk-portal/pkg/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessSecret:     "test-access-secret",
		RefreshSecret:    "test-refresh-secret",
		InvitationSecret: "test-invitation-secret",
		StaffSecret:      "test-staff-secret",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  30 * 24 * time.Hour,
		InvitationTTL:    24 * time.Hour,
		StaffTokenTTL:    12 * time.Hour,
	}
}

func TestClientTokens_RoundTrip(t *testing.T) {
	svc := NewService(testConfig())
	id := ClientIdentity{ClientID: "client-123", CRMClientID: "party-456"}

	access, err := svc.IssueAccess(id)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	got, err := svc.VerifyAccess(access)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if got != id {
		t.Fatalf("access round trip: got %+v, want %+v", got, id)
	}

	refresh, err := svc.IssueRefresh(id)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	got, err = svc.VerifyRefresh(refresh)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if got != id {
		t.Fatalf("refresh round trip: got %+v, want %+v", got, id)
	}
}

func TestClientTokens_CrossSecretRejection(t *testing.T) {
	svc := NewService(testConfig())
	id := ClientIdentity{ClientID: "client-123", CRMClientID: "party-456"}

	access, _ := svc.IssueAccess(id)
	refresh, _ := svc.IssueRefresh(id)

	if _, err := svc.VerifyRefresh(access); err != ErrInvalid {
		t.Fatalf("access token accepted by refresh verifier: err=%v", err)
	}
	if _, err := svc.VerifyAccess(refresh); err != ErrInvalid {
		t.Fatalf("refresh token accepted by access verifier: err=%v", err)
	}
	if _, err := svc.VerifyInvitation(access); err != ErrInvalid {
		t.Fatalf("access token accepted by invitation verifier: err=%v", err)
	}
}

func TestClientTokens_Expired(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTokenTTL = -time.Minute
	cfg.RefreshTokenTTL = -time.Minute
	svc := NewService(cfg)
	id := ClientIdentity{ClientID: "client-123", CRMClientID: "party-456"}

	access, _ := svc.IssueAccess(id)
	if _, err := svc.VerifyAccess(access); err != ErrInvalid {
		t.Fatalf("expired access token verified: err=%v", err)
	}

	refresh, _ := svc.IssueRefresh(id)
	if _, err := svc.VerifyRefresh(refresh); err != ErrInvalid {
		t.Fatalf("expired refresh token verified: err=%v", err)
	}
}

func TestInvitation_RoundTrip(t *testing.T) {
	svc := NewService(testConfig())

	tok, err := svc.IssueInvitation("party-456", "agent-1")
	if err != nil {
		t.Fatalf("IssueInvitation: %v", err)
	}
	inv, err := svc.VerifyInvitation(tok)
	if err != nil {
		t.Fatalf("VerifyInvitation: %v", err)
	}
	if inv.CRMClientID != "party-456" || inv.AgentID != "agent-1" {
		t.Fatalf("invitation claims: got %+v", inv)
	}
}

func TestInvitation_TypeEnforced(t *testing.T) {
	// A client token signed with the invitation secret parses, but its
	// type claim is empty, so the verifier must reject it.
	cfg := testConfig()
	cfg.AccessSecret = cfg.InvitationSecret
	svc := NewService(cfg)

	tok, _ := svc.IssueAccess(ClientIdentity{ClientID: "c", CRMClientID: "p"})
	if _, err := svc.VerifyInvitation(tok); err != ErrInvalid {
		t.Fatalf("token without invitation type accepted: err=%v", err)
	}
}

func TestInvitation_Expired(t *testing.T) {
	cfg := testConfig()
	cfg.InvitationTTL = -time.Hour
	svc := NewService(cfg)

	tok, _ := svc.IssueInvitation("party-456", "agent-1")
	if _, err := svc.VerifyInvitation(tok); err != ErrInvalid {
		t.Fatalf("expired invitation verified: err=%v", err)
	}
}

func TestStaffToken_RoundTrip(t *testing.T) {
	svc := NewService(testConfig())

	tok, err := svc.IssueStaff("staff-1", "agent@example.com", "agent")
	if err != nil {
		t.Fatalf("IssueStaff: %v", err)
	}
	claims, err := svc.VerifyStaff(tok)
	if err != nil {
		t.Fatalf("VerifyStaff: %v", err)
	}
	if claims.Subject != "staff-1" || claims.Email != "agent@example.com" || claims.Role != "agent" {
		t.Fatalf("staff claims: got %+v", claims)
	}
}

func TestHash_Deterministic(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Fatal("hash not deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Fatal("distinct tokens hashed equal")
	}
	if len(Hash("abc")) != 64 {
		t.Fatalf("expected hex sha256 length 64, got %d", len(Hash("abc")))
	}
}
