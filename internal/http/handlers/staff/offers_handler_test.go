package staff

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/payment"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
	"github.com/tripdesk/tripdesk-portal/internal/service/offers"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
)

type stubStaffRepo struct {
	user *domain.StaffUser
}

func (s *stubStaffRepo) FindByEmail(_ context.Context, email string) (*domain.StaffUser, error) {
	if s.user != nil && s.user.Email == email {
		return s.user, nil
	}
	return nil, nil
}

func (s *stubStaffRepo) FindByID(_ context.Context, id string) (*domain.StaffUser, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}

// stubOfferRepo embeds the interface; only the pay path's methods have
// real bodies.
type stubOfferRepo struct {
	postgres.OfferRepo
	offer *domain.HotelOffer
}

func (s *stubOfferRepo) GetForCompany(_ context.Context, id, companyID string) (*domain.HotelOffer, error) {
	if s.offer != nil && s.offer.ID == id && s.offer.CompanyID == companyID {
		cp := *s.offer
		return &cp, nil
	}
	return nil, nil
}

func (s *stubOfferRepo) Transition(_ context.Context, _, _ string, upd postgres.OfferUpdate, _ postgres.EventRecord) error {
	if upd.Status != nil {
		s.offer.Status = *upd.Status
	}
	if upd.PaymentStatus != nil {
		s.offer.PaymentStatus = *upd.PaymentStatus
	}
	if upd.PaymentMode != nil {
		s.offer.PaymentMode = *upd.PaymentMode
	}
	return nil
}

type stubOrders struct{}

func (stubOrders) ProjectBooking(context.Context, *domain.HotelOffer, string) error { return nil }

type stubProfiles struct{ postgres.ClientProfileRepo }

func (stubProfiles) FindByCRMClientID(context.Context, string) (*domain.ClientProfile, error) {
	return nil, nil
}

type stubNotifs struct{ postgres.NotificationRepo }

type stubGateway struct{}

func (stubGateway) CreateCheckoutSession(context.Context, *domain.HotelOffer, string, string) (*payment.CheckoutSession, error) {
	return nil, errors.New("not in this test")
}
func (stubGateway) GetCheckoutSession(context.Context, string) (*payment.CheckoutSession, error) {
	return nil, errors.New("not in this test")
}
func (stubGateway) VerifyWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return nil, errors.New("not in this test")
}

type stubBooking struct{}

func (stubBooking) Configured() bool { return false }
func (stubBooking) CreateBookingForm(context.Context, ratehawk.BookingFormRequest) (*ratehawk.BookingFormResult, error) {
	return nil, errors.New("not configured")
}
func (stubBooking) StartBooking(context.Context, ratehawk.StartBookingRequest) error {
	return errors.New("not configured")
}
func (stubBooking) CheckBookingStatus(context.Context, string) (*ratehawk.BookingStatus, error) {
	return nil, errors.New("not configured")
}

type stubMailer struct{}

func (stubMailer) Send(context.Context, string, string, string, string, string) error { return nil }

type stubPush struct{}

func (stubPush) Send(context.Context, string, string, string, map[string]string) error { return nil }

func newPayServer(t *testing.T, repo *stubOfferRepo) (*httptest.Server, string) {
	t.Helper()

	tokens := token.NewService(config.AuthConfig{
		AccessSecret:     "access-secret",
		RefreshSecret:    "refresh-secret",
		InvitationSecret: "invitation-secret",
		StaffSecret:      "staff-secret",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  time.Hour,
		InvitationTTL:    time.Hour,
		StaffTokenTTL:    time.Hour,
	})
	staffRepo := &stubStaffRepo{user: &domain.StaffUser{
		ID: "staff-1", CompanyID: "co-1", Email: "agent@example.com", Role: domain.StaffRoleAgent,
	}}
	svc := offers.NewService(repo, stubOrders{}, stubProfiles{}, stubNotifs{},
		stubGateway{}, stubBooking{}, stubMailer{}, stubPush{}, nil, "https://portal.example")

	h := NewOffersHandler(svc, staffRepo, nil, tokens)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	staffTok, err := tokens.IssueStaff("staff-1", "agent@example.com", domain.StaffRoleAgent)
	if err != nil {
		t.Fatal(err)
	}
	return srv, staffTok
}

func payRequest(t *testing.T, srv *httptest.Server, staffTok, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/offer-1/pay", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+staffTok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestPay_SwitchesConfirmedOfferToInvoice(t *testing.T) {
	repo := &stubOfferRepo{offer: &domain.HotelOffer{
		ID:            "offer-1",
		CompanyID:     "co-1",
		HotelName:     "Grand Hotel",
		ClientAmount:  460,
		Status:        domain.OfferConfirmed,
		PaymentMode:   domain.PayOnline,
		PaymentStatus: domain.PaymentUnpaid,
	}}
	srv, staffTok := newPayServer(t, repo)

	resp := payRequest(t, srv, staffTok, `{"mode":"invoice"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var env struct {
		Data struct {
			Mode string `json:"mode"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Mode != "invoice" {
		t.Fatalf("mode = %q, want invoice", env.Data.Mode)
	}
	if repo.offer.Status != domain.OfferInvoicePending {
		t.Fatalf("status = %s, want invoice_pending", repo.offer.Status)
	}
	if repo.offer.PaymentMode != domain.PayInvoice {
		t.Fatalf("payment mode = %s, want invoice", repo.offer.PaymentMode)
	}
}

func TestPay_RejectsUnknownMode(t *testing.T) {
	repo := &stubOfferRepo{offer: &domain.HotelOffer{
		ID: "offer-1", CompanyID: "co-1", Status: domain.OfferConfirmed,
		PaymentMode: domain.PayOnline, PaymentStatus: domain.PaymentUnpaid,
	}}
	srv, staffTok := newPayServer(t, repo)

	resp := payRequest(t, srv, staffTok, `{"mode":"barter"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
