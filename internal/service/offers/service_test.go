package offers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tripdesk/tripdesk-portal/internal/domain"
	"github.com/tripdesk/tripdesk-portal/internal/platform/payment"
	"github.com/tripdesk/tripdesk-portal/internal/platform/ratehawk"
	"github.com/tripdesk/tripdesk-portal/internal/platform/token"
	"github.com/tripdesk/tripdesk-portal/internal/repo/postgres"
)

// --- fakes -----------------------------------------------------------------

type fakeOfferRepo struct {
	offers map[string]*domain.HotelOffer
	events []recordedEvent
	seq    int
}

type recordedEvent struct {
	offerID string
	typ     string
	payload map[string]interface{}
}

func newFakeOfferRepo() *fakeOfferRepo {
	return &fakeOfferRepo{offers: map[string]*domain.HotelOffer{}}
}

func (f *fakeOfferRepo) add(o *domain.HotelOffer) { f.offers[o.ID] = o }

func (f *fakeOfferRepo) eventTypes(offerID string) []string {
	var out []string
	for _, e := range f.events {
		if e.offerID == offerID {
			out = append(out, e.typ)
		}
	}
	return out
}

func (f *fakeOfferRepo) Create(_ context.Context, offer *domain.HotelOffer, ev postgres.EventRecord) (*domain.HotelOffer, error) {
	f.seq++
	cp := *offer
	cp.ID = fmt.Sprintf("offer-%d", f.seq)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.offers[cp.ID] = &cp
	f.events = append(f.events, recordedEvent{cp.ID, ev.Type, ev.Payload})
	return &cp, nil
}

func (f *fakeOfferRepo) GetByID(_ context.Context, id string) (*domain.HotelOffer, error) {
	o, ok := f.offers[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOfferRepo) GetForCompany(ctx context.Context, id, companyID string) (*domain.HotelOffer, error) {
	o, _ := f.GetByID(ctx, id)
	if o == nil || o.CompanyID != companyID {
		return nil, nil
	}
	return o, nil
}

func (f *fakeOfferRepo) GetForClient(ctx context.Context, id, clientPartyID string) (*domain.HotelOffer, error) {
	o, _ := f.GetByID(ctx, id)
	if o == nil || o.ClientPartyID == nil || *o.ClientPartyID != clientPartyID {
		return nil, nil
	}
	return o, nil
}

func (f *fakeOfferRepo) GetByConfirmationToken(_ context.Context, tok string) (*domain.HotelOffer, error) {
	for _, o := range f.offers {
		if o.ConfirmationToken == tok {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOfferRepo) ListForCompany(_ context.Context, companyID string, status *domain.OfferStatus) ([]domain.HotelOffer, error) {
	var out []domain.HotelOffer
	for _, o := range f.offers {
		if o.CompanyID != companyID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOfferRepo) ListForClient(_ context.Context, clientPartyID string) ([]domain.HotelOffer, error) {
	visible := map[domain.OfferStatus]bool{}
	for _, s := range domain.ClientVisibleStatuses {
		visible[s] = true
	}
	var out []domain.HotelOffer
	for _, o := range f.offers {
		if o.ClientPartyID != nil && *o.ClientPartyID == clientPartyID && visible[o.Status] {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOfferRepo) MarkViewed(_ context.Context, ids []string) error {
	for _, id := range ids {
		if o, ok := f.offers[id]; ok && o.Status == domain.OfferSent {
			o.Status = domain.OfferViewed
		}
	}
	return nil
}

func (f *fakeOfferRepo) Transition(_ context.Context, offerID, _ string, upd postgres.OfferUpdate, ev postgres.EventRecord) error {
	o, ok := f.offers[offerID]
	if !ok {
		return errors.New("no such offer")
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.PaymentStatus != nil {
		o.PaymentStatus = *upd.PaymentStatus
	}
	if upd.PaymentMode != nil {
		o.PaymentMode = *upd.PaymentMode
	}
	if upd.CheckoutSessionID != nil {
		o.StripeCheckoutSessionID = upd.CheckoutSessionID
	}
	if upd.PaymentIntentID != nil {
		o.StripePaymentIntentID = upd.PaymentIntentID
	}
	if upd.RateHawkOrderID != nil {
		o.RateHawkOrderID = upd.RateHawkOrderID
	}
	if upd.PartnerOrderID != nil {
		o.PartnerOrderID = *upd.PartnerOrderID
	}
	if upd.ErrorMessage != nil {
		o.ErrorMessage = upd.ErrorMessage
	} else if upd.ClearError {
		o.ErrorMessage = nil
	}
	now := time.Now()
	if upd.SetSentAt {
		o.SentAt = &now
	}
	if upd.SetConfirmedAt {
		o.ConfirmedAt = &now
	}
	if upd.SetPaidAt {
		o.PaidAt = &now
	}
	if upd.SetBookedAt {
		o.BookedAt = &now
	}
	f.events = append(f.events, recordedEvent{offerID, ev.Type, ev.Payload})
	return nil
}

func (f *fakeOfferRepo) ClaimBookingStart(_ context.Context, offerID, _ string, partnerOrderID string) (bool, error) {
	o, ok := f.offers[offerID]
	if !ok {
		return false, errors.New("no such offer")
	}
	if o.Status == domain.OfferBookingStarted || o.Status == domain.OfferBookingConfirmed {
		return false, nil
	}
	o.Status = domain.OfferBookingStarted
	o.PartnerOrderID = partnerOrderID
	f.events = append(f.events, recordedEvent{offerID, domain.EventBookingStarted, nil})
	return true, nil
}

func (f *fakeOfferRepo) ListEvents(_ context.Context, offerID, _ string) ([]domain.OfferEvent, error) {
	var out []domain.OfferEvent
	for i, e := range f.events {
		if e.offerID == offerID {
			out = append(out, domain.OfferEvent{ID: int64(i), OfferID: offerID, EventType: e.typ})
		}
	}
	return out, nil
}

type fakeOrderRepo struct {
	projected []string // offer ids
}

func (f *fakeOrderRepo) ProjectBooking(_ context.Context, offer *domain.HotelOffer, _ string) error {
	f.projected = append(f.projected, offer.ID)
	return nil
}

type fakeProfiles struct{}

func (fakeProfiles) Create(context.Context, string, string, string, *string) (*domain.ClientProfile, error) {
	return nil, errors.New("not implemented")
}
func (fakeProfiles) FindByID(context.Context, string) (*domain.ClientProfile, error) { return nil, nil }
func (fakeProfiles) FindByCRMClientID(context.Context, string) (*domain.ClientProfile, error) {
	return nil, nil
}
func (fakeProfiles) StoreRefreshHash(context.Context, string, string) error { return nil }
func (fakeProfiles) RotateRefreshHash(context.Context, string, string, string) (bool, error) {
	return false, nil
}
func (fakeProfiles) ClearRefreshHash(context.Context, string) error           { return nil }
func (fakeProfiles) SetNotificationToken(context.Context, string, *string) error { return nil }

type fakeNotifs struct{}

func (fakeNotifs) Insert(context.Context, *domain.ClientNotification) error { return nil }
func (fakeNotifs) ListForClient(context.Context, string, int) ([]domain.ClientNotification, error) {
	return nil, nil
}
func (fakeNotifs) MarkRead(context.Context, string, []int64) error { return nil }

type fakeGateway struct {
	createCalls int
	sessions    map[string]*payment.CheckoutSession
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*payment.CheckoutSession{}}
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, offer *domain.HotelOffer, _, _ string) (*payment.CheckoutSession, error) {
	f.createCalls++
	s := &payment.CheckoutSession{
		ID:            fmt.Sprintf("cs_%d", f.createCalls),
		URL:           fmt.Sprintf("https://checkout.example/%d", f.createCalls),
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{"hotel_offer_id": offer.ID, "flow": "hotels_offer"},
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*payment.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}
	return s, nil
}

func (f *fakeGateway) VerifyWebhook(payload []byte, sig string) (*payment.WebhookEvent, error) {
	if sig != "valid" {
		return nil, errors.New("bad signature")
	}
	s, ok := f.sessions[string(payload)]
	if !ok {
		return nil, errors.New("unknown session in payload")
	}
	return &payment.WebhookEvent{Type: payment.EventCheckoutCompleted, Session: s}, nil
}

type fakeBooking struct {
	configured  bool
	startErr    error
	statusSteps []*ratehawk.BookingStatus
	statusCall  int
}

func (f *fakeBooking) Configured() bool { return f.configured }

func (f *fakeBooking) CreateBookingForm(context.Context, ratehawk.BookingFormRequest) (*ratehawk.BookingFormResult, error) {
	return &ratehawk.BookingFormResult{OrderID: 4242}, nil
}

func (f *fakeBooking) StartBooking(context.Context, ratehawk.StartBookingRequest) error {
	return f.startErr
}

func (f *fakeBooking) CheckBookingStatus(context.Context, string) (*ratehawk.BookingStatus, error) {
	if f.statusCall >= len(f.statusSteps) {
		return &ratehawk.BookingStatus{Status: "processing", Percent: 50}, nil
	}
	s := f.statusSteps[f.statusCall]
	f.statusCall++
	return s, nil
}

type fakeMailer struct{ sent int }

func (f *fakeMailer) Send(context.Context, string, string, string, string, string) error {
	f.sent++
	return nil
}

type fakePush struct{}

func (fakePush) Send(context.Context, string, string, string, map[string]string) error { return nil }

// --- helpers ---------------------------------------------------------------

func newTestService(repo *fakeOfferRepo, orders *fakeOrderRepo, gw *fakeGateway, booking *fakeBooking) *Service {
	svc := NewService(repo, orders, fakeProfiles{}, fakeNotifs{}, gw, booking,
		&fakeMailer{}, fakePush{}, nil, "https://portal.example")
	svc.pollInterval = time.Millisecond
	return svc
}

func partyID(s string) *string { return &s }

func confirmedOffer(id string) *domain.HotelOffer {
	return &domain.HotelOffer{
		ID:                id,
		CompanyID:         "co-1",
		ClientPartyID:     partyID("party-1"),
		ClientName:        "Anna Smith",
		ClientEmail:       "anna@example.com",
		HotelName:         "Grand Hotel",
		RoomName:          "Deluxe Double",
		CheckIn:           "2026-10-01",
		CheckOut:          "2026-10-05",
		Guests:            2,
		Currency:          "EUR",
		RateHawkAmount:    400,
		ClientAmount:      460,
		BookHash:          "h-abc123",
		Status:            domain.OfferConfirmed,
		PaymentMode:       domain.PayOnline,
		PaymentStatus:     domain.PaymentUnpaid,
		ConfirmationToken: "confirm-" + id,
	}
}

var anna = token.ClientIdentity{ClientID: "profile-1", CRMClientID: "party-1"}

// --- tests -----------------------------------------------------------------

func TestStartPayment_CreatesSessionOnce(t *testing.T) {
	repo := newFakeOfferRepo()
	repo.add(confirmedOffer("offer-1"))
	gw := newFakeGateway()
	svc := newTestService(repo, &fakeOrderRepo{}, gw, &fakeBooking{})

	first, err := svc.StartPayment(context.Background(), anna, "offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.CheckoutURL == "" {
		t.Fatal("expected checkout URL")
	}
	if got := repo.offers["offer-1"].Status; got != domain.OfferPaymentPending {
		t.Fatalf("status = %s, want payment_pending", got)
	}

	// A second pay call must reuse the open session, not create another.
	second, err := svc.StartPayment(context.Background(), anna, "offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if second.CheckoutURL != first.CheckoutURL {
		t.Fatalf("expected same checkout URL, got %s then %s", first.CheckoutURL, second.CheckoutURL)
	}
	if gw.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", gw.createCalls)
	}
}

func TestStartPayment_ZeroAmountRejected(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.ClientAmount = 0
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if _, err := svc.StartPayment(context.Background(), anna, "offer-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestStartPayment_InvoiceMode(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.PaymentMode = domain.PayInvoice
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	result, err := svc.StartPayment(context.Background(), anna, "offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Mode != domain.PayInvoice || result.CheckoutURL != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := repo.offers["offer-1"].Status; got != domain.OfferInvoicePending {
		t.Fatalf("status = %s, want invoice_pending", got)
	}
}

func TestStartPayment_OtherClientsOfferIsNotFound(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.ClientPartyID = partyID("someone-else")
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if _, err := svc.StartPayment(context.Background(), anna, "offer-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestProcessPaid_Idempotent(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaymentPending
	o.PaymentStatus = domain.PaymentPending
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	sess := &payment.CheckoutSession{ID: "cs_1", PaymentIntentID: "pi_1"}

	needFinalize, err := svc.ProcessPaid(context.Background(), "offer-1", sess)
	if err != nil {
		t.Fatal(err)
	}
	if !needFinalize {
		t.Fatal("first delivery must request finalization")
	}
	if got := repo.offers["offer-1"].PaymentStatus; got != domain.PaymentPaid {
		t.Fatalf("payment status = %s, want paid", got)
	}

	// A replayed webhook: no second payment event, but finalization is
	// still requested so a crashed booking gets retried.
	needFinalize, err = svc.ProcessPaid(context.Background(), "offer-1", sess)
	if err != nil {
		t.Fatal(err)
	}
	if !needFinalize {
		t.Fatal("replayed delivery must still request finalization")
	}

	var paidEvents int
	for _, typ := range repo.eventTypes("offer-1") {
		if typ == domain.EventPaymentSucceeded {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Fatalf("payment_succeeded events = %d, want 1", paidEvents)
	}
}

func TestCancelPayment_RollsBackToConfirmed(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaymentPending
	o.PaymentStatus = domain.PaymentPending
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if err := svc.CancelPayment(context.Background(), "offer-1"); err != nil {
		t.Fatal(err)
	}
	got := repo.offers["offer-1"]
	if got.Status != domain.OfferConfirmed || got.PaymentStatus != domain.PaymentCancelled {
		t.Fatalf("status = %s/%s, want confirmed/cancelled", got.Status, got.PaymentStatus)
	}

	// Cancelling an offer that is not mid-payment is a no-op.
	if err := svc.CancelPayment(context.Background(), "offer-1"); err != nil {
		t.Fatal(err)
	}
	if repo.offers["offer-1"].Status != domain.OfferConfirmed {
		t.Fatal("second cancel must not change state")
	}
}

func TestMarkInvoicePaid(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferInvoicePending
	o.PaymentMode = domain.PayInvoice
	o.PaymentStatus = domain.PaymentPending
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	needFinalize, err := svc.MarkInvoicePaid(context.Background(), "co-1", "staff-1", "offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if !needFinalize {
		t.Fatal("expected finalization request")
	}
	if got := repo.offers["offer-1"].Status; got != domain.OfferPaid {
		t.Fatalf("status = %s, want paid", got)
	}

	// Bank transfers get recorded even when the client never went through
	// the in-app invoice request.
	other := confirmedOffer("offer-2")
	repo.add(other)
	if _, err := svc.MarkInvoicePaid(context.Background(), "co-1", "staff-1", "offer-2"); err != nil {
		t.Fatalf("confirmed offer: %v", err)
	}
	if got := repo.offers["offer-2"].Status; got != domain.OfferPaid {
		t.Fatalf("status = %s, want paid", got)
	}

	// A withdrawn offer cannot be paid.
	cancelled := confirmedOffer("offer-3")
	cancelled.Status = domain.OfferCancelled
	repo.add(cancelled)
	if _, err := svc.MarkInvoicePaid(context.Background(), "co-1", "staff-1", "offer-3"); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestHandleWebhook_IgnoresUnpaidSession(t *testing.T) {
	repo := newFakeOfferRepo()
	repo.add(confirmedOffer("offer-1"))
	gw := newFakeGateway()
	svc := newTestService(repo, &fakeOrderRepo{}, gw, &fakeBooking{})

	// StartPayment leaves an open, unpaid session behind.
	if _, err := svc.StartPayment(context.Background(), anna, "offer-1"); err != nil {
		t.Fatal(err)
	}

	// checkout.session.completed can arrive for delayed payment methods
	// before the money is in; the offer must not move.
	if err := svc.HandleWebhook(context.Background(), []byte("cs_1"), "valid"); err != nil {
		t.Fatal(err)
	}
	got := repo.offers["offer-1"]
	if got.Status != domain.OfferPaymentPending || got.PaymentStatus != domain.PaymentPending {
		t.Fatalf("status = %s/%s, want payment_pending/pending", got.Status, got.PaymentStatus)
	}
	for _, typ := range repo.eventTypes("offer-1") {
		if typ == domain.EventPaymentSucceeded {
			t.Fatal("unpaid session must not record a payment")
		}
	}
}

func TestCompleteCheckoutRedirect_RequiresPaidSession(t *testing.T) {
	repo := newFakeOfferRepo()
	repo.add(confirmedOffer("offer-1"))
	gw := newFakeGateway()
	svc := newTestService(repo, &fakeOrderRepo{}, gw, &fakeBooking{})

	if _, err := svc.StartPayment(context.Background(), anna, "offer-1"); err != nil {
		t.Fatal(err)
	}

	// The browser can land on the success URL with the session still
	// unpaid; the redirect must not take Stripe's word from the URL alone.
	if _, err := svc.CompleteCheckoutRedirect(context.Background(), "offer-1", "cs_1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if got := repo.offers["offer-1"].PaymentStatus; got != domain.PaymentPending {
		t.Fatalf("payment status = %s, want pending", got)
	}

	if _, err := svc.CompleteCheckoutRedirect(context.Background(), "missing", "cs_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStaffStartPayment_SwitchesToInvoice(t *testing.T) {
	repo := newFakeOfferRepo()
	repo.add(confirmedOffer("offer-1"))
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	result, err := svc.StaffStartPayment(context.Background(), "co-1", "staff-1", "offer-1", domain.PayInvoice)
	if err != nil {
		t.Fatal(err)
	}
	if result.Mode != domain.PayInvoice || result.CheckoutURL != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	got := repo.offers["offer-1"]
	if got.Status != domain.OfferInvoicePending {
		t.Fatalf("status = %s, want invoice_pending", got.Status)
	}
	if got.PaymentMode != domain.PayInvoice {
		t.Fatalf("payment mode = %s, want invoice", got.PaymentMode)
	}

	// Another company's staff cannot reach the offer.
	if _, err := svc.StaffStartPayment(context.Background(), "co-2", "staff-9", "offer-1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFinalize_Success(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaid
	o.PaymentStatus = domain.PaymentPaid
	o.PartnerOrderID = "HO-1756713600000-deadbeef"
	repo.add(o)
	orders := &fakeOrderRepo{}
	booking := &fakeBooking{
		configured: true,
		statusSteps: []*ratehawk.BookingStatus{
			{Status: "processing", Percent: 40},
			{Status: "ok", Percent: 100, OrderID: 9001},
		},
	}
	svc := newTestService(repo, orders, newFakeGateway(), booking)

	if err := svc.Finalize(context.Background(), "offer-1"); err != nil {
		t.Fatal(err)
	}

	got := repo.offers["offer-1"]
	if got.Status != domain.OfferBookingConfirmed {
		t.Fatalf("status = %s, want booking_confirmed", got.Status)
	}
	if got.RateHawkOrderID == nil || *got.RateHawkOrderID != "9001" {
		t.Fatalf("supplier order id = %v, want 9001", got.RateHawkOrderID)
	}
	if len(orders.projected) != 1 || orders.projected[0] != "offer-1" {
		t.Fatalf("order projection = %v, want [offer-1]", orders.projected)
	}
	// The supplier reference assigned at creation is the one booked under.
	if got.PartnerOrderID != "HO-1756713600000-deadbeef" {
		t.Fatalf("partner order id = %q, want the creation-time reference", got.PartnerOrderID)
	}
}

func TestFinalize_ShortCircuits(t *testing.T) {
	cases := []struct {
		name          string
		status        domain.OfferStatus
		paymentStatus domain.PaymentStatus
	}{
		{"not paid yet", domain.OfferConfirmed, domain.PaymentUnpaid},
		{"already started", domain.OfferBookingStarted, domain.PaymentPaid},
		{"already booked", domain.OfferBookingConfirmed, domain.PaymentPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeOfferRepo()
			o := confirmedOffer("offer-1")
			o.Status = tc.status
			o.PaymentStatus = tc.paymentStatus
			repo.add(o)
			booking := &fakeBooking{configured: true}
			svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), booking)

			if err := svc.Finalize(context.Background(), "offer-1"); err != nil {
				t.Fatal(err)
			}
			if got := repo.offers["offer-1"].Status; got != tc.status {
				t.Fatalf("status changed from %s to %s", tc.status, got)
			}
		})
	}
}

func TestFinalize_MissingBookHashFails(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaid
	o.PaymentStatus = domain.PaymentPaid
	o.BookHash = ""
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{configured: true})

	if err := svc.Finalize(context.Background(), "offer-1"); err == nil {
		t.Fatal("expected an error")
	}
	got := repo.offers["offer-1"]
	if got.Status != domain.OfferBookingFailed {
		t.Fatalf("status = %s, want booking_failed", got.Status)
	}
	if got.ErrorMessage == nil {
		t.Fatal("expected error message on the offer")
	}
	// Payment state must survive a booking failure.
	if got.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("payment status = %s, want paid", got.PaymentStatus)
	}
}

func TestFinalize_SupplierErrorFails(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaid
	o.PaymentStatus = domain.PaymentPaid
	repo.add(o)
	booking := &fakeBooking{
		configured:  true,
		statusSteps: []*ratehawk.BookingStatus{{Status: "error", Error: "rate sold out"}},
	}
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), booking)

	if err := svc.Finalize(context.Background(), "offer-1"); err == nil {
		t.Fatal("expected an error")
	}
	got := repo.offers["offer-1"]
	if got.Status != domain.OfferBookingFailed {
		t.Fatalf("status = %s, want booking_failed", got.Status)
	}
}

func TestListForClient_MarksOnlySentViewed(t *testing.T) {
	repo := newFakeOfferRepo()

	sent := confirmedOffer("offer-1")
	sent.Status = domain.OfferSent
	repo.add(sent)

	confirmed := confirmedOffer("offer-2")
	repo.add(confirmed)

	draft := confirmedOffer("offer-3")
	draft.Status = domain.OfferDraft
	repo.add(draft)

	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})
	list, err := svc.ListForClient(context.Background(), anna)
	if err != nil {
		t.Fatal(err)
	}

	// Drafts are invisible to the client.
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if repo.offers["offer-1"].Status != domain.OfferViewed {
		t.Fatal("sent offer was not marked viewed")
	}
	if repo.offers["offer-2"].Status != domain.OfferConfirmed {
		t.Fatal("confirmed offer must not be touched")
	}
	if repo.offers["offer-3"].Status != domain.OfferDraft {
		t.Fatal("draft offer must not be touched")
	}
}

func TestConfirmByToken(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferSent
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if _, _, err := svc.ConfirmByToken(context.Background(), "bogus"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown token: got %v, want ErrNotFound", err)
	}

	offer, confirmed, err := svc.ConfirmByToken(context.Background(), "confirm-offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if !confirmed {
		t.Fatal("expected confirmation")
	}
	if offer.HotelName != "Grand Hotel" {
		t.Fatalf("unexpected offer: %s", offer.HotelName)
	}
	if repo.offers["offer-1"].Status != domain.OfferConfirmed {
		t.Fatal("offer not confirmed")
	}

	// Clicking the link again stays successful but changes nothing.
	_, confirmed, err = svc.ConfirmByToken(context.Background(), "confirm-offer-1")
	if err != nil {
		t.Fatal(err)
	}
	if confirmed {
		t.Fatal("second confirmation must be a no-op")
	}
}

func TestConfirmInApp_WrongState(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferPaid
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if _, err := svc.ConfirmInApp(context.Background(), anna, "offer-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestSend_FromDraft(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferDraft
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	sent, err := svc.Send(context.Background(), "co-1", "staff-1", "offer-1", ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Status != domain.OfferSent || sent.SentAt == nil {
		t.Fatalf("unexpected offer after send: %+v", sent)
	}

	// Sending a paid offer is a conflict.
	paid := confirmedOffer("offer-2")
	paid.Status = domain.OfferPaid
	repo.add(paid)
	if _, err := svc.Send(context.Background(), "co-1", "staff-1", "offer-2", ChannelEmail); !errors.Is(err, ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestSend_RecordsBothConfirmLinks(t *testing.T) {
	repo := newFakeOfferRepo()
	o := confirmedOffer("offer-1")
	o.Status = domain.OfferDraft
	repo.add(o)
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	if _, err := svc.Send(context.Background(), "co-1", "staff-1", "offer-1", ChannelBoth); err != nil {
		t.Fatal(err)
	}

	var sent *recordedEvent
	for i := range repo.events {
		if repo.events[i].typ == domain.EventSent {
			sent = &repo.events[i]
		}
	}
	if sent == nil {
		t.Fatal("no sent event recorded")
	}
	app, _ := sent.payload["appConfirmUrl"].(string)
	email, _ := sent.payload["emailConfirmUrl"].(string)
	if app == "" || email == "" {
		t.Fatalf("sent payload = %v, want both confirm links", sent.payload)
	}
	if !strings.Contains(email, "/offers/confirm-by-token?token=confirm-offer-1") {
		t.Fatalf("email link = %q, want token link", email)
	}
	if !strings.Contains(app, "/offers/offer-1") {
		t.Fatalf("app link = %q, want offer deep link", app)
	}
}

func TestCreate_DerivesClientAmount(t *testing.T) {
	repo := newFakeOfferRepo()
	svc := newTestService(repo, &fakeOrderRepo{}, newFakeGateway(), &fakeBooking{})

	offer, err := svc.Create(context.Background(), "co-1", "staff-1", CreateOfferRequest{
		ClientName:     "Anna Smith",
		ClientEmail:    "anna@example.com",
		HotelName:      "Grand Hotel",
		RoomName:       "Deluxe Double",
		CheckIn:        "2026-10-01",
		CheckOut:       "2026-10-05",
		Guests:         2,
		Currency:       "EUR",
		RateHawkAmount: 400,
		MarkupPercent:  15,
	})
	if err != nil {
		t.Fatal(err)
	}
	if offer.ClientAmount != 460 {
		t.Fatalf("client amount = %v, want 460", offer.ClientAmount)
	}
	if offer.Status != domain.OfferDraft || offer.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("unexpected initial state: %s/%s", offer.Status, offer.PaymentStatus)
	}
	if offer.ConfirmationToken == "" {
		t.Fatal("confirmation token must be issued at creation")
	}
	if !strings.HasPrefix(offer.PartnerOrderID, "HO-") {
		t.Fatalf("partner order id = %q, want HO- prefix", offer.PartnerOrderID)
	}

	if _, err := svc.Create(context.Background(), "co-1", "staff-1", CreateOfferRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty request: got %v, want ErrValidation", err)
	}
}
