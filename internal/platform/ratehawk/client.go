package ratehawk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
)

// Client talks to the RateHawk b2b API. All endpoints use basic auth with
// the key id as username and the API key as password.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	apiKey     string
}

func NewClient(cfg config.RateHawkConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		apiKey:     cfg.APIKey,
	}
}

// Configured reports whether API credentials are present. Finalization
// refuses to start without them.
func (c *Client) Configured() bool {
	return c.keyID != "" && c.apiKey != ""
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("ratehawk %s: decode: %w", path, err)
	}
	if resp.StatusCode >= 400 || env.Status == "error" {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("ratehawk %s: %s", path, msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("ratehawk %s: decode data: %w", path, err)
		}
	}
	return nil
}

type BookingFormRequest struct {
	PartnerOrderID string `json:"partner_order_id"`
	BookHash       string `json:"book_hash"`
	Language       string `json:"language"`
	UserIP         string `json:"user_ip"`
}

type BookingFormResult struct {
	OrderID      int64    `json:"order_id"`
	ItemID       int64    `json:"item_id"`
	PaymentTypes []string `json:"payment_types"`
}

// CreateBookingForm opens a booking process for a prepaid rate. The
// partner order id must be unique per attempt.
func (c *Client) CreateBookingForm(ctx context.Context, req BookingFormRequest) (*BookingFormResult, error) {
	var out BookingFormResult
	if err := c.do(ctx, http.MethodPost, "/hotel/order/booking/form/", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Guest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type StartBookingRequest struct {
	PartnerOrderID string  `json:"partner"`
	Language       string  `json:"language"`
	Rooms          []Room  `json:"rooms"`
	User           User    `json:"user"`
	Payment        Payment `json:"payment_type"`
}

type Room struct {
	Guests []Guest `json:"guests"`
}

type User struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Payment struct {
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// StartBooking finishes the booking form. Completion is asynchronous;
// poll CheckBookingStatus afterwards.
func (c *Client) StartBooking(ctx context.Context, req StartBookingRequest) error {
	body := map[string]interface{}{
		"partner": map[string]string{"partner_order_id": req.PartnerOrderID},
		"language": req.Language,
		"rooms":    req.Rooms,
		"user":     req.User,
		"payment_type": req.Payment,
	}
	return c.do(ctx, http.MethodPost, "/hotel/order/booking/finish/", body, nil)
}

type statusQuery struct {
	PartnerOrderID string `url:"partner_order_id"`
}

type BookingStatus struct {
	PartnerOrderID string `json:"partner_order_id"`
	OrderID        int64  `json:"order_id"`
	// Percent runs 0..100; "ok"/"error" in Status is terminal.
	Percent int    `json:"percent"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

func (s *BookingStatus) Completed() bool { return s.Status == "ok" && s.Percent >= 100 }
func (s *BookingStatus) Failed() bool    { return s.Status == "error" }

// CheckBookingStatus polls the asynchronous finish endpoint.
func (c *Client) CheckBookingStatus(ctx context.Context, partnerOrderID string) (*BookingStatus, error) {
	v, err := query.Values(statusQuery{PartnerOrderID: partnerOrderID})
	if err != nil {
		return nil, err
	}
	var out BookingStatus
	path := "/hotel/order/booking/finish/status/?" + v.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SearchRequest struct {
	RegionID  int64   `json:"region_id"`
	CheckIn   string  `json:"checkin"`
	CheckOut  string  `json:"checkout"`
	Guests    []Room  `json:"guests"`
	Currency  string  `json:"currency"`
	Language  string  `json:"language"`
	Residency string  `json:"residency"`
}

type SearchHotel struct {
	HID   int64           `json:"hid"`
	Rates json.RawMessage `json:"rates"`
}

type SearchResult struct {
	Hotels []SearchHotel `json:"hotels"`
}

// SearchHotels runs a region availability search for the back office.
func (c *Client) SearchHotels(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	var out SearchResult
	if err := c.do(ctx, http.MethodPost, "/search/serp/hotels/", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
