package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/listing"
	"github.com/hackgods/classifieds-negotiation/internal/negotiation"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

var testNow = time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := func() time.Time { return testNow }
	cfg := config.Defaults()

	offers := offer.NewService(offer.NewMemoryRepository(), cfg).WithClock(clock)
	appts := appointment.NewService(appointment.NewMemoryRepository(), offers, redisclient.NewLocalLocker(), notify.Discard, cfg).WithClock(clock)
	listings := listing.NewMemoryReader(listing.Listing{ID: "L1", SellerID: "S1", Title: "Desk", Price: 12000})

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Coordinator:  negotiation.NewCoordinator(offers, appts, listings, notify.Discard),
		Offers:       offers,
		Appointments: appts,
		Env:          "test",
		Version:      "test",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestNegotiationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created OfferResponse
	if code := post(t, srv, "/listings/L1/offers", CreateOfferRequest{BuyerID: "B1", BuyerName: gofakeit.Name(), Amount: 10000, Message: gofakeit.Phrase()}, &created); code != http.StatusCreated {
		t.Fatalf("create offer status = %d", code)
	}
	if created.Status != "pending" {
		t.Fatalf("status = %s", created.Status)
	}

	var countered OfferResponse
	path := "/offers/" + created.ID.String()
	if code := post(t, srv, path+"/counter", RespondRequest{SellerID: "S1", Amount: 11000}, &countered); code != http.StatusOK {
		t.Fatalf("counter status = %d", code)
	}
	if countered.CounterOffer == nil || countered.CounterOffer.Amount != 11000 {
		t.Fatalf("counter not returned: %+v", countered)
	}

	var accepted OfferResponse
	if code := post(t, srv, path+"/accept-counter", CounterAnswerRequest{BuyerID: "B1"}, &accepted); code != http.StatusOK {
		t.Fatalf("accept counter status = %d", code)
	}
	if accepted.AgreedAmount != 11000 {
		t.Fatalf("agreed amount = %d", accepted.AgreedAmount)
	}

	var appt AppointmentResponse
	code := post(t, srv, path+"/appointments", ScheduleRequest{
		SellerID:    "S1",
		Date:        "2026-05-11",
		Time:        "18:00",
		Duration:    60,
		Address:     gofakeit.Street(),
		MeetingType: "public_place",
	}, &appt)
	if code != http.StatusCreated {
		t.Fatalf("schedule status = %d", code)
	}
	if appt.Location.NavigationURL == "" || appt.BuyerID != "B1" {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	var upcoming []AppointmentResponse
	if code := get(t, srv, "/appointments/upcoming?hours=12", &upcoming); code != http.StatusOK {
		t.Fatalf("upcoming status = %d", code)
	}
	if len(upcoming) != 1 || upcoming[0].ID != appt.ID {
		t.Fatalf("upcoming = %+v", upcoming)
	}

	var day []AppointmentResponse
	if code := get(t, srv, "/appointments/calendar?date=2026-05-11&party_id=B1", &day); code != http.StatusOK {
		t.Fatalf("calendar status = %d", code)
	}
	if len(day) != 1 || day[0].ID != appt.ID || day[0].Time != "18:00" {
		t.Fatalf("calendar = %+v", day)
	}
	var e ErrorResponse
	if code := get(t, srv, "/appointments/calendar", &e); code != http.StatusBadRequest || e.Error != "missing_date" {
		t.Fatalf("calendar without date: %d %+v", code, e)
	}

	var inbox []OfferResponse
	if code := get(t, srv, "/sellers/S1/offers", &inbox); code != http.StatusOK {
		t.Fatalf("seller offers status = %d", code)
	}
	if len(inbox) != 1 || inbox[0].ID != created.ID || inbox[0].AgreedAmount != 11000 {
		t.Fatalf("seller inbox = %+v", inbox)
	}

	var cancelled AppointmentResponse
	if code := post(t, srv, "/appointments/"+appt.ID.String()+"/cancel", AppointmentActionRequest{ActorID: "S1", Reason: "sold elsewhere"}, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel status = %d", code)
	}
	if cancelled.Status != "cancelled" || cancelled.CancelReason != "sold elsewhere" {
		t.Fatalf("unexpected appointment %+v", cancelled)
	}

	var listed []OfferResponse
	if code := get(t, srv, "/buyers/B1/offers", &listed); code != http.StatusOK || len(listed) != 1 {
		t.Fatalf("buyer offers status = %d len = %d", code, len(listed))
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	var o OfferResponse
	if code := post(t, srv, "/listings/L1/offers", CreateOfferRequest{BuyerID: "B1", Amount: 100}, &o); code != http.StatusCreated {
		t.Fatalf("create offer status = %d", code)
	}
	path := "/offers/" + o.ID.String()

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown listing", "/listings/nope/offers", CreateOfferRequest{BuyerID: "B1", Amount: 100}, http.StatusNotFound, "listing_not_found"},
		{"zero amount", "/listings/L1/offers", CreateOfferRequest{BuyerID: "B2"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"second open offer", "/listings/L1/offers", CreateOfferRequest{BuyerID: "B1", Amount: 200}, http.StatusConflict, "open_offer_exists"},
		{"wrong seller", path + "/accept", RespondRequest{SellerID: "S9"}, http.StatusForbidden, "forbidden"},
		{"bad id", "/offers/not-a-uuid/accept", RespondRequest{SellerID: "S1"}, http.StatusBadRequest, "invalid_id"},
		{"schedule pending", path + "/appointments", ScheduleRequest{SellerID: "S1", Date: "2026-05-12", Time: "10:00", Duration: 30, Address: "x", MeetingType: "public_place"}, http.StatusConflict, "offer_not_accepted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e ErrorResponse
			if code := post(t, srv, tt.path, tt.body, &e); code != tt.status {
				t.Fatalf("status = %d, want %d (%+v)", code, tt.status, e)
			}
			if e.Error != tt.code {
				t.Fatalf("error = %q, want %q", e.Error, tt.code)
			}
		})
	}

	if code := post(t, srv, path+"/reject", RespondRequest{SellerID: "S1"}, nil); code != http.StatusOK {
		t.Fatalf("reject status = %d", code)
	}
	var e ErrorResponse
	if code := post(t, srv, path+"/accept", RespondRequest{SellerID: "S1"}, &e); code != http.StatusConflict || e.Error != "invalid_status_transition" {
		t.Fatalf("accept after reject: %d %+v", code, e)
	}
}

func TestHealthWithoutBackends(t *testing.T) {
	srv := newTestServer(t)

	var ready ReadinessResponse
	if code := get(t, srv, "/health/ready", &ready); code != http.StatusOK {
		t.Fatalf("ready status = %d", code)
	}
	if ready.Dependencies["postgres"] != "disabled" || ready.Dependencies["redis"] != "disabled" {
		t.Fatalf("deps = %v", ready.Dependencies)
	}

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}
