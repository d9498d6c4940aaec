package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/config"
	"github.com/hackgods/classifieds-negotiation/internal/notify"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
	redisclient "github.com/hackgods/classifieds-negotiation/internal/redis"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type captureDispatcher struct {
	mu  sync.Mutex
	got []notify.Notification
	err error
}

func (c *captureDispatcher) Notify(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *captureDispatcher) sent() []notify.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Notification(nil), c.got...)
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepository
	offers     *offer.Service
	dispatcher *captureDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	offers := offer.NewService(offer.NewMemoryRepository(), config.Defaults()).WithClock(clock)
	repo := NewMemoryRepository()
	d := &captureDispatcher{}
	svc := NewService(repo, offers, redisclient.NewLocalLocker(), d, config.Defaults()).WithClock(clock)
	return &fixture{svc: svc, repo: repo, offers: offers, dispatcher: d}
}

func (f *fixture) offerIn(t *testing.T, status offer.OfferStatus) *offer.Offer {
	t.Helper()
	ctx := context.Background()
	o, err := f.offers.CreateOffer(ctx, "L1", "B1", "Bo", 100, "")
	if err != nil {
		t.Fatal(err)
	}
	switch status {
	case offer.StatusPending:
		return o
	case offer.StatusCountered:
		o, err = f.offers.UpdateOfferStatus(ctx, o.ID, status, &offer.CounterInput{Amount: 90})
	case offer.StatusExpired:
		if _, err = f.offers.SweepExpired(ctx, testNow.Add(8*24*time.Hour)); err == nil {
			o, err = f.offers.GetOffer(ctx, o.ID)
		}
		if err == nil && o.Status != offer.StatusExpired {
			t.Fatalf("offer status after sweep = %s", o.Status)
		}
	default:
		o, err = f.offers.UpdateOfferStatus(ctx, o.ID, status, nil)
	}
	if err != nil {
		t.Fatalf("move offer to %s: %v", status, err)
	}
	return o
}

func validInput(offerID uuid.UUID) ScheduleInput {
	return ScheduleInput{
		OfferID:  offerID,
		SellerID: "S1",
		BuyerID:  "B1",
		Date:     "2026-03-03",
		Time:     "10:00",
		Duration: 30,
		Location: Location{Address: "123 Main St", MeetingType: MeetingPublicPlace},
	}
}

func TestScheduleAppointmentRequiresAcceptedOffer(t *testing.T) {
	for _, status := range []offer.OfferStatus{offer.StatusPending, offer.StatusRejected, offer.StatusCountered, offer.StatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			o := f.offerIn(t, status)

			_, err := f.svc.ScheduleAppointment(context.Background(), validInput(o.ID))
			if !errors.Is(err, ErrOfferNotAccepted) {
				t.Fatalf("err = %v, want ErrOfferNotAccepted", err)
			}
			if got, _ := f.repo.ListByListing(context.Background(), "L1"); len(got) != 0 {
				t.Fatalf("persisted %d appointments", len(got))
			}
			if len(f.dispatcher.sent()) != 0 {
				t.Fatal("notifications sent for rejected scheduling")
			}
		})
	}

	t.Run("unknown offer", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ScheduleAppointment(context.Background(), validInput(uuid.New()))
		if !errors.Is(err, offer.ErrOfferNotFound) {
			t.Fatalf("err = %v, want ErrOfferNotFound", err)
		}
	})
}

func TestScheduleAppointmentSucceeds(t *testing.T) {
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)

	appt, err := f.svc.ScheduleAppointment(context.Background(), validInput(o.ID))
	if err != nil {
		t.Fatalf("ScheduleAppointment: %v", err)
	}
	if appt.Status != StatusScheduled || appt.OfferID != o.ID || appt.ListingID != "L1" {
		t.Fatalf("appointment = %+v", appt)
	}
	if appt.Notifications != (Notifications{}) {
		t.Fatalf("delivery flags set before delivery: %+v", appt.Notifications)
	}

	sent := f.dispatcher.sent()
	if len(sent) != 6 {
		t.Fatalf("sent %d notifications, want 6", len(sent))
	}
	seen := map[notify.Role]map[notify.Channel]bool{}
	for _, n := range sent {
		if n.Event != notify.EventAppointmentScheduled {
			t.Errorf("event = %s", n.Event)
		}
		if n.Payload["appointment_id"] != appt.ID.String() {
			t.Errorf("payload appointment_id = %v", n.Payload["appointment_id"])
		}
		if seen[n.Role] == nil {
			seen[n.Role] = map[notify.Channel]bool{}
		}
		seen[n.Role][n.Channel] = true
	}
	for _, role := range []notify.Role{notify.RoleBuyer, notify.RoleSeller} {
		for _, ch := range notify.AllChannels {
			if !seen[role][ch] {
				t.Errorf("missing %s/%s", role, ch)
			}
		}
	}
}

func TestScheduleAppointmentDuplicate(t *testing.T) {
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)
	ctx := context.Background()

	first, err := f.svc.ScheduleAppointment(ctx, validInput(o.ID))
	if err != nil {
		t.Fatal(err)
	}

	second := validInput(o.ID)
	second.Time = "15:30"
	if _, err := f.svc.ScheduleAppointment(ctx, second); !errors.Is(err, ErrDuplicateAppointment) {
		t.Fatalf("err = %v, want ErrDuplicateAppointment", err)
	}

	// once the first meeting is cancelled the offer can be rescheduled
	if _, err := f.svc.CancelAppointment(ctx, first.ID, "car trouble"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ScheduleAppointment(ctx, second); err != nil {
		t.Fatalf("reschedule after cancel: %v", err)
	}
}

func TestScheduleAppointmentConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ScheduleAppointment(context.Background(), validInput(o.ID))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateAppointment), errors.Is(err, ErrOfferBeingScheduled):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestScheduleAppointmentValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScheduleInput)
		want   error
	}{
		{"empty address", func(in *ScheduleInput) { in.Location.Address = "  " }, ErrInvalidLocation},
		{"unknown meeting type", func(in *ScheduleInput) { in.Location.MeetingType = "saloon" }, ErrInvalidLocation},
		{"yesterday", func(in *ScheduleInput) { in.Date = "2026-03-01" }, ErrPastDate},
		{"bad date", func(in *ScheduleInput) { in.Date = "03/04/2026" }, ErrInvalidDate},
		{"bad time", func(in *ScheduleInput) { in.Time = "25:00" }, ErrInvalidTime},
		{"odd duration", func(in *ScheduleInput) { in.Duration = 45 }, ErrInvalidDuration},
		{"wrong buyer", func(in *ScheduleInput) { in.BuyerID = "B9" }, ErrBuyerMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.offerIn(t, offer.StatusAccepted)
			in := validInput(o.ID)
			tt.mutate(&in)

			if _, err := f.svc.ScheduleAppointment(context.Background(), in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got, _ := f.repo.ListByListing(context.Background(), "L1"); len(got) != 0 {
				t.Fatalf("persisted %d appointments", len(got))
			}
		})
	}
}

func TestScheduleAppointmentTodayIsAllowed(t *testing.T) {
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)
	in := validInput(o.ID)
	in.Date = testNow.Format("2006-01-02")

	if _, err := f.svc.ScheduleAppointment(context.Background(), in); err != nil {
		t.Fatalf("ScheduleAppointment today: %v", err)
	}
}

func TestScheduleAppointmentDispatcherFailureKeepsAppointment(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("broker down")
	o := f.offerIn(t, offer.StatusAccepted)

	appt, err := f.svc.ScheduleAppointment(context.Background(), validInput(o.ID))
	if err != nil {
		t.Fatalf("ScheduleAppointment: %v", err)
	}
	stored, err := f.repo.GetByID(context.Background(), appt.ID)
	if err != nil || stored.Status != StatusScheduled {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}
}

func TestUpdateAppointmentStatusTransitions(t *testing.T) {
	ctx := context.Background()

	for _, to := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run(string(to), func(t *testing.T) {
			f := newFixture(t)
			o := f.offerIn(t, offer.StatusAccepted)
			appt, err := f.svc.ScheduleAppointment(ctx, validInput(o.ID))
			if err != nil {
				t.Fatal(err)
			}

			got, err := f.svc.UpdateAppointmentStatus(ctx, appt.ID, to)
			if err != nil {
				t.Fatalf("UpdateAppointmentStatus: %v", err)
			}
			if got.Status != to {
				t.Fatalf("status = %s, want %s", got.Status, to)
			}

			// terminal: every further move fails and leaves state alone
			for _, next := range []AppointmentStatus{StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow} {
				if _, err := f.svc.UpdateAppointmentStatus(ctx, appt.ID, next); !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", to, next, err)
				}
			}
			stored, _ := f.repo.GetByID(ctx, appt.ID)
			if stored.Status != to {
				t.Fatalf("stored status = %s, want %s", stored.Status, to)
			}
		})
	}

	t.Run("back to scheduled", func(t *testing.T) {
		f := newFixture(t)
		o := f.offerIn(t, offer.StatusAccepted)
		appt, _ := f.svc.ScheduleAppointment(ctx, validInput(o.ID))
		if _, err := f.svc.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.svc.UpdateAppointmentStatus(ctx, uuid.New(), StatusCompleted); !errors.Is(err, ErrAppointmentNotFound) {
			t.Fatalf("err = %v, want ErrAppointmentNotFound", err)
		}
	})
}

func TestCancelAppointmentNotifiesAndKeepsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)
	appt, err := f.svc.ScheduleAppointment(ctx, validInput(o.ID))
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.CancelAppointment(ctx, appt.ID, " horse threw a shoe ")
	if err != nil {
		t.Fatalf("CancelAppointment: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelReason != "horse threw a shoe" {
		t.Fatalf("cancelled = %+v", got)
	}

	cancelled := 0
	for _, n := range f.dispatcher.sent() {
		if n.Event == notify.EventAppointmentCancelled {
			cancelled++
			if n.Payload["reason"] != "horse threw a shoe" {
				t.Errorf("reason = %v", n.Payload["reason"])
			}
		}
	}
	if cancelled != 6 {
		t.Fatalf("cancel notifications = %d, want 6", cancelled)
	}
}

func TestGetAppointmentsForListingSoonestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []uuid.UUID
	for i, buyer := range []string{"B1", "B2", "B3"} {
		o, err := f.offers.CreateOffer(ctx, "L1", buyer, buyer, 100, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.offers.UpdateOfferStatus(ctx, o.ID, offer.StatusAccepted, nil); err != nil {
			t.Fatal(err)
		}
		in := validInput(o.ID)
		in.BuyerID = buyer
		in.Date = []string{"2026-03-05", "2026-03-03", "2026-03-04"}[i]
		appt, err := f.svc.ScheduleAppointment(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, appt.ID)
	}

	got, err := f.svc.GetAppointmentsForListing(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	want := []uuid.UUID{ids[1], ids[2], ids[0]}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestScheduleAppointmentNormalizesTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	schedule := func(buyer, at string) *Appointment {
		t.Helper()
		o, err := f.offers.CreateOffer(ctx, "L1", buyer, buyer, 100, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.offers.UpdateOfferStatus(ctx, o.ID, offer.StatusAccepted, nil); err != nil {
			t.Fatal(err)
		}
		in := validInput(o.ID)
		in.BuyerID = buyer
		in.Time = at
		appt, err := f.svc.ScheduleAppointment(ctx, in)
		if err != nil {
			t.Fatalf("schedule at %q: %v", at, err)
		}
		return appt
	}

	late := schedule("B1", "10:00")
	early := schedule("B2", "9:00")
	if early.ScheduledTime != "09:00" {
		t.Fatalf("stored time = %q, want 09:00", early.ScheduledTime)
	}

	got, err := f.svc.GetAppointmentsForListing(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != early.ID || got[1].ID != late.ID {
		for _, a := range got {
			t.Logf("order: %s %s", a.ScheduledDate, a.ScheduledTime)
		}
		t.Fatal("9:00 should sort before 10:00")
	}
}

func TestGetAppointmentsForDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	schedule := func(buyer, date, at string) *Appointment {
		t.Helper()
		o, err := f.offers.CreateOffer(ctx, "L1", buyer, buyer, 100, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.offers.UpdateOfferStatus(ctx, o.ID, offer.StatusAccepted, nil); err != nil {
			t.Fatal(err)
		}
		in := validInput(o.ID)
		in.BuyerID = buyer
		in.Date = date
		in.Time = at
		appt, err := f.svc.ScheduleAppointment(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		return appt
	}

	evening := schedule("B1", "2026-03-03", "18:00")
	morning := schedule("B2", "2026-03-03", "08:30")
	dropped := schedule("B3", "2026-03-03", "12:00")
	schedule("B4", "2026-03-04", "08:00")

	if _, err := f.svc.CancelAppointment(ctx, dropped.ID, "sold"); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.GetAppointmentsForDate(ctx, "2026-03-03", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != morning.ID || got[1].ID != evening.ID {
		t.Fatalf("calendar = %+v, want morning then evening without the cancelled one", got)
	}

	tests := []struct {
		party string
		want  int
	}{
		{"S1", 2},
		{"B1", 1},
		{"B4", 0},
	}
	for _, tt := range tests {
		got, err := f.svc.GetAppointmentsForDate(ctx, "2026-03-03", tt.party)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("party %s: got %d appointments, want %d", tt.party, len(got), tt.want)
		}
	}

	if _, err := f.svc.GetAppointmentsForDate(ctx, "03/03/2026", ""); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("err = %v, want ErrInvalidDate", err)
	}
}

func TestUpcomingAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	schedule := func(buyer, date, at string) *Appointment {
		o, err := f.offers.CreateOffer(ctx, "L1", buyer, buyer, 100, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.offers.UpdateOfferStatus(ctx, o.ID, offer.StatusAccepted, nil); err != nil {
			t.Fatal(err)
		}
		in := validInput(o.ID)
		in.BuyerID, in.Date, in.Time = buyer, date, at
		appt, err := f.svc.ScheduleAppointment(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		return appt
	}

	schedule("B1", "2026-03-02", "08:00") // already started
	soon := schedule("B2", "2026-03-02", "17:00")
	tomorrow := schedule("B3", "2026-03-03", "08:30")
	schedule("B4", "2026-03-04", "10:00")
	cancelled := schedule("B5", "2026-03-02", "12:00")
	if _, err := f.svc.CancelAppointment(ctx, cancelled.ID, ""); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.UpcomingAppointments(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != soon.ID || got[1].ID != tomorrow.ID {
		t.Fatalf("upcoming = %+v", got)
	}
}

func TestRecordDeliveryMarksFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.offerIn(t, offer.StatusAccepted)
	appt, err := f.svc.ScheduleAppointment(ctx, validInput(o.ID))
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range f.dispatcher.sent() {
		if n.Role == notify.RoleBuyer && n.Channel == notify.ChannelPush {
			continue // still in flight
		}
		if err := f.svc.RecordDelivery(ctx, n); err != nil {
			t.Fatalf("RecordDelivery: %v", err)
		}
	}

	stored, _ := f.repo.GetByID(ctx, appt.ID)
	want := Notifications{
		Seller: ChannelFlags{Email: true, SMS: true, Push: true},
		Buyer:  ChannelFlags{Email: true, SMS: true},
	}
	if stored.Notifications != want {
		t.Fatalf("flags = %+v, want %+v", stored.Notifications, want)
	}

	// offer notifications carry no appointment and are ignored
	if err := f.svc.RecordDelivery(ctx, notify.New("S1", notify.RoleSeller, notify.ChannelEmail, notify.EventOfferCreated, nil)); err != nil {
		t.Fatalf("RecordDelivery offer event: %v", err)
	}
	if err := f.svc.MarkNotificationSent(ctx, appt.ID, notify.Role("mayor"), notify.ChannelEmail); !errors.Is(err, ErrUnknownRecipientField) {
		t.Fatalf("err = %v, want ErrUnknownRecipientField", err)
	}
}

func TestNavigationURL(t *testing.T) {
	got := NavigationURL("123 Main St, Cheyenne")
	want := "https://www.google.com/maps/dir/?api=1&destination=123+Main+St%2C+Cheyenne"
	if got != want {
		t.Fatalf("NavigationURL = %q, want %q", got, want)
	}
}
