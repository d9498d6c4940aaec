package appointment

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/classifieds-negotiation/internal/notify"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type MeetingType string

const (
	MeetingPublicPlace     MeetingType = "public_place"
	MeetingSellerLocation  MeetingType = "seller_location"
	MeetingBuyerLocation   MeetingType = "buyer_location"
	MeetingNeutralLocation MeetingType = "neutral_location"
)

func (m MeetingType) Valid() bool {
	switch m {
	case MeetingPublicPlace, MeetingSellerLocation, MeetingBuyerLocation, MeetingNeutralLocation:
		return true
	}
	return false
}

// AllowedDurations are the meeting lengths, in minutes, a seller can pick.
var AllowedDurations = []int{15, 30, 60, 120}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type Location struct {
	Address     string
	MeetingType MeetingType
	Notes       string
}

// ChannelFlags records which channels have delivered to one party.
type ChannelFlags struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

type Notifications struct {
	Seller ChannelFlags `json:"seller"`
	Buyer  ChannelFlags `json:"buyer"`
}

// Mark sets the flag for role/channel and reports whether it was known.
func (n *Notifications) Mark(role notify.Role, ch notify.Channel) bool {
	var flags *ChannelFlags
	switch role {
	case notify.RoleSeller:
		flags = &n.Seller
	case notify.RoleBuyer:
		flags = &n.Buyer
	default:
		return false
	}
	switch ch {
	case notify.ChannelEmail:
		flags.Email = true
	case notify.ChannelSMS:
		flags.SMS = true
	case notify.ChannelPush:
		flags.Push = true
	default:
		return false
	}
	return true
}

type Appointment struct {
	ID            uuid.UUID
	ListingID     string
	OfferID       uuid.UUID
	SellerID      string
	BuyerID       string
	ScheduledDate string // 2006-01-02
	ScheduledTime string // 15:04
	Duration      int    // minutes
	Location      Location
	Status        AppointmentStatus
	Notifications Notifications
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StartsAt combines the scheduled date and time in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, a.ScheduledDate+" "+a.ScheduledTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment %s start: %w", a.ID, err)
	}
	return t, nil
}

// NavigationURL links to driving directions for the meeting address.
func NavigationURL(address string) string {
	q := url.Values{}
	q.Set("api", "1")
	q.Set("destination", address)
	return "https://www.google.com/maps/dir/?" + q.Encode()
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
