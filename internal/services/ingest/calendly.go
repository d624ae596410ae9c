package ingest

import (
	"encoding/json"
	"strings"

	"github.com/fastprodman/studentportal/internal/apperr"
)

type calendlyBody struct {
	Event   string `json:"event"`
	Payload struct {
		Invitee struct {
			Email string `json:"email"`
			UUID  string `json:"uuid"`
		} `json:"invitee"`
		EventType struct {
			Name string `json:"name"`
		} `json:"event_type"`
		Event struct {
			UUID string `json:"uuid"`
		} `json:"event"`
	} `json:"payload"`
}

// FromCalendly normalizes a Calendly invitee callback. kind is
// BookingCreated or BookingCancelled, as chosen by the endpoint the
// callback was delivered to.
func FromCalendly(kind Type, raw []byte) (Event, error) {
	if kind != BookingCreated && kind != BookingCancelled {
		return Event{}, apperr.Invalid("calendly callbacks are bookings, got %q", kind)
	}

	var body calendlyBody

	err := json.Unmarshal(raw, &body)
	if err != nil {
		return Event{}, apperr.Invalid("calendly payload: %v", err)
	}

	p := body.Payload
	if strings.TrimSpace(p.Invitee.Email) == "" {
		return Event{}, apperr.Invalid("calendly payload has no invitee email")
	}

	classType := strings.TrimSpace(p.EventType.Name)
	if classType == "" {
		classType = defaultClassType
	}

	return Event{
		Type:            kind,
		Provider:        ProviderCalendly,
		ProviderType:    body.Event,
		Email:           p.Invitee.Email,
		ProviderEventID: p.Event.UUID,
		Resource:        Resource{ClassType: classType},
	}, nil
}
