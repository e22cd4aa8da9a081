package entity

import "github.com/google/uuid"

// Payloads shared by the producers and consumers of pipeline jobs.

type BookingPayload struct {
	BookingID uuid.UUID `json:"bookingId"`
}

type RouteGroupPayload struct {
	RouteGroupID *uuid.UUID `json:"routeGroupId,omitempty"`
}

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}
