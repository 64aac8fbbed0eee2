package dispatch

import (
	"github.com/nicolas-growmodo/twiliner-integration/internal/crm"
	"github.com/nicolas-growmodo/twiliner-integration/internal/model"
)

// EventCartUpdated は未確定・失敗予約を通知するイベント名。
const EventCartUpdated = "cart_updated"

// ContactFromBooking は確定予約をBrevoの連絡先UPSERTリクエストに変換する。
func ContactFromBooking(b *model.CanonicalBooking) crm.ContactRequest {
	return crm.ContactRequest{
		Email: b.Customer.Email,
		Attributes: crm.ContactAttributes{
			FirstName:      b.Customer.FirstName,
			LastName:       b.Customer.LastName,
			SMS:            b.Customer.Phone,
			BookingRef:     b.Booking.Reference,
			DepartureDate:  b.Booking.DepartureDate.String(),
			ArrivalDate:    b.Booking.ArrivalDate.String(),
			PreTravelDate:  b.Booking.PreTravelDate.String(),
			PostTravelDate: b.Booking.PostTravelDate.String(),
			PaymentStatus:  string(b.Booking.Status),
		},
		UpdateEnabled: true,
	}
}

// CartEventFromBooking は未確定・失敗予約をcart_updatedイベントに変換する。
func CartEventFromBooking(b *model.CanonicalBooking) crm.EventRequest {
	return crm.EventRequest{
		EventName:   EventCartUpdated,
		Identifiers: crm.EventIdentifiers{EmailID: b.Customer.Email},
		EventProperties: crm.EventProperties{
			ID:            b.Booking.Reference,
			Price:         b.Booking.TotalPrice,
			Currency:      b.Booking.Currency,
			Status:        string(b.Booking.Status),
			DepartureDate: b.Booking.DepartureDate.String(),
			Origin:        b.Booking.Origin,
			Destination:   b.Booking.Destination,
		},
	}
}
