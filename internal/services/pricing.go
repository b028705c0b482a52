package services

import (
	"math"

	"github.com/smarttransit/seat-booking-core/internal/models"
)

// PricingFunc prices a set of seats on a trip. The result is frozen into
// the booking attempt when the hold is placed.
type PricingFunc func(inv *models.TripInventory, seats []string) (models.PricingSnapshot, error)

// DefaultPricing charges base fare times the seat multiplier plus tax
func DefaultPricing(taxRate float64) PricingFunc {
	return func(inv *models.TripInventory, seats []string) (models.PricingSnapshot, error) {
		idx := inv.SeatIndex()
		snap := models.PricingSnapshot{
			BaseFare: inv.BaseFare,
			Currency: inv.Currency,
		}

		var unknown []string
		for _, s := range seats {
			i, ok := idx[s]
			if !ok {
				unknown = append(unknown, s)
				continue
			}
			seat := inv.Seats[i]
			multiplier := seatMultiplier(seat)
			fare := roundMoney(inv.BaseFare * multiplier)
			snap.SeatFares = append(snap.SeatFares, models.SeatFare{
				SeatNumber: s,
				Type:       seat.Type,
				Multiplier: multiplier,
				Fare:       fare,
			})
			snap.Subtotal += fare
		}
		if len(unknown) > 0 {
			return models.PricingSnapshot{}, models.InvalidSeatError(unknown, "seats are not part of this trip")
		}

		snap.Subtotal = roundMoney(snap.Subtotal)
		snap.Taxes = roundMoney(snap.Subtotal * taxRate)
		snap.TotalAmount = roundMoney(snap.Subtotal + snap.Taxes - snap.Discount)
		return snap, nil
	}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// seatMultiplier treats an unset multiplier as 1
func seatMultiplier(seat models.TripSeat) float64 {
	if seat.PriceMultiplier <= 0 {
		return 1
	}
	return seat.PriceMultiplier
}
