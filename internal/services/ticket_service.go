package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// TicketService renders e-ticket documents for bookings
type TicketService struct {
	location *time.Location
	logger   *logrus.Logger
}

// NewTicketService creates a new ticket service. Times are printed in loc.
func NewTicketService(loc *time.Location, logger *logrus.Logger) *TicketService {
	if loc == nil {
		loc = time.UTC
	}
	return &TicketService{location: loc, logger: logger}
}

// RenderETicket builds the PDF e-ticket of a confirmed or completed
// booking and returns it with a download file name
func (s *TicketService) RenderETicket(b *models.Booking) ([]byte, string, error) {
	if b.Status != models.BookingStatusConfirmed && b.Status != models.BookingStatusCompleted {
		return nil, "", models.NewBookingError(models.KindInvalidBookingState, nil, "no ticket for a %s booking", b.Status)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+b.BookingReference, false)
	pdf.SetCreator("SmartTransit", false)
	pdf.AddPage()

	// Header
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "SMARTTRANSIT E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Booking reference: "+b.BookingReference)
	pdf.Ln(10)

	// Journey
	j := b.Journey
	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Route       : %s -> %s", j.Origin, j.Destination),
		fmt.Sprintf("Date        : %s", j.JourneyDate),
		fmt.Sprintf("Departure   : %s", s.clockTime(j.DepartureAt)),
		fmt.Sprintf("Arrival     : %s", s.clockTime(j.ArrivalAt)),
		fmt.Sprintf("Bus type    : %s", busTypeLabel(j.BusType)),
	}
	if j.BoardingPoint != "" {
		lines = append(lines, "Boarding    : "+j.BoardingPoint)
	}
	if j.DroppingPoint != "" {
		lines = append(lines, "Dropping    : "+j.DroppingPoint)
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}
	pdf.Ln(4)

	// Passengers
	pdf.SetFont("Helvetica", "B", 11)
	widths := []float64{20, 90, 20, 30}
	for i, h := range []string{"Seat", "Passenger", "Age", "Gender"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 11)
	for _, p := range b.SeatDetails {
		pdf.CellFormat(widths[0], 7, p.SeatNumber, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 7, p.PassengerName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, fmt.Sprintf("%d", p.PassengerAge), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 7, string(p.PassengerGender), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(6)

	// Fare
	pdf.SetFont("Helvetica", "", 12)
	pr := b.Pricing
	pdf.Cell(0, 7, "Subtotal : "+formatMoney(pr.Currency, pr.Subtotal))
	pdf.Ln(7)
	if pr.Taxes > 0 {
		pdf.Cell(0, 7, "Taxes    : "+formatMoney(pr.Currency, pr.Taxes))
		pdf.Ln(7)
	}
	if pr.Discount > 0 {
		pdf.Cell(0, 7, "Discount : -"+formatMoney(pr.Currency, pr.Discount))
		pdf.Ln(7)
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Total    : "+formatMoney(pr.Currency, pr.TotalAmount))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Please show this ticket and a photo ID when boarding. Seats are reserved until departure.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to render e-ticket: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"reference":  b.BookingReference,
		"bytes":      buf.Len(),
	}).Debug("E-ticket rendered")
	return buf.Bytes(), "eticket-" + safeFilenamePart(b.BookingReference) + ".pdf", nil
}

func (s *TicketService) clockTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04")
}

func busTypeLabel(t models.BusType) string {
	switch t {
	case models.BusTypeAC:
		return "A/C"
	case models.BusTypeNonAC:
		return "Non A/C"
	case models.BusTypeSemiLuxury:
		return "Semi luxury"
	case models.BusTypeLuxury:
		return "Luxury"
	}
	return string(t)
}

func formatMoney(currency string, v float64) string {
	if currency == "" {
		currency = "LKR"
	}
	return fmt.Sprintf("%s %.2f", currency, v)
}

func safeFilenamePart(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "booking"
	}
	return b.String()
}
