package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

// MemoryStore is an in-process implementation of every repository, used
// with STORAGE_DRIVER=memory and in tests. It enforces the same version,
// uniqueness and status guards as the Postgres repositories.
type MemoryStore struct {
	mu sync.RWMutex

	inventories map[models.TripID]*models.TripInventory
	holds       map[uuid.UUID]*models.Hold
	bookings    map[uuid.UUID]*models.Booking
	references  map[string]uuid.UUID
	attempts    map[uuid.UUID]*models.BookingAttempt
	buses       map[uuid.UUID]*models.Bus
	assignments map[uuid.UUID]*models.BusRouteAssignment
	audits      []models.PaymentAudit
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		inventories: make(map[models.TripID]*models.TripInventory),
		holds:       make(map[uuid.UUID]*models.Hold),
		bookings:    make(map[uuid.UUID]*models.Booking),
		references:  make(map[string]uuid.UUID),
		attempts:    make(map[uuid.UUID]*models.BookingAttempt),
		buses:       make(map[uuid.UUID]*models.Bus),
		assignments: make(map[uuid.UUID]*models.BusRouteAssignment),
	}
}

// ============================================================================
// TRIP INVENTORY
// ============================================================================

// CreateInventoryIfAbsent stores inv unless the trip already exists
func (s *MemoryStore) CreateInventoryIfAbsent(_ context.Context, inv *models.TripInventory) (*models.TripInventory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.inventories[inv.ID]; ok {
		return existing.Clone(), false, nil
	}
	s.inventories[inv.ID] = inv.Clone()
	return inv.Clone(), true, nil
}

// GetInventory returns a copy of the stored inventory
func (s *MemoryStore) GetInventory(_ context.Context, tripID models.TripID) (*models.TripInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.inventories[tripID]
	if !ok {
		return nil, ErrNotFound
	}
	return inv.Clone(), nil
}

// GetInventoryVersion returns the current optimistic version of a trip
func (s *MemoryStore) GetInventoryVersion(_ context.Context, tripID models.TripID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.inventories[tripID]
	if !ok {
		return 0, ErrNotFound
	}
	return inv.Version, nil
}

// ArchiveInventories archives trips that departed before cutoff
func (s *MemoryStore) ArchiveInventories(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, inv := range s.inventories {
		if inv.Status != models.InventoryActive || !inv.DepartureAt.Before(cutoff) {
			continue
		}
		inv.Status = models.InventoryArchived
		n++
		for hid, h := range s.holds {
			if h.TripID == id && h.Status != models.HoldActive {
				delete(s.holds, hid)
			}
		}
	}
	return n, nil
}

// ============================================================================
// MUTATIONS
// ============================================================================

// ApplyMutation validates every guard before touching state, so a failed
// mutation leaves the store unchanged.
func (s *MemoryStore) ApplyMutation(_ context.Context, m *models.TripMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.inventories[m.TripID]
	if !ok {
		return ErrNotFound
	}
	if inv.Version != m.ExpectedVersion {
		return ErrVersionConflict
	}
	for _, t := range m.HoldTransitions {
		h, ok := s.holds[t.HoldID]
		if !ok || h.Status != models.HoldActive {
			return ErrVersionConflict
		}
	}
	if b := m.NewBooking; b != nil {
		if _, taken := s.references[b.BookingReference]; taken {
			return fmt.Errorf("booking %s: %w", b.BookingReference, ErrDuplicate)
		}
		if _, exists := s.bookings[b.ID]; exists {
			return fmt.Errorf("booking %s: %w", b.ID, ErrDuplicate)
		}
	}
	if h := m.NewHold; h != nil {
		if _, exists := s.holds[h.ID]; exists {
			return fmt.Errorf("hold %s: %w", h.ID, ErrDuplicate)
		}
	}
	if b := m.BookingUpdate; b != nil {
		if _, exists := s.bookings[b.ID]; !exists {
			return ErrNotFound
		}
	}

	now := time.Now()
	inv.Apply(m, now)

	if h := m.NewHold; h != nil {
		s.holds[h.ID] = h.Clone()
	}
	for _, t := range m.HoldTransitions {
		h := s.holds[t.HoldID]
		h.Status = t.Status
		at := t.At
		h.ResolvedAt = &at
	}
	if b := m.NewBooking; b != nil {
		s.bookings[b.ID] = b.Clone()
		s.references[b.BookingReference] = b.ID
	}
	if b := m.BookingUpdate; b != nil {
		s.bookings[b.ID] = b.Clone()
	}
	return nil
}

// ============================================================================
// HOLDS AND BOOKINGS
// ============================================================================

// GetHold returns a hold in any status
func (s *MemoryStore) GetHold(_ context.Context, holdID uuid.UUID) (*models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holds[holdID]
	if !ok {
		return nil, ErrNotFound
	}
	return h.Clone(), nil
}

// ListActiveHolds returns the unresolved holds of a trip
func (s *MemoryStore) ListActiveHolds(_ context.Context, tripID models.TripID) ([]models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Hold
	for _, h := range s.holds {
		if h.TripID == tripID && h.Status == models.HoldActive {
			out = append(out, *h.Clone())
		}
	}
	return out, nil
}

// ListExpiredHolds returns active holds whose ttl elapsed at or before now
func (s *MemoryStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]models.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Hold
	for _, h := range s.holds {
		if h.Status == models.HoldActive && h.IsExpiredAt(now) {
			out = append(out, *h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetBooking returns a booking by ID
func (s *MemoryStore) GetBooking(_ context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

// GetBookingByHold returns the booking a hold was confirmed into
func (s *MemoryStore) GetBookingByHold(_ context.Context, holdID uuid.UUID) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bookings {
		if b.HoldID == holdID {
			return b.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListBookingsByPrincipal returns a passenger's bookings, newest first
func (s *MemoryStore) ListBookingsByPrincipal(_ context.Context, principalID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if b.PrincipalID == principalID {
			out = append(out, *b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ============================================================================
// BOOKING ATTEMPTS
// ============================================================================

// CreateAttempt stores a new attempt. Hold and invoice are unique.
func (s *MemoryStore) CreateAttempt(_ context.Context, a *models.BookingAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.HoldID == a.HoldID || existing.InvoiceID == a.InvoiceID {
			return fmt.Errorf("attempt for hold %s: %w", a.HoldID, ErrDuplicate)
		}
	}
	s.attempts[a.ID] = a.Clone()
	return nil
}

// UpdateAttempt writes the attempt if its stored state still equals expected
func (s *MemoryStore) UpdateAttempt(_ context.Context, a *models.BookingAttempt, expected models.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.attempts[a.ID]
	if !ok || existing.State != expected {
		return ErrVersionConflict
	}
	s.attempts[a.ID] = a.Clone()
	return nil
}

// GetAttempt returns an attempt by ID
func (s *MemoryStore) GetAttempt(_ context.Context, id uuid.UUID) (*models.BookingAttempt, error) {
	return s.findAttempt(func(a *models.BookingAttempt) bool { return a.ID == id })
}

// GetAttemptByHold returns the attempt that owns a hold
func (s *MemoryStore) GetAttemptByHold(_ context.Context, holdID uuid.UUID) (*models.BookingAttempt, error) {
	return s.findAttempt(func(a *models.BookingAttempt) bool { return a.HoldID == holdID })
}

// GetAttemptByInvoice returns the attempt a gateway invoice belongs to
func (s *MemoryStore) GetAttemptByInvoice(_ context.Context, invoiceID string) (*models.BookingAttempt, error) {
	return s.findAttempt(func(a *models.BookingAttempt) bool { return a.InvoiceID == invoiceID })
}

// GetAttemptByBooking returns the attempt that produced a booking
func (s *MemoryStore) GetAttemptByBooking(_ context.Context, bookingID uuid.UUID) (*models.BookingAttempt, error) {
	return s.findAttempt(func(a *models.BookingAttempt) bool {
		return a.BookingID != nil && *a.BookingID == bookingID
	})
}

func (s *MemoryStore) findAttempt(match func(*models.BookingAttempt) bool) (*models.BookingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if match(a) {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListStalePaymentAttempts returns attempts stuck in PAYMENT_PENDING since before cutoff
func (s *MemoryStore) ListStalePaymentAttempts(_ context.Context, cutoff time.Time, limit int) ([]models.BookingAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BookingAttempt
	for _, a := range s.attempts {
		if a.State == models.AttemptPaymentPending && a.PaymentStartedAt != nil && a.PaymentStartedAt.Before(cutoff) {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentStartedAt.Before(*out[j].PaymentStartedAt) })
	return page(out, limit, 0), nil
}

// ============================================================================
// BUSES AND ASSIGNMENTS
// ============================================================================

// CreateBus stores a newly registered bus
func (s *MemoryStore) CreateBus(_ context.Context, bus *models.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.buses {
		if existing.BusNumber == bus.BusNumber {
			return fmt.Errorf("bus %s: %w", bus.BusNumber, ErrDuplicate)
		}
	}
	s.buses[bus.ID] = cloneBus(bus)
	return nil
}

// GetBus returns a bus with its seat map
func (s *MemoryStore) GetBus(_ context.Context, id uuid.UUID) (*models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bus, ok := s.buses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBus(bus), nil
}

// UpdateBus writes the bus if its stored status still equals expected
func (s *MemoryStore) UpdateBus(_ context.Context, bus *models.Bus, expected models.BusApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.buses[bus.ID]
	if !ok || existing.Status != expected {
		return ErrVersionConflict
	}
	s.buses[bus.ID] = cloneBus(bus)
	return nil
}

func cloneBus(b *models.Bus) *models.Bus {
	out := *b
	out.SeatMap = append(models.SeatMap(nil), b.SeatMap...)
	return &out
}

// CreateAssignment stores a new assignment
func (s *MemoryStore) CreateAssignment(_ context.Context, a *models.BusRouteAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.OperatingDays = append(models.IntArray(nil), a.OperatingDays...)
	s.assignments[a.ID] = &cp
	return nil
}

// GetAssignment returns an assignment by ID
func (s *MemoryStore) GetAssignment(_ context.Context, id uuid.UUID) (*models.BusRouteAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAssignments mirrors the keyset-paged Postgres query
func (s *MemoryStore) ListAssignments(_ context.Context, q AssignmentQuery) ([]models.BusRouteAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BusRouteAssignment
	for _, a := range s.assignments {
		if !a.Active ||
			!strings.EqualFold(a.Origin, q.Origin) ||
			!strings.EqualFold(a.Destination, q.Destination) {
			continue
		}
		if len(a.OperatingDays) > 0 && !containsInt(a.OperatingDays, q.Weekday) {
			continue
		}
		if q.BusType != nil && a.BusType != *q.BusType {
			continue
		}
		if q.DepartureAfter != "" && a.DepartureTime < q.DepartureAfter {
			continue
		}
		if q.AfterID != uuid.Nil && !keysetAfter(a, q.AfterDeparture, q.AfterID) {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DepartureTime != out[j].DepartureTime {
			return out[i].DepartureTime < out[j].DepartureTime
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	return page(out, limit, 0), nil
}

// ListActiveAssignments returns every active assignment
func (s *MemoryStore) ListActiveAssignments(_ context.Context) ([]models.BusRouteAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BusRouteAssignment
	for _, a := range s.assignments {
		if a.Active {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func keysetAfter(a *models.BusRouteAssignment, departure string, id uuid.UUID) bool {
	if a.DepartureTime != departure {
		return a.DepartureTime > departure
	}
	return a.ID.String() > id.String()
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// ============================================================================
// PAYMENT AUDIT
// ============================================================================

// LogPaymentAudit appends an entry to the trail
func (s *MemoryStore) LogPaymentAudit(_ context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *audit
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.audits = append(s.audits, entry)
	return nil
}

// ListPaymentAudits returns the trail of one invoice in insertion order
func (s *MemoryStore) ListPaymentAudits(_ context.Context, invoiceID string) ([]models.PaymentAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.PaymentAudit{}
	for _, a := range s.audits {
		if a.InvoiceID == invoiceID {
			out = append(out, a)
		}
	}
	return out, nil
}
