package services

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/database"
	"github.com/smarttransit/seat-booking-core/internal/models"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	searchPageSize     = 50
)

// AvailabilityReader is the authoritative availability source
type AvailabilityReader interface {
	GetAvailability(ctx context.Context, tripID models.TripID) (*models.AvailabilitySnapshot, error)
}

// AvailabilityCache holds search-side seat counts. A miss returns nil, nil.
type AvailabilityCache interface {
	GetCount(ctx context.Context, tripID models.TripID) (*models.AvailabilityCount, error)
	SetCount(ctx context.Context, count models.AvailabilityCount) error
}

// SearchService handles business logic for trip search
type SearchService struct {
	assignments AssignmentStore
	ledger      AvailabilityReader
	cache       AvailabilityCache
	location    *time.Location
	clock       Clock
	logger      *logrus.Logger
}

// NewSearchService creates a new search service. cache may be nil.
func NewSearchService(
	assignments AssignmentStore,
	ledger AvailabilityReader,
	cache AvailabilityCache,
	location *time.Location,
	clock Clock,
	logger *logrus.Logger,
) *SearchService {
	if clock == nil {
		clock = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	return &SearchService{
		assignments: assignments,
		ledger:      ledger,
		cache:       cache,
		location:    location,
		clock:       clock,
		logger:      logger,
	}
}

// ParseSearchQuery validates a search query and converts it into a filter
func ParseSearchQuery(q *models.SearchTripsQuery, loc *time.Location) (models.TripFilter, error) {
	origin := strings.TrimSpace(q.Origin)
	destination := strings.TrimSpace(q.Destination)
	if origin == "" || destination == "" {
		return models.TripFilter{}, models.NewBookingError(models.KindInvalidRequest, nil, "origin and destination are required")
	}
	if strings.EqualFold(origin, destination) {
		return models.TripFilter{}, models.NewBookingError(models.KindInvalidRequest, nil, "origin and destination must differ")
	}

	date, err := time.ParseInLocation(models.DateLayout, q.Date, loc)
	if err != nil {
		return models.TripFilter{}, models.NewBookingError(models.KindInvalidRequest, nil, "date must be YYYY-MM-DD")
	}

	filter := models.TripFilter{
		Origin:       origin,
		Destination:  destination,
		Date:         date,
		MinFreeSeats: q.Passengers,
	}
	if filter.MinFreeSeats <= 0 {
		filter.MinFreeSeats = 1
	}
	if q.BusType != "" {
		bt, err := models.ParseBusType(q.BusType)
		if err != nil {
			return models.TripFilter{}, models.NewBookingError(models.KindInvalidRequest, nil, "%v", err)
		}
		filter.BusType = &bt
	}
	if q.DepartureAfter != "" {
		if _, err := time.Parse("15:04", q.DepartureAfter); err != nil {
			return models.TripFilter{}, models.NewBookingError(models.KindInvalidRequest, nil, "departure_after must be HH:MM")
		}
		filter.DepartureAfter = q.DepartureAfter
	}
	return filter, nil
}

// SearchTrips runs a search and collects the first page of results
func (s *SearchService) SearchTrips(ctx context.Context, q *models.SearchTripsQuery) (*models.SearchResponse, error) {
	startTime := time.Now()

	filter, err := ParseSearchQuery(q, s.location)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	s.logger.WithFields(logrus.Fields{
		"origin":      filter.Origin,
		"destination": filter.Destination,
		"date":        q.Date,
	}).Info("Processing search request")

	response := &models.SearchResponse{
		Results:   []models.TripSummary{},
		Freshness: models.AvailabilityFreshnessNote,
	}
	for trip, err := range s.Trips(ctx, filter) {
		if err != nil {
			s.logger.WithError(err).Error("Search failed")
			return nil, err
		}
		response.Results = append(response.Results, trip)
		if len(response.Results) >= limit {
			break
		}
	}
	response.Count = len(response.Results)
	response.SearchTimeMs = time.Since(startTime).Milliseconds()

	s.logger.WithFields(logrus.Fields{
		"results":        response.Count,
		"search_time_ms": response.SearchTimeMs,
	}).Info("Search completed")
	return response, nil
}

// Trips returns a lazy sequence of bookable trips matching filter, ordered
// by departure time. Assignments are fetched page by page as the caller
// consumes results, and each range over the sequence starts from the top.
// Seat counts are read at yield time and are advisory only.
func (s *SearchService) Trips(ctx context.Context, filter models.TripFilter) iter.Seq2[models.TripSummary, error] {
	return func(yield func(models.TripSummary, error) bool) {
		q := database.AssignmentQuery{
			Origin:         filter.Origin,
			Destination:    filter.Destination,
			BusType:        filter.BusType,
			Weekday:        int(filter.Date.Weekday()),
			DepartureAfter: filter.DepartureAfter,
			Limit:          searchPageSize,
		}

		for {
			if err := ctx.Err(); err != nil {
				yield(models.TripSummary{}, err)
				return
			}

			page, err := s.assignments.ListAssignments(ctx, q)
			if err != nil {
				yield(models.TripSummary{}, fmt.Errorf("failed to list assignments: %w", err))
				return
			}

			for i := range page {
				trip, ok, err := s.summarize(ctx, &page[i], filter)
				if err != nil {
					yield(models.TripSummary{}, err)
					return
				}
				if ok && !yield(trip, nil) {
					return
				}
			}

			if len(page) < q.Limit {
				return
			}
			last := page[len(page)-1]
			q.AfterDeparture = last.DepartureTime
			q.AfterID = last.ID
		}
	}
}

// summarize builds the result for one assignment on the filter date. It
// reports false for trips that are not bookable or lack enough free seats.
func (s *SearchService) summarize(ctx context.Context, a *models.BusRouteAssignment, filter models.TripFilter) (models.TripSummary, bool, error) {
	if !a.OperatesOn(filter.Date) {
		return models.TripSummary{}, false, nil
	}
	departure, err := a.DepartureOn(filter.Date, s.location)
	if err != nil {
		s.logger.WithError(err).WithField("assignment_id", a.ID).Warn("Skipping assignment with bad departure time")
		return models.TripSummary{}, false, nil
	}
	if !departure.After(s.clock()) {
		return models.TripSummary{}, false, nil
	}

	tripID := models.NewTripID(a.ID, filter.Date)
	count, source, err := s.availability(ctx, tripID)
	if err != nil {
		if models.KindOf(err) == models.KindTripNotFound {
			return models.TripSummary{}, false, nil
		}
		return models.TripSummary{}, false, fmt.Errorf("failed to read availability of %s: %w", tripID, err)
	}
	if count.FreeSeats < filter.MinFreeSeats {
		return models.TripSummary{}, false, nil
	}

	return models.TripSummary{
		TripID:             tripID,
		AssignmentID:       a.ID.String(),
		Origin:             a.Origin,
		Destination:        a.Destination,
		BusType:            a.BusType,
		DepartureAt:        departure,
		ArrivalAt:          departure.Add(time.Duration(a.DurationMinutes) * time.Minute),
		BaseFare:           a.BaseFare,
		Currency:           a.Currency,
		TotalSeats:         count.TotalSeats,
		AvailableSeats:     count.FreeSeats,
		AvailabilityAsOf:   count.AsOf,
		AvailabilitySource: source,
	}, true, nil
}

// availability reads the cached count first and falls back to the ledger,
// refilling the cache on a miss. Cache failures only degrade to the ledger.
func (s *SearchService) availability(ctx context.Context, tripID models.TripID) (models.AvailabilityCount, string, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCount(ctx, tripID)
		if err != nil {
			s.logger.WithError(err).WithField("trip_id", tripID).Warn("Availability cache read failed")
		} else if cached != nil {
			return *cached, models.AvailabilitySourceCache, nil
		}
	}

	snap, err := s.ledger.GetAvailability(ctx, tripID)
	if err != nil {
		return models.AvailabilityCount{}, "", err
	}
	count := snap.Count()

	if s.cache != nil {
		if err := s.cache.SetCount(ctx, count); err != nil {
			s.logger.WithError(err).WithField("trip_id", tripID).Warn("Availability cache write failed")
		}
	}
	return count, models.AvailabilitySourceLedger, nil
}
