package dashboard

import (
	"context"
	"slices"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/groundwater/internal/apperr"
	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/search"
	"github.com/sells-group/groundwater/internal/store"
)

// DefaultMaxConcurrency bounds concurrent per-station reading lookups.
const DefaultMaxConcurrency = 8

// readingsPerCard is how many recent readings a card needs: latest and previous.
const readingsPerCard = 2

// Service answers the dashboard read queries.
type Service struct {
	store          store.Reader
	clock          clockwork.Clock
	maxConcurrency int
}

// NewService creates a Service. A non-positive maxConcurrency uses
// DefaultMaxConcurrency.
func NewService(r store.Reader, clock clockwork.Clock, maxConcurrency int) *Service {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Service{store: r, clock: clock, maxConcurrency: maxConcurrency}
}

// Home returns a card for every station in a district matching term. No
// station lookup is issued when no district matches.
func (s *Service) Home(ctx context.Context, term string) ([]model.StationCard, error) {
	districts, err := s.store.ListDistricts(ctx, store.DistrictFilter{Search: search.NewTerm(term)})
	if err != nil {
		return nil, apperr.Store(err, "dashboard: list districts")
	}
	if len(districts) == 0 {
		return []model.StationCard{}, nil
	}

	ids := make([]int64, len(districts))
	for i, d := range districts {
		ids[i] = d.ID
	}
	stations, err := s.store.ListStationsByDistricts(ctx, ids)
	if err != nil {
		return nil, apperr.Store(err, "dashboard: list stations")
	}

	return s.Cards(ctx, stations)
}

// Cards builds one card per station, in station order. A store failure for
// any station fails the whole batch; missing data never does.
func (s *Service) Cards(ctx context.Context, stations []model.Station) ([]model.StationCard, error) {
	now := s.clock.Now()
	cards := make([]model.StationCard, len(stations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i, st := range stations {
		g.Go(func() error {
			readings, err := s.store.LatestReadings(gctx, st.ID, readingsPerCard)
			if err != nil {
				zap.L().Error("dashboard: latest readings failed",
					zap.Int64("station_id", st.ID),
					zap.Error(err),
				)
				return apperr.Store(err, "dashboard: latest readings")
			}
			cards[i] = BuildCard(st, readings, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cards, nil
}

// Districts returns every district grouped by state, states sorted.
func (s *Service) Districts(ctx context.Context) (*model.DistrictListing, error) {
	districts, err := s.store.ListDistricts(ctx, store.DistrictFilter{})
	if err != nil {
		return nil, apperr.Store(err, "dashboard: list districts")
	}

	listing := &model.DistrictListing{
		States:    []string{},
		Districts: make(map[string][]model.DistrictRef),
	}
	for _, d := range districts {
		if _, ok := listing.Districts[d.State]; !ok {
			listing.States = append(listing.States, d.State)
		}
		listing.Districts[d.State] = append(listing.Districts[d.State], model.DistrictRef{ID: d.ID, Name: d.Name})
	}
	slices.Sort(listing.States)
	return listing, nil
}
