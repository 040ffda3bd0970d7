package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
	"ingresso-cascade-cli/store"
)

// StageSource answers the five selection stages from the Ingresso content
// API, going through the file cache when one is configured:
//
//	City    → model.City
//	Venue   → model.Theater
//	Item    → model.TheaterMovie
//	Date    → model.ShowDay
//	Session → model.TheaterSession
type StageSource struct {
	client *Client
	store  *store.Store
	locate func(context.Context) (UserLocation, error)
	logger *slog.Logger
}

type StageOption func(*StageSource)

// WithStore caches vendor lists and applies recent history and hidden venues.
func WithStore(s *store.Store) StageOption {
	return func(src *StageSource) { src.store = s }
}

// WithLocator orders venues by distance from the located user.
func WithLocator(locate func(context.Context) (UserLocation, error)) StageOption {
	return func(src *StageSource) { src.locate = locate }
}

func WithStageLogger(logger *slog.Logger) StageOption {
	return func(src *StageSource) {
		if logger != nil {
			src.logger = logger
		}
	}
}

func NewStageSource(client *Client, opts ...StageOption) *StageSource {
	src := &StageSource{client: client, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(src)
	}
	return src
}

// Fetch implements cascade.DataSource.
func (s *StageSource) Fetch(ctx context.Context, stage cascade.Stage, lineage cascade.Lineage, generation uint64) cascade.FetchResult {
	records, err := s.fetch(ctx, stage, lineage)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Debug("stage not found upstream", "stage", stage, "error", err)
			return cascade.Ok(stage, generation, nil)
		}
		return cascade.Fail(stage, generation, classify(stage, err))
	}
	return cascade.Ok(stage, generation, records)
}

func (s *StageSource) fetch(ctx context.Context, stage cascade.Stage, lineage cascade.Lineage) ([]cascade.Record, error) {
	switch stage {
	case cascade.StageCity:
		return s.cities(ctx)
	case cascade.StageVenue:
		city, err := payloadAt[model.City](lineage, cascade.StageCity)
		if err != nil {
			return nil, err
		}
		return s.venues(ctx, city)
	case cascade.StageItem:
		city, theater, err := cityAndTheater(lineage)
		if err != nil {
			return nil, err
		}
		return s.movies(ctx, city, theater)
	case cascade.StageDate:
		city, theater, err := cityAndTheater(lineage)
		if err != nil {
			return nil, err
		}
		movie, err := payloadAt[model.TheaterMovie](lineage, cascade.StageItem)
		if err != nil {
			return nil, err
		}
		return s.days(ctx, city, theater, movie)
	case cascade.StageSession:
		day, err := payloadAt[model.ShowDay](lineage, cascade.StageDate)
		if err != nil {
			return nil, err
		}
		return sessionRecords(day), nil
	}
	return nil, fmt.Errorf("%w: %s", cascade.ErrUnknownStage, stage)
}

func (s *StageSource) cities(ctx context.Context) ([]cascade.Record, error) {
	cities, err := cached(s, "cities",
		func() ([]model.City, bool, error) { return s.store.Cities() },
		func() ([]model.City, error) { return s.client.GetCities(ctx) },
		func(v []model.City) error { return s.store.SaveCities(v) },
	)
	if err != nil {
		return nil, err
	}

	var recents []store.RecentCity
	if s.store != nil {
		recents, _ = s.store.RecentCities()
	}
	return cityRecords(cities, recents), nil
}

func (s *StageSource) venues(ctx context.Context, city model.City) ([]cascade.Record, error) {
	s.remember(func(st *store.Store) error { return st.RememberCity(city) })

	theaters, err := cached(s, "theaters",
		func() ([]model.Theater, bool, error) { return s.store.Theaters(city.Id) },
		func() ([]model.Theater, error) { return s.client.GetTheatersByCity(ctx, city.Id) },
		func(v []model.Theater) error { return s.store.SaveTheaters(city.Id, v) },
	)
	if err != nil {
		return nil, err
	}

	var (
		hidden  map[string]bool
		recents []store.RecentTheater
	)
	if s.store != nil {
		hidden, _ = s.store.HiddenTheaters(city.Id)
		recents, _ = s.store.RecentTheaters()
	}

	var location *UserLocation
	if s.locate != nil {
		loc, err := s.locate(ctx)
		if err != nil {
			s.logger.Info("venue distance unavailable", "error", err)
		} else {
			location = &loc
		}
	}
	return venueRecords(theaters, city.Id, hidden, recents, location), nil
}

func (s *StageSource) schedule(ctx context.Context, city model.City, theater model.Theater) ([]model.TheaterSessionDay, error) {
	return cached(s, "sessions",
		func() ([]model.TheaterSessionDay, bool, error) { return s.store.Sessions(city.Id, theater.Id, "") },
		func() ([]model.TheaterSessionDay, error) {
			return s.client.GetSessionsByCityAndTheater(ctx, city.Id, theater.Id, nil)
		},
		func(v []model.TheaterSessionDay) error { return s.store.SaveSessions(city.Id, theater.Id, "", v) },
	)
}

func (s *StageSource) movies(ctx context.Context, city model.City, theater model.Theater) ([]cascade.Record, error) {
	s.remember(func(st *store.Store) error { return st.RememberTheater(city.Id, theater) })

	days, err := s.schedule(ctx, city, theater)
	if err != nil {
		return nil, err
	}
	return movieRecords(days), nil
}

func (s *StageSource) days(ctx context.Context, city model.City, theater model.Theater, movie model.TheaterMovie) ([]cascade.Record, error) {
	days, err := s.schedule(ctx, city, theater)
	if err != nil {
		return nil, err
	}
	return dayRecords(days, movie.Id), nil
}

func (s *StageSource) remember(fn func(*store.Store) error) {
	if s.store == nil {
		return
	}
	if err := fn(s.store); err != nil {
		s.logger.Debug("history not saved", "error", err)
	}
}

// cached serves fresh cache entries, refreshes stale ones from the API and
// falls back to stale data when the API fails for any reason other than
// an expired session.
func cached[T any](s *StageSource, name string, load func() (T, bool, error), fetch func() (T, error), save func(T) error) (T, error) {
	if s.store == nil {
		return fetch()
	}

	stale, fresh, err := load()
	if err != nil {
		s.logger.Debug("cache unreadable", "cache", name, "error", err)
	} else if fresh {
		return stale, nil
	}

	value, fetchErr := fetch()
	if fetchErr != nil {
		if err == nil && !IsAuthExpired(fetchErr) && !isEmpty(stale) {
			s.logger.Info("serving stale cache", "cache", name, "error", fetchErr)
			return stale, nil
		}
		return value, fetchErr
	}
	if err := save(value); err != nil {
		s.logger.Debug("cache not saved", "cache", name, "error", err)
	}
	return value, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case []model.City:
		return len(t) == 0
	case []model.Theater:
		return len(t) == 0
	case []model.TheaterSessionDay:
		return len(t) == 0
	}
	return v == nil
}

// payloadAt returns the typed payload selected at stage.
func payloadAt[T any](lineage cascade.Lineage, stage cascade.Stage) (T, error) {
	var zero T
	record, ok := lineage.Selection(stage)
	if !ok {
		return zero, cascade.NewError(cascade.KindDataFormat, stage, errors.New("missing selection"))
	}
	value, ok := record.Payload.(T)
	if !ok {
		return zero, cascade.NewError(cascade.KindDataFormat, stage, fmt.Errorf("unexpected payload %T", record.Payload))
	}
	return value, nil
}

func cityAndTheater(lineage cascade.Lineage) (model.City, model.Theater, error) {
	city, err := payloadAt[model.City](lineage, cascade.StageCity)
	if err != nil {
		return model.City{}, model.Theater{}, err
	}
	theater, err := payloadAt[model.Theater](lineage, cascade.StageVenue)
	if err != nil {
		return model.City{}, model.Theater{}, err
	}
	return city, theater, nil
}

// cityRecords lists recent cities first, then the rest by name.
func cityRecords(cities []model.City, recents []store.RecentCity) []cascade.Record {
	byID := map[string]model.City{}
	byName := map[string]model.City{}
	for _, city := range cities {
		byID[city.Id] = city
		byName[strings.ToLower(city.Name)] = city
	}

	records := make([]cascade.Record, 0, len(cities))
	used := map[string]bool{}
	for _, recent := range recents {
		city, ok := byID[recent.ID]
		if !ok || recent.ID == "" {
			city, ok = byName[strings.ToLower(recent.Name)]
		}
		if !ok || used[city.Id] {
			continue
		}
		records = append(records, cityRecord(city, true))
		used[city.Id] = true
	}

	remaining := make([]model.City, 0, len(cities))
	for _, city := range cities {
		if !used[city.Id] {
			remaining = append(remaining, city)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return strings.ToLower(remaining[i].Name) < strings.ToLower(remaining[j].Name)
	})
	for _, city := range remaining {
		records = append(records, cityRecord(city, false))
	}
	return records
}

func cityRecord(city model.City, recent bool) cascade.Record {
	name := city.Name
	if city.Uf != "" {
		name = fmt.Sprintf("%s (%s)", city.Name, city.Uf)
	}
	detail := city.State
	if recent {
		detail = "Recent"
	}
	return cascade.Record{ID: city.Id, DisplayName: name, Detail: detail, Payload: city}
}

// venueRecords drops hidden theaters and orders the rest by distance when a
// location is known, otherwise recent first and then by name.
func venueRecords(theaters []model.Theater, cityID string, hidden map[string]bool, recents []store.RecentTheater, location *UserLocation) []cascade.Record {
	visible := make([]model.Theater, 0, len(theaters))
	for _, theater := range theaters {
		if !hidden[theater.Id] {
			visible = append(visible, theater)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return strings.ToLower(visible[i].Name) < strings.ToLower(visible[j].Name)
	})

	recentRank := func(theater model.Theater) int {
		for i, recent := range recents {
			if recent.CityID != "" && recent.CityID != cityID {
				continue
			}
			if recent.TheaterID == theater.Id && recent.TheaterID != "" {
				return i
			}
			if recent.Name != "" && strings.EqualFold(recent.Name, theater.Name) {
				return i
			}
		}
		return -1
	}

	if location != nil {
		sort.SliceStable(visible, func(i, j int) bool {
			left, leftOK := DistanceKM(location, visible[i])
			right, rightOK := DistanceKM(location, visible[j])
			if leftOK && rightOK && math.Abs(left-right) > 1e-6 {
				return left < right
			}
			return leftOK && !rightOK
		})
	} else {
		sort.SliceStable(visible, func(i, j int) bool {
			left, right := recentRank(visible[i]), recentRank(visible[j])
			if left < 0 || right < 0 {
				return left >= 0 && right < 0
			}
			return left < right
		})
	}

	records := make([]cascade.Record, 0, len(visible))
	for _, theater := range visible {
		var parts []string
		if recentRank(theater) >= 0 {
			parts = append(parts, "Recent")
		}
		if theater.Neighborhood != "" {
			parts = append(parts, theater.Neighborhood)
		} else if theater.Address != "" {
			parts = append(parts, theater.Address)
		}
		if distance, ok := DistanceKM(location, theater); ok {
			parts = append(parts, fmt.Sprintf("%.1f km", distance))
		}
		records = append(records, cascade.Record{
			ID:          theater.Id,
			DisplayName: theater.Name,
			Detail:      strings.Join(parts, " • "),
			Payload:     theater,
		})
	}
	return records
}

// movieRecords lists each movie of the schedule once, in first-seen order.
func movieRecords(days []model.TheaterSessionDay) []cascade.Record {
	type entry struct {
		movie model.TheaterMovie
		days  int
	}
	var order []string
	entries := map[string]*entry{}
	for _, day := range days {
		for _, movie := range day.Movies {
			if movie.Id == "" {
				continue
			}
			if e, ok := entries[movie.Id]; ok {
				e.days++
				continue
			}
			entries[movie.Id] = &entry{movie: movie, days: 1}
			order = append(order, movie.Id)
		}
	}

	records := make([]cascade.Record, 0, len(order))
	for _, id := range order {
		e := entries[id]
		var parts []string
		if e.movie.ContentRating != "" {
			parts = append(parts, e.movie.ContentRating)
		}
		if e.movie.Duration != "" {
			parts = append(parts, e.movie.Duration+" min")
		}
		if e.days == 1 {
			parts = append(parts, "1 day")
		} else {
			parts = append(parts, fmt.Sprintf("%d days", e.days))
		}
		records = append(records, cascade.Record{
			ID:          e.movie.Id,
			DisplayName: e.movie.Title,
			Detail:      strings.Join(parts, " • "),
			Payload:     e.movie,
		})
	}
	return records
}

// dayRecords lists the days movieID plays, each carrying that day's rooms.
func dayRecords(days []model.TheaterSessionDay, movieID string) []cascade.Record {
	var records []cascade.Record
	for _, day := range days {
		movie, ok := day.Movie(movieID)
		if !ok {
			continue
		}
		sessions := 0
		for _, room := range movie.Rooms {
			sessions += len(room.Sessions)
		}
		if sessions == 0 {
			continue
		}

		name := strings.TrimSpace(strings.Join([]string{day.DayOfWeek, day.DateFormatted}, " "))
		if name == "" {
			name = day.Date
		}
		detail := fmt.Sprintf("%d sessions", sessions)
		if sessions == 1 {
			detail = "1 session"
		}
		if day.IsToday {
			detail = "Today • " + detail
		}
		records = append(records, cascade.Record{
			ID:          day.Date,
			DisplayName: name,
			Detail:      detail,
			Payload: model.ShowDay{
				Date:          day.Date,
				DateFormatted: day.DateFormatted,
				DayOfWeek:     day.DayOfWeek,
				IsToday:       day.IsToday,
				Movie:         movie,
			},
		})
	}
	return records
}

// sessionRecords flattens the rooms of a day into sessions ordered by start.
func sessionRecords(day model.ShowDay) []cascade.Record {
	var sessions []model.TheaterSession
	for _, room := range day.Movie.Rooms {
		for _, session := range room.Sessions {
			if strings.TrimSpace(session.Room) == "" {
				session.Room = room.Name
			}
			sessions = append(sessions, session)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Date.LocalDate.Before(sessions[j].Date.LocalDate)
	})

	records := make([]cascade.Record, 0, len(sessions))
	for _, session := range sessions {
		room := strings.TrimSpace(session.Room)
		if room == "" {
			room = "Sala"
		}
		detail := []string{formatSessionTypes(session.Type), formatPrice(session.Price)}
		if !session.HasSeatSelection {
			detail = append(detail, "no seat selection")
		}
		records = append(records, cascade.Record{
			ID:          session.Id,
			DisplayName: fmt.Sprintf("%s • %s", session.Date.LocalDate.Format("15:04"), room),
			Detail:      strings.Join(detail, " • "),
			Payload:     session,
		})
	}
	return records
}

func formatSessionTypes(types []string) string {
	if len(types) == 0 {
		return "Standard"
	}
	return strings.Join(types, ", ")
}

func formatPrice(price float64) string {
	if price <= 0 {
		return "R$ --"
	}
	return fmt.Sprintf("R$ %.2f", price)
}

// DistanceKM returns the great-circle distance between the user and a
// theater, false when either position is unknown.
func DistanceKM(location *UserLocation, theater model.Theater) (float64, bool) {
	if location == nil || !theater.Geolocation.Valid() {
		return 0, false
	}
	return haversineKM(location.Latitude, location.Longitude, theater.Geolocation.Lat, theater.Geolocation.Lng), true
}

func haversineKM(lat1 float64, lon1 float64, lat2 float64, lon2 float64) float64 {
	const earthRadius = 6371.0
	toRad := math.Pi / 180

	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

var _ cascade.DataSource = (*StageSource)(nil)

// sessionStart is used by the seat adapter for log context.
func sessionStart(session model.TheaterSession) string {
	if session.Date.LocalDate.IsZero() {
		return ""
	}
	return session.Date.LocalDate.Format(time.DateTime)
}
