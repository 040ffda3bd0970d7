// Package store keeps the on-disk state of the CLI: vendor response caches
// with TTLs, recent city and venue history, and hidden venues.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ingresso-cascade-cli/model"
)

// AppName names the per-user config and cache directories.
const AppName = "ingresso-cascade-cli"

const (
	cityCacheTTL     = 7 * 24 * time.Hour
	theaterCacheTTL  = 72 * time.Hour
	sessionCacheTTL  = 10 * time.Minute
	maxRecentCities  = 8
	maxRecentTheater = 8
)

// Store reads and writes JSON files under a config and a cache directory.
// Methods are safe for concurrent use as long as callers do not write the
// same file concurrently.
type Store struct {
	configDir string
	cacheDir  string
	now       func() time.Time
}

type cacheEnvelope[T any] struct {
	UpdatedAt time.Time `json:"updated_at"`
	Data      T         `json:"data"`
}

type RecentCity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	UF   string `json:"uf"`
}

type cityHistory struct {
	Cities []RecentCity `json:"cities"`
}

type RecentTheater struct {
	CityID    string `json:"city_id"`
	TheaterID string `json:"theater_id"`
	Name      string `json:"name"`
}

type theaterHistory struct {
	Theaters []RecentTheater `json:"theaters"`
}

type theaterVisibility struct {
	HiddenByCity map[string][]string `json:"hidden_by_city"`
}

// New returns a Store rooted at the given directories.
func New(configDir string, cacheDir string) *Store {
	return &Store{configDir: configDir, cacheDir: cacheDir, now: time.Now}
}

// Open returns a Store under the user's config and cache directories.
func Open() (*Store, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	return New(configDir, filepath.Join(cacheDir, AppName)), nil
}

// ConfigDir returns the per-user config directory of the CLI.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// Cities returns the cached city list and whether it is still fresh.
func (s *Store) Cities() ([]model.City, bool, error) {
	return loadFresh[[]model.City](s, s.cachePath("cities.json"), cityCacheTTL)
}

func (s *Store) SaveCities(cities []model.City) error {
	return saveCache(s, s.cachePath("cities.json"), cities)
}

// Theaters returns the cached theaters of a city and whether they are fresh.
func (s *Store) Theaters(cityID string) ([]model.Theater, bool, error) {
	return loadFresh[[]model.Theater](s, s.cachePath(fmt.Sprintf("theaters_%s.json", cityID)), theaterCacheTTL)
}

func (s *Store) SaveTheaters(cityID string, theaters []model.Theater) error {
	return saveCache(s, s.cachePath(fmt.Sprintf("theaters_%s.json", cityID)), theaters)
}

// Sessions returns the cached schedule of a theater. date may be empty for
// the vendor's default window.
func (s *Store) Sessions(cityID string, theaterID string, date string) ([]model.TheaterSessionDay, bool, error) {
	return loadFresh[[]model.TheaterSessionDay](s, s.sessionPath(cityID, theaterID, date), sessionCacheTTL)
}

func (s *Store) SaveSessions(cityID string, theaterID string, date string, days []model.TheaterSessionDay) error {
	return saveCache(s, s.sessionPath(cityID, theaterID, date), days)
}

// SaveSnapshot writes v as indented JSON into the cache directory and
// returns the file path.
func (s *Store) SaveSnapshot(name string, v any) (string, error) {
	path := s.cachePath(name)
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	if err := writeFile(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) RecentCities() ([]RecentCity, error) {
	data, err := os.ReadFile(s.configPath("history.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var history cityHistory
	if err := json.Unmarshal(data, &history); err == nil {
		return history.Cities, nil
	}

	var legacy []string
	if err := json.Unmarshal(data, &legacy); err == nil {
		var cities []RecentCity
		for _, name := range legacy {
			if name != "" {
				cities = append(cities, RecentCity{Name: name})
			}
		}
		return cities, nil
	}

	return nil, errors.New("invalid city history format")
}

// RememberCity moves city to the front of the recent list.
func (s *Store) RememberCity(city model.City) error {
	history, _ := s.RecentCities()
	next := []RecentCity{{ID: city.Id, Name: city.Name, UF: city.Uf}}

	for _, existing := range history {
		if existing.ID == city.Id && existing.ID != "" {
			continue
		}
		if stringsEqualFold(existing.Name, city.Name) && stringsEqualFold(existing.UF, city.Uf) {
			continue
		}
		next = append(next, existing)
		if len(next) >= maxRecentCities {
			break
		}
	}

	return writeJSON(s.configPath("history.json"), cityHistory{Cities: next})
}

func (s *Store) RecentTheaters() ([]RecentTheater, error) {
	data, err := os.ReadFile(s.configPath("theaters.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var history theaterHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.New("invalid theater history format")
	}
	return history.Theaters, nil
}

// RememberTheater moves theater to the front of the recent list of cityID.
func (s *Store) RememberTheater(cityID string, theater model.Theater) error {
	history, _ := s.RecentTheaters()
	next := []RecentTheater{{
		CityID:    cityID,
		TheaterID: theater.Id,
		Name:      theater.Name,
	}}

	for _, existing := range history {
		if existing.CityID == cityID && existing.TheaterID == theater.Id && existing.TheaterID != "" {
			continue
		}
		if existing.CityID == cityID && stringsEqualFold(existing.Name, theater.Name) {
			continue
		}
		next = append(next, existing)
		if len(next) >= maxRecentTheater {
			break
		}
	}

	return writeJSON(s.configPath("theaters.json"), theaterHistory{Theaters: next})
}

// HiddenTheaters returns the theater IDs hidden in cityID.
func (s *Store) HiddenTheaters(cityID string) (map[string]bool, error) {
	result := map[string]bool{}
	if strings.TrimSpace(cityID) == "" {
		return result, nil
	}

	visibility, err := s.loadTheaterVisibility()
	if err != nil {
		return nil, err
	}
	for _, theaterID := range visibility.HiddenByCity[cityID] {
		if theaterID != "" {
			result[theaterID] = true
		}
	}
	return result, nil
}

func (s *Store) SetTheaterHidden(cityID string, theaterID string, hidden bool) error {
	cityID = strings.TrimSpace(cityID)
	theaterID = strings.TrimSpace(theaterID)
	if cityID == "" || theaterID == "" {
		return errors.New("city id and theater id are required")
	}

	visibility, err := s.loadTheaterVisibility()
	if err != nil {
		return err
	}

	current := visibility.HiddenByCity[cityID]
	index := -1
	for i, id := range current {
		if id == theaterID {
			index = i
			break
		}
	}

	if hidden {
		if index < 0 {
			current = append(current, theaterID)
		}
	} else if index >= 0 {
		current = append(current[:index], current[index+1:]...)
	}

	if len(current) == 0 {
		delete(visibility.HiddenByCity, cityID)
	} else {
		sort.Strings(current)
		visibility.HiddenByCity[cityID] = current
	}
	return writeJSON(s.configPath("theater_visibility.json"), visibility)
}

func (s *Store) loadTheaterVisibility() (theaterVisibility, error) {
	data, err := os.ReadFile(s.configPath("theater_visibility.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return theaterVisibility{HiddenByCity: map[string][]string{}}, nil
		}
		return theaterVisibility{}, err
	}

	var visibility theaterVisibility
	if err := json.Unmarshal(data, &visibility); err != nil {
		return theaterVisibility{}, errors.New("invalid theater visibility format")
	}
	if visibility.HiddenByCity == nil {
		visibility.HiddenByCity = map[string][]string{}
	}
	return visibility, nil
}

// loadFresh reads a cache file. A missing file is an empty, stale cache.
func loadFresh[T any](s *Store, path string, ttl time.Duration) (T, bool, error) {
	var cache cacheEnvelope[T]
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cache.Data, false, nil
		}
		return cache.Data, false, err
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		return cache.Data, false, err
	}
	return cache.Data, s.now().Sub(cache.UpdatedAt) <= ttl, nil
}

func saveCache[T any](s *Store, path string, data T) error {
	return writeJSON(path, cacheEnvelope[T]{UpdatedAt: s.now(), Data: data})
}

func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, payload)
}

func writeFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func (s *Store) configPath(name string) string {
	return filepath.Join(s.configDir, name)
}

func (s *Store) cachePath(name string) string {
	return filepath.Join(s.cacheDir, name)
}

func (s *Store) sessionPath(cityID string, theaterID string, date string) string {
	if date == "" {
		date = "default"
	}
	return s.cachePath(fmt.Sprintf("sessions_%s_%s_%s.json", cityID, theaterID, date))
}

func stringsEqualFold(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
