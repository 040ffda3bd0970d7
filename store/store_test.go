package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ingresso-cascade-cli/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "config"), filepath.Join(root, "cache"))
}

func TestSetTheaterHidden_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	hidden, err := s.HiddenTheaters("1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(hidden) != 0 {
		t.Fatalf("expected no hidden theaters, got %+v", hidden)
	}

	if err := s.SetTheaterHidden("1", "10", true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := s.SetTheaterHidden("1", "11", true); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	hidden, err = s.HiddenTheaters("1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !hidden["10"] || !hidden["11"] {
		t.Fatalf("expected theaters to be hidden, got %+v", hidden)
	}

	if err := s.SetTheaterHidden("1", "10", false); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	hidden, err = s.HiddenTheaters("1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hidden["10"] {
		t.Fatalf("expected theater 10 visible, got %+v", hidden)
	}
	if !hidden["11"] {
		t.Fatalf("expected theater 11 hidden, got %+v", hidden)
	}
}

func TestSetTheaterHidden_InvalidInput(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetTheaterHidden("", "10", true); err == nil {
		t.Fatal("expected error for empty city id")
	}
	if err := s.SetTheaterHidden("1", "", true); err == nil {
		t.Fatal("expected error for empty theater id")
	}
}

func TestCityCache_ExpiresAfterTTL(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	cities, fresh, err := s.Cities()
	if err != nil || fresh || len(cities) != 0 {
		t.Fatalf("expected empty stale cache, got %v %v %v", cities, fresh, err)
	}

	if err := s.SaveCities([]model.City{{Id: "1", Name: "São Paulo", Uf: "SP"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cities, fresh, err = s.Cities()
	if err != nil || !fresh || len(cities) != 1 {
		t.Fatalf("expected fresh cache, got %v %v %v", cities, fresh, err)
	}

	now = now.Add(cityCacheTTL + time.Minute)
	cities, fresh, err = s.Cities()
	if err != nil || fresh || len(cities) != 1 {
		t.Fatalf("expected stale data still returned, got %v %v %v", cities, fresh, err)
	}
}

func TestSessionCache_DefaultDateKey(t *testing.T) {
	s := newTestStore(t)
	days := []model.TheaterSessionDay{{Date: "2026-02-03"}}
	if err := s.SaveSessions("1", "10", "", days); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, fresh, err := s.Sessions("1", "10", "")
	if err != nil || !fresh || len(got) != 1 || got[0].Date != "2026-02-03" {
		t.Fatalf("unexpected cache: %v %v %v", got, fresh, err)
	}
}

func TestRememberCity_MovesToFront(t *testing.T) {
	s := newTestStore(t)
	for _, city := range []model.City{
		{Id: "1", Name: "São Paulo", Uf: "SP"},
		{Id: "2", Name: "Rio de Janeiro", Uf: "RJ"},
		{Id: "1", Name: "São Paulo", Uf: "SP"},
	} {
		if err := s.RememberCity(city); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}
	recents, err := s.RecentCities()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recents) != 2 || recents[0].ID != "1" || recents[1].ID != "2" {
		t.Fatalf("unexpected recents: %+v", recents)
	}
}

func TestRecentCities_LegacyFormat(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.configPath("history.json"), []byte(`["Recife",""]`), 0o644); err != nil {
		t.Fatal(err)
	}
	recents, err := s.RecentCities()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recents) != 1 || recents[0].Name != "Recife" {
		t.Fatalf("unexpected recents: %+v", recents)
	}
}

func TestRememberTheater_ScopedByCity(t *testing.T) {
	s := newTestStore(t)
	theater := model.Theater{Id: "10", Name: "Cinemark"}
	if err := s.RememberTheater("1", theater); err != nil {
		t.Fatal(err)
	}
	if err := s.RememberTheater("2", theater); err != nil {
		t.Fatal(err)
	}
	recents, err := s.RecentTheaters()
	if err != nil {
		t.Fatal(err)
	}
	if len(recents) != 2 || recents[0].CityID != "2" || recents[1].CityID != "1" {
		t.Fatalf("unexpected recents: %+v", recents)
	}
}

func TestSaveSnapshot(t *testing.T) {
	s := newTestStore(t)
	path, err := s.SaveSnapshot("seatmap.json", map[string]int{"available": 2})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\n  \"available\": 2\n}" {
		t.Fatalf("unexpected snapshot: %q", data)
	}
}
