package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
	"ingresso-cascade-cli/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	root := t.TempDir()
	return store.New(filepath.Join(root, "config"), filepath.Join(root, "cache"))
}

func ids(records []cascade.Record) []string {
	out := make([]string, len(records))
	for i, record := range records {
		out[i] = record.ID
	}
	return out
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func fetchOK(t *testing.T, src *StageSource, stage cascade.Stage, lineage cascade.Lineage) []cascade.Record {
	t.Helper()
	result := src.Fetch(context.Background(), stage, lineage, 7)
	if result.Err != nil {
		t.Fatalf("fetch %s: %v", stage, result.Err)
	}
	if result.Generation != 7 || result.Stage != stage {
		t.Fatalf("result does not echo the request: %+v", result)
	}
	return result.Records
}

var (
	saoPaulo  = model.City{Id: "1", Name: "São Paulo", Uf: "SP"}
	paulista  = model.Theater{Id: "10", Name: "Cinemark Paulista"}
	movieOne  = model.TheaterMovie{Id: "99", Title: "Movie One"}
	movieTwo  = model.TheaterMovie{Id: "77", Title: "Movie Two"}
	baseLines = cascade.Lineage{{ID: "1", Payload: saoPaulo}, {ID: "10", Payload: paulista}}
)

func TestStageSource_CitiesRecentFirst(t *testing.T) {
	fake := newFakeIngresso(t, nil)
	st := testStore(t)
	if err := st.RememberCity(model.City{Id: "3", Name: "Campinas", Uf: "SP"}); err != nil {
		t.Fatal(err)
	}
	src := NewStageSource(fake.client(), WithStore(st))

	records := fetchOK(t, src, cascade.StageCity, nil)
	if got := ids(records); !equalIDs(got, "3", "2", "1") {
		t.Fatalf("unexpected order: %v", got)
	}
	if records[0].Detail != "Recent" || records[2].DisplayName != "São Paulo (SP)" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if _, ok := records[1].Payload.(model.City); !ok {
		t.Fatalf("expected model.City payload, got %T", records[1].Payload)
	}

	fetchOK(t, src, cascade.StageCity, nil)
	if got := fake.count("GET /states"); got != 1 {
		t.Fatalf("expected cached city list, got %d requests", got)
	}
}

func TestStageSource_VenuesFilterHiddenAndRememberCity(t *testing.T) {
	fake := newFakeIngresso(t, nil)
	st := testStore(t)
	if err := st.SetTheaterHidden("1", "11", true); err != nil {
		t.Fatal(err)
	}
	if err := st.RememberTheater("1", paulista); err != nil {
		t.Fatal(err)
	}
	src := NewStageSource(fake.client(), WithStore(st))

	records := fetchOK(t, src, cascade.StageVenue, cascade.Lineage{{ID: "1", Payload: saoPaulo}})
	if got := ids(records); !equalIDs(got, "10", "12") {
		t.Fatalf("unexpected venues: %v", got)
	}
	if records[0].Detail != "Recent • Bela Vista" {
		t.Fatalf("unexpected detail: %q", records[0].Detail)
	}

	recents, err := st.RecentCities()
	if err != nil || len(recents) != 1 || recents[0].ID != "1" {
		t.Fatalf("expected city remembered, got %+v %v", recents, err)
	}
}

func TestStageSource_VenuesByDistance(t *testing.T) {
	fake := newFakeIngresso(t, nil)
	morumbi := UserLocation{Latitude: -23.6200, Longitude: -46.7000, Source: "test"}
	src := NewStageSource(fake.client(), WithLocator(func(context.Context) (UserLocation, error) {
		return morumbi, nil
	}))

	records := fetchOK(t, src, cascade.StageVenue, cascade.Lineage{{ID: "1", Payload: saoPaulo}})
	if got := ids(records); !equalIDs(got, "11", "10", "12") {
		t.Fatalf("unexpected order: %v", got)
	}
	if records[0].Detail != "Morumbi • 0.3 km" {
		t.Fatalf("unexpected detail: %q", records[0].Detail)
	}
}

func TestStageSource_VenuesIgnoreLocatorFailure(t *testing.T) {
	fake := newFakeIngresso(t, nil)
	src := NewStageSource(fake.client(), WithLocator(func(context.Context) (UserLocation, error) {
		return UserLocation{}, errors.New("offline")
	}))

	records := fetchOK(t, src, cascade.StageVenue, cascade.Lineage{{ID: "1", Payload: saoPaulo}})
	if got := ids(records); !equalIDs(got, "12", "10", "11") {
		t.Fatalf("expected name order, got %v", got)
	}
}

func TestStageSource_MoviesDatesSessions(t *testing.T) {
	fake := newFakeIngresso(t, nil)
	src := NewStageSource(fake.client(), WithStore(testStore(t)))

	movies := fetchOK(t, src, cascade.StageItem, baseLines)
	if got := ids(movies); !equalIDs(got, "99", "77") {
		t.Fatalf("unexpected movies: %v", got)
	}
	if movies[0].Detail != "14 • 120 min • 2 days" {
		t.Fatalf("unexpected movie detail: %q", movies[0].Detail)
	}

	lineage := append(baseLines[:2:2], cascade.Record{ID: "99", Payload: movieOne})
	days := fetchOK(t, src, cascade.StageDate, lineage)
	if got := ids(days); !equalIDs(got, "2026-02-03", "2026-02-04") {
		t.Fatalf("unexpected days: %v", got)
	}
	if days[0].DisplayName != "terça-feira 03/02" || days[0].Detail != "Today • 2 sessions" {
		t.Fatalf("unexpected day record: %+v", days[0])
	}

	other := append(baseLines[:2:2], cascade.Record{ID: "77", Payload: movieTwo})
	if got := ids(fetchOK(t, src, cascade.StageDate, other)); !equalIDs(got, "2026-02-03") {
		t.Fatalf("unexpected days for movie two: %v", got)
	}

	day, ok := days[0].Payload.(model.ShowDay)
	if !ok {
		t.Fatalf("expected ShowDay payload, got %T", days[0].Payload)
	}
	sessions := fetchOK(t, src, cascade.StageSession, append(lineage, days[0]))
	if got := ids(sessions); !equalIDs(got, "124", "123") {
		t.Fatalf("expected sessions by start time, got %v", got)
	}
	if sessions[0].DisplayName != "14:00 • Sala VIP" || sessions[1].DisplayName != "19:30 • Sala 1" {
		t.Fatalf("unexpected session names: %q %q", sessions[0].DisplayName, sessions[1].DisplayName)
	}
	if day.Movie.Id != "99" {
		t.Fatalf("unexpected day movie: %+v", day.Movie)
	}

	if got := fake.count("GET /sessions/city/{city}/theater/{theater}"); got != 1 {
		t.Fatalf("expected one schedule request, got %d", got)
	}
}

func TestStageSource_WrongPayloadIsDataFormat(t *testing.T) {
	src := NewStageSource(newFakeIngresso(t, nil).client())
	result := src.Fetch(context.Background(), cascade.StageVenue, cascade.Lineage{{ID: "1", Payload: "São Paulo"}}, 1)
	if cascade.KindOf(result.Err) != cascade.KindDataFormat {
		t.Fatalf("expected data format error, got %v", result.Err)
	}
}

func TestStageSource_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    cascade.Kind
	}{
		{"unauthorized", statusHandler(http.StatusUnauthorized, ""), cascade.KindAuthExpired},
		{"vendor envelope", jsonHandler(`{"ret":0,"sub":408,"msg":"获取TOKEN超时"}`), cascade.KindAuthExpired},
		{"server error", statusHandler(http.StatusBadGateway, "bad gateway"), cascade.KindNetwork},
		{"malformed", jsonHandler(`[{"id": 1`), cascade.KindDataFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeIngresso(t, map[string]http.HandlerFunc{"GET /theaters/city/{city}": tc.handler})
			src := NewStageSource(fake.client())
			result := src.Fetch(context.Background(), cascade.StageVenue, cascade.Lineage{{ID: "1", Payload: saoPaulo}}, 3)
			if got := cascade.KindOf(result.Err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, result.Err)
			}
		})
	}
}

func TestStageSource_NotFoundIsEmpty(t *testing.T) {
	fake := newFakeIngresso(t, map[string]http.HandlerFunc{
		"GET /sessions/city/{city}/theater/{theater}": statusHandler(http.StatusNotFound, ""),
	})
	src := NewStageSource(fake.client())
	result := src.Fetch(context.Background(), cascade.StageItem, baseLines, 5)
	if result.Err != nil || len(result.Records) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestStageSource_StaleCacheWhenOffline(t *testing.T) {
	root := t.TempDir()
	st := store.New(filepath.Join(root, "config"), filepath.Join(root, "cache"))
	if err := os.MkdirAll(filepath.Join(root, "cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := `{"updated_at":"2020-01-01T00:00:00Z","data":[{"id":"9","name":"Olinda","uf":"PE"}]}`
	if err := os.WriteFile(filepath.Join(root, "cache", "cities.json"), []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := newFakeIngresso(t, map[string]http.HandlerFunc{"GET /states": statusHandler(http.StatusServiceUnavailable, "down")})
	src := NewStageSource(fake.client(), WithStore(st))
	records := fetchOK(t, src, cascade.StageCity, nil)
	if got := ids(records); !equalIDs(got, "9") {
		t.Fatalf("expected stale cities, got %v", got)
	}
	if fake.count("GET /states") != 1 {
		t.Fatal("expected a refresh attempt before falling back")
	}
}

func TestStageSource_StaleCacheNotServedOnAuthExpiry(t *testing.T) {
	root := t.TempDir()
	st := store.New(filepath.Join(root, "config"), filepath.Join(root, "cache"))
	if err := os.MkdirAll(filepath.Join(root, "cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := `{"updated_at":"2020-01-01T00:00:00Z","data":[{"id":"9","name":"Olinda","uf":"PE"}]}`
	if err := os.WriteFile(filepath.Join(root, "cache", "cities.json"), []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := newFakeIngresso(t, map[string]http.HandlerFunc{"GET /states": statusHandler(http.StatusUnauthorized, "")})
	src := NewStageSource(fake.client(), WithStore(st))
	result := src.Fetch(context.Background(), cascade.StageCity, nil, 1)
	if !errors.Is(result.Err, cascade.ErrAuthExpired) {
		t.Fatalf("expected auth expiry, got %v", result.Err)
	}
}
