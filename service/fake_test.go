package service

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const statesJSON = `[
  {"name": "Pernambuco", "uf": "PE", "cities": [
    {"id": "2", "name": "Recife", "uf": "PE", "state": "Pernambuco", "urlKey": "recife"}
  ]},
  {"name": "São Paulo", "uf": "SP", "cities": [
    {"id": "1", "name": "São Paulo", "uf": "SP", "state": "São Paulo", "urlKey": "sao-paulo"},
    {"id": "3", "name": "Campinas", "uf": "SP", "state": "São Paulo", "urlKey": "campinas"}
  ]}
]`

const theatersJSON = `[
  {"id": "10", "name": "Cinemark Paulista", "neighborhood": "Bela Vista", "geolocation": {"lat": -23.5614, "lng": -46.6559}},
  {"id": "11", "name": "Cinesystem Morumbi", "neighborhood": "Morumbi", "geolocation": {"lat": -23.6226, "lng": -46.6989}},
  {"id": "12", "name": "Atelier", "address": "Rua Augusta"}
]`

const scheduleJSON = `[
  {
    "date": "2026-02-03",
    "dateFormatted": "03/02",
    "dayOfWeek": "terça-feira",
    "isToday": true,
    "movies": [
      {
        "id": "99",
        "title": "Movie One",
        "contentRating": "14",
        "duration": "120",
        "rooms": [
          {"name": "Sala 1", "sessions": [
            {"id": "123", "price": 40.0, "type": ["Dublado"], "hasSeatSelection": true, "date": {"localDate": "2026-02-03T19:30:00-03:00"}},
            {"id": "124", "price": 30.0, "room": "Sala VIP", "type": ["Legendado"], "hasSeatSelection": true, "date": {"localDate": "2026-02-03T14:00:00-03:00"}}
          ]}
        ]
      },
      {
        "id": "77",
        "title": "Movie Two",
        "rooms": [
          {"name": "Sala 2", "sessions": [
            {"id": "200", "price": 25.0, "hasSeatSelection": false, "date": {"localDate": "2026-02-03T21:00:00-03:00"}}
          ]}
        ]
      }
    ]
  },
  {
    "date": "2026-02-04",
    "dateFormatted": "04/02",
    "dayOfWeek": "quarta-feira",
    "movies": [
      {
        "id": "99",
        "title": "Movie One",
        "rooms": [
          {"name": "Sala 1", "sessions": [
            {"id": "125", "price": 40.0, "hasSeatSelection": true, "date": {"localDate": "2026-02-04T19:30:00-03:00"}}
          ]}
        ]
      }
    ]
  }
]`

const sessionDetailJSON = `{
  "id": "123",
  "sections": [
    {"id": "455", "name": "Camarote", "hasSeatSelection": false},
    {"id": "456", "name": "Sala 1", "hasSeatSelection": true}
  ]
}`

// Row 1: three seats and an aisle cell; row 2: a blocked seat and a free one.
const seatMapJSON = `{
  "id": "456",
  "bounds": {"lines": 2, "columns": 3},
  "lines": [
    {"line": 1, "seats": [
      {"id": "a1", "label": "A1", "line": 1, "column": 1, "status": "Available"},
      {"id": "a2", "label": "A2", "line": 1, "column": 2, "status": "Occupied"},
      {"id": "a3", "label": "A3", "line": 1, "column": 3, "status": "Available"},
      {"id": "aisle", "line": 1, "column": 0, "status": "Available"}
    ]},
    {"line": 2, "seats": [
      {"id": "b1", "label": "B1", "column": 1, "status": "Blocked"},
      {"id": "b2", "label": "B2", "column": 2, "status": "Available"}
    ]}
  ]
}`

const saleableJSON = `{
  "sectionId": "456",
  "seats": [
    {"id": "a1", "label": "A1", "line": 1, "column": 1, "status": "Available"},
    {"id": "a3", "label": "A3", "line": 1, "column": 3, "status": "Available"},
    {"id": "b2", "label": "B2", "line": 2, "column": 2, "status": "Available"}
  ]
}`

// fakeIngresso serves both the content and the checkout API. Handlers can
// be replaced per path pattern before the first request.
type fakeIngresso struct {
	*httptest.Server

	mu    sync.Mutex
	hits  map[string]int
	fixed map[string]http.HandlerFunc
}

func newFakeIngresso(t *testing.T, overrides map[string]http.HandlerFunc) *fakeIngresso {
	t.Helper()
	f := &fakeIngresso{hits: map[string]int{}, fixed: map[string]http.HandlerFunc{
		"GET /states":                                               jsonHandler(statesJSON),
		"GET /theaters/city/{city}":                                 jsonHandler(theatersJSON),
		"GET /sessions/city/{city}/theater/{theater}":               jsonHandler(scheduleJSON),
		"GET /sessions/{session}":                                   jsonHandler(sessionDetailJSON),
		"GET /sessions/{session}/sections/{section}/seats":          jsonHandler(seatMapJSON),
		"GET /sessions/{session}/sections/{section}/seats/saleable": jsonHandler(saleableJSON),
	}}
	for pattern, handler := range overrides {
		f.fixed[pattern] = handler
	}

	mux := http.NewServeMux()
	for pattern, handler := range f.fixed {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.hits[pattern]++
			f.mu.Unlock()
			handler(w, r)
		})
	}
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIngresso) client() *Client {
	c := NewClient(f.Client(), WithBaseURLs(f.URL, f.URL))
	c.maxAttempts = 1
	return c
}

func (f *fakeIngresso) count(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[pattern]
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func statusHandler(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}
