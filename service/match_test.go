package service

import (
	"testing"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
)

func TestFindCity(t *testing.T) {
	records := []cascade.Record{
		{ID: "2", Payload: model.City{Id: "2", Name: "Recife", UrlKey: "recife"}},
		{ID: "1", Payload: model.City{Id: "1", Name: "São Paulo", UrlKey: "sao-paulo"}},
		{ID: "x", Payload: "not a city"},
	}

	cases := map[string]string{
		"São Paulo":    "1",
		"sao paulo":    "1",
		"  SAO  PAULO": "1",
		"sao-paulo":    "1",
		"2":            "2",
		"recife":       "2",
	}
	for name, want := range cases {
		got, ok := FindCity(records, name)
		if !ok || got.ID != want {
			t.Fatalf("FindCity(%q) = %q, %v; want %q", name, got.ID, ok, want)
		}
	}

	for _, name := range []string{"", "Olinda", "x"} {
		if got, ok := FindCity(records, name); ok {
			t.Fatalf("FindCity(%q) matched %q", name, got.ID)
		}
	}
}
