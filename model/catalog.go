package model

import "time"

type State struct {
	Name   string `json:"name"`
	Uf     string `json:"uf"`
	Cities []City `json:"cities"`
}

type City struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Uf       string `json:"uf"`
	State    string `json:"state"`
	UrlKey   string `json:"urlKey"`
	TimeZone string `json:"timeZone"`
}

type Theater struct {
	Id           string      `json:"id"`
	Name         string      `json:"name"`
	Address      string      `json:"address"`
	Neighborhood string      `json:"neighborhood"`
	City         string      `json:"city"`
	Uf           string      `json:"uf"`
	UrlKey       string      `json:"urlKey"`
	Geolocation  Geolocation `json:"geolocation"`
}

type Geolocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the vendor sent real coordinates.
func (g Geolocation) Valid() bool {
	return g.Lat != 0 || g.Lng != 0
}

type TheaterSessionDay struct {
	Date          string         `json:"date"`
	DateFormatted string         `json:"dateFormatted"`
	DayOfWeek     string         `json:"dayOfWeek"`
	IsToday       bool           `json:"isToday"`
	Movies        []TheaterMovie `json:"movies"`
}

// Movie returns the entry for movieID on this day.
func (d TheaterSessionDay) Movie(movieID string) (TheaterMovie, bool) {
	for _, movie := range d.Movies {
		if movie.Id == movieID {
			return movie, true
		}
	}
	return TheaterMovie{}, false
}

type TheaterMovie struct {
	Id            string        `json:"id"`
	Title         string        `json:"title"`
	OriginalTitle string        `json:"originalTitle"`
	ContentRating string        `json:"contentRating"`
	Duration      string        `json:"duration"`
	Rooms         []TheaterRoom `json:"rooms"`
}

type TheaterRoom struct {
	Name     string           `json:"name"`
	Sessions []TheaterSession `json:"sessions"`
}

type TheaterSession struct {
	Id               string   `json:"id"`
	Price            float64  `json:"price"`
	Room             string   `json:"room"`
	Type             []string `json:"type"`
	HasSeatSelection bool     `json:"hasSeatSelection"`
	Date             struct {
		LocalDate time.Time `json:"localDate"`
	} `json:"date"`
}

// ShowDay is one day a movie plays at a theater. It is the Date stage payload.
type ShowDay struct {
	Date          string       `json:"date"`
	DateFormatted string       `json:"dateFormatted"`
	DayOfWeek     string       `json:"dayOfWeek"`
	IsToday       bool         `json:"isToday"`
	Movie         TheaterMovie `json:"movie"`
}
