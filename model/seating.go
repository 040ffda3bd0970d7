package model

import "time"

// Seat status strings used by the seat endpoints.
const (
	SeatAvailable   = "Available"
	SeatOccupied    = "Occupied"
	SeatBlocked     = "Blocked"
	SeatUnavailable = "Unavailable"
)

type SessionDetail struct {
	Id       string           `json:"id"`
	Date     time.Time        `json:"date"`
	Sections []SessionSection `json:"sections"`
}

// SeatSection returns the first section that supports seat selection.
func (d SessionDetail) SeatSection() (SessionSection, bool) {
	for _, section := range d.Sections {
		if section.HasSeatSelection && section.Id != "" {
			return section, true
		}
	}
	return SessionSection{}, false
}

type SessionSection struct {
	Id               string  `json:"id"`
	Name             string  `json:"name"`
	Capacity         int     `json:"capacity"`
	HasSeatSelection bool    `json:"hasSeatSelection"`
	Layout           string  `json:"layout"`
	HighestPrice     float64 `json:"highestPrice"`
	LowestPrice      float64 `json:"lowestPrice"`
}

// SeatMap is the full seat roster of a section.
type SeatMap struct {
	Id     string     `json:"id"`
	Bounds SeatBounds `json:"bounds"`
	Lines  []SeatLine `json:"lines"`
}

type SeatBounds struct {
	Lines   int `json:"lines"`
	Columns int `json:"columns"`
}

type SeatLine struct {
	Line  int    `json:"line"`
	Seats []Seat `json:"seats"`
}

type Seat struct {
	Id          string `json:"id"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
}

// SaleableSeats is the purchasable listing of a section.
type SaleableSeats struct {
	SectionId string `json:"sectionId"`
	Seats     []Seat `json:"seats"`
}

// VendorStatus is the status envelope some endpoints send in place of data.
// Ret 0 with Sub 408 means the session token expired.
type VendorStatus struct {
	Ret int    `json:"ret"`
	Sub int    `json:"sub"`
	Msg string `json:"msg"`
}

// TokenExpired reports whether the envelope signals an expired token.
func (s VendorStatus) TokenExpired() bool {
	return s.Ret == 0 && s.Sub == 408
}
