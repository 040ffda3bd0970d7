// Package seats derives authoritative seat availability for one show by
// diffing the full seat roster against the purchasable subset.
package seats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Conventional raw status codes. Vendor adapters map their own status
// values onto these before handing records to the engine.
const (
	RawAvailable = 0
	RawSold      = 1
	RawLocked    = 2
)

// ErrAnomaly marks a seat map whose purchasable listing names seats the
// full roster does not contain. It is informational, never fatal.
var ErrAnomaly = errors.New("seat listings disagree")

// SeatCoordinate is the vendor-independent identity of a seat.
type SeatCoordinate struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Valid reports whether both components are positive. Vendors use zero for
// aisle and spacer cells.
func (c SeatCoordinate) Valid() bool {
	return c.Row > 0 && c.Col > 0
}

func (c SeatCoordinate) String() string {
	return fmt.Sprintf("%d-%d", c.Row, c.Col)
}

func compareCoordinates(a, b SeatCoordinate) int {
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}

// SeatRecord is one entry of a seat listing, normalised at the SeatSource boundary.
type SeatRecord struct {
	Coordinate SeatCoordinate
	Identifier string
	AreaID     string
	RawStatus  int
}

// Status is the reconciled state of a seat.
type Status int

const (
	StatusAvailable Status = iota
	StatusSold
	StatusLocked
	StatusAnomalous
)

var statusNames = [...]string{"available", "sold", "locked", "anomalous"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ReconciledSeat is a seat with its derived status.
type ReconciledSeat struct {
	Coordinate SeatCoordinate `json:"coordinate"`
	Identifier string         `json:"identifier"`
	AreaID     string         `json:"areaId"`
	Status     Status         `json:"status"`
}

// Sellable reports whether the seat can be offered to the user. Anomalous
// seats stay sellable: the vendor claims they are for sale.
func (s ReconciledSeat) Sellable() bool {
	return s.Status == StatusAvailable || s.Status == StatusAnomalous
}

// ShowKey identifies the (venue, session) pair a seat map belongs to. Venue
// and Session carry the typed payloads of the selected records so the
// vendor adapter can read whatever extra identifiers it needs.
type ShowKey struct {
	VenueID   string
	SessionID string
	Venue     any
	Session   any
}

func (k ShowKey) String() string {
	return k.VenueID + "/" + k.SessionID
}

// SeatSource fetches the two listings of a show. The calls are independent
// and may run concurrently.
type SeatSource interface {
	FetchFullRoster(ctx context.Context, key ShowKey) ([]SeatRecord, error)
	FetchPurchasable(ctx context.Context, key ShowKey) ([]SeatRecord, error)
}

// LockPolicy reports whether a raw status from the full roster encodes a
// lock distinct from a sale.
type LockPolicy func(rawStatus int) bool

// LockedCodes returns a LockPolicy matching any of codes.
func LockedCodes(codes ...int) LockPolicy {
	set := make(map[int]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return func(raw int) bool { return set[raw] }
}

// DefaultLockPolicy treats RawLocked as a lock.
var DefaultLockPolicy = LockedCodes(RawLocked)

// Counts summarises a SeatMap. Sold is the size of Full − Purchasable and
// therefore includes Locked seats.
type Counts struct {
	Full        int `json:"full"`
	Purchasable int `json:"purchasable"`
	Available   int `json:"available"`
	Sold        int `json:"sold"`
	Locked      int `json:"locked"`
	Anomalous   int `json:"anomalous"`
	Dropped     int `json:"dropped"`
}

// Consistent reports whether |Full| == |Purchasable| + |Sold|.
func (c Counts) Consistent() bool {
	return c.Full == c.Purchasable+c.Sold
}

// SeatMap is the reconciled seat map of one show. It is never modified
// after Reconcile returns it and may be shared freely.
type SeatMap struct {
	show      string
	seats     []ReconciledSeat
	index     map[SeatCoordinate]int
	anomalies []SeatCoordinate
	counts    Counts
}

// Show returns the ShowKey string the map was built for.
func (m *SeatMap) Show() string { return m.show }

// Seats returns a copy of the seats ordered by row, then column.
func (m *SeatMap) Seats() []ReconciledSeat {
	return slices.Clone(m.seats)
}

// Seat looks a seat up by coordinate.
func (m *SeatMap) Seat(c SeatCoordinate) (ReconciledSeat, bool) {
	i, ok := m.index[c]
	if !ok {
		return ReconciledSeat{}, false
	}
	return m.seats[i], true
}

// Len returns the number of seats, anomalous ones included.
func (m *SeatMap) Len() int { return len(m.seats) }

// AnomalyCount returns |Purchasable − Full|.
func (m *SeatMap) AnomalyCount() int { return len(m.anomalies) }

// Anomalies returns the anomalous coordinates in order.
func (m *SeatMap) Anomalies() []SeatCoordinate {
	return slices.Clone(m.anomalies)
}

func (m *SeatMap) Counts() Counts { return m.counts }

// Anomaly returns an error wrapping ErrAnomaly when the listings disagreed,
// nil otherwise.
func (m *SeatMap) Anomaly() error {
	if len(m.anomalies) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d purchasable seats missing from roster of %s", ErrAnomaly, len(m.anomalies), m.show)
}

// Bounds returns the highest row and column present.
func (m *SeatMap) Bounds() (rows int, cols int) {
	for _, seat := range m.seats {
		rows = max(rows, seat.Coordinate.Row)
		cols = max(cols, seat.Coordinate.Col)
	}
	return rows, cols
}

type seatMapJSON struct {
	Show         string           `json:"show"`
	Seats        []ReconciledSeat `json:"seats"`
	AnomalyCount int              `json:"anomalyCount"`
	Counts       Counts           `json:"counts"`
}

func (m *SeatMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(seatMapJSON{
		Show:         m.show,
		Seats:        m.seats,
		AnomalyCount: len(m.anomalies),
		Counts:       m.counts,
	})
}
