package seats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Engine fetches both listings of a show and reconciles them.
type Engine struct {
	source SeatSource
	locked LockPolicy
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil locked uses DefaultLockPolicy.
func NewEngine(source SeatSource, locked LockPolicy, logger *slog.Logger) *Engine {
	if locked == nil {
		locked = DefaultLockPolicy
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{source: source, locked: locked, logger: logger}
}

// Reconcile fetches the full roster and the purchasable subset concurrently
// and waits for both before building the map. An error from either listing
// fails the whole call.
func (e *Engine) Reconcile(ctx context.Context, key ShowKey) (*SeatMap, error) {
	if e.source == nil {
		return nil, errors.New("seat source is required")
	}

	var full, purchasable []SeatRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := e.source.FetchFullRoster(gctx, key)
		if err != nil {
			return fmt.Errorf("fetch full roster for %s: %w", key, err)
		}
		full = records
		return nil
	})
	g.Go(func() error {
		records, err := e.source.FetchPurchasable(gctx, key)
		if err != nil {
			return fmt.Errorf("fetch purchasable seats for %s: %w", key, err)
		}
		purchasable = records
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := Reconcile(full, purchasable, e.locked)
	m.show = key.String()

	counts := m.Counts()
	e.logger.Debug("seat map reconciled",
		"show", m.show,
		"full", counts.Full,
		"purchasable", counts.Purchasable,
		"sold", counts.Sold,
		"locked", counts.Locked,
		"dropped", counts.Dropped,
	)
	if err := m.Anomaly(); err != nil {
		e.logger.Warn("seat listings disagree",
			"show", m.show,
			"anomalies", m.AnomalyCount(),
			"first", m.anomalies[0].String(),
		)
	}
	return m, nil
}

// Reconcile derives seat status from set membership alone:
//
//	Sold      = Full − Purchasable
//	Available = Full ∩ Purchasable
//	Anomalous = Purchasable − Full
//
// The raw status of a full-roster record is consulted only to refine a sold
// seat into Locked. Records with a non-positive row or column are dropped,
// and the first record wins when a listing repeats a coordinate.
func Reconcile(full, purchasable []SeatRecord, locked LockPolicy) *SeatMap {
	var dropped int
	fullSet, n := indexRecords(full)
	dropped += n
	purchasableSet, n := indexRecords(purchasable)
	dropped += n

	m := &SeatMap{
		seats: make([]ReconciledSeat, 0, len(fullSet)+len(purchasableSet)),
	}
	m.counts.Full = len(fullSet)
	m.counts.Purchasable = len(purchasableSet)
	m.counts.Dropped = dropped

	for coord, record := range fullSet {
		status := StatusAvailable
		if _, ok := purchasableSet[coord]; ok {
			m.counts.Available++
		} else {
			status = StatusSold
			m.counts.Sold++
			if locked != nil && locked(record.RawStatus) {
				status = StatusLocked
				m.counts.Locked++
			}
		}
		m.seats = append(m.seats, reconciled(record, status))
	}
	for coord, record := range purchasableSet {
		if _, ok := fullSet[coord]; ok {
			continue
		}
		m.anomalies = append(m.anomalies, coord)
		m.seats = append(m.seats, reconciled(record, StatusAnomalous))
	}
	m.counts.Anomalous = len(m.anomalies)

	slices.SortFunc(m.seats, func(a, b ReconciledSeat) int {
		return compareCoordinates(a.Coordinate, b.Coordinate)
	})
	slices.SortFunc(m.anomalies, compareCoordinates)

	m.index = make(map[SeatCoordinate]int, len(m.seats))
	for i, seat := range m.seats {
		m.index[seat.Coordinate] = i
	}
	return m
}

func indexRecords(records []SeatRecord) (map[SeatCoordinate]SeatRecord, int) {
	set := make(map[SeatCoordinate]SeatRecord, len(records))
	dropped := 0
	for _, record := range records {
		if !record.Coordinate.Valid() {
			dropped++
			continue
		}
		if _, seen := set[record.Coordinate]; seen {
			continue
		}
		set[record.Coordinate] = record
	}
	return set, dropped
}

func reconciled(record SeatRecord, status Status) ReconciledSeat {
	return ReconciledSeat{
		Coordinate: record.Coordinate,
		Identifier: record.Identifier,
		AreaID:     record.AreaID,
		Status:     status,
	}
}
