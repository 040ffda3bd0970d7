package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
	"ingresso-cascade-cli/seats"
)

// SeatSource serves the two seat listings of a session from the checkout
// API. The full roster is the section seat map; the purchasable listing is
// the section's saleable seats. Both listings resolve the section through
// the session details, which are fetched once per concurrent pair.
type SeatSource struct {
	client   *Client
	sections singleflight.Group
	logger   *slog.Logger
}

func NewSeatSource(client *Client, logger *slog.Logger) *SeatSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SeatSource{client: client, logger: logger}
}

func (s *SeatSource) FetchFullRoster(ctx context.Context, key seats.ShowKey) ([]seats.SeatRecord, error) {
	sessionID, section, err := s.section(ctx, key)
	if err != nil {
		return nil, err
	}
	seatMap, err := s.client.GetSeatMap(ctx, sessionID, section.Id)
	if err != nil {
		return nil, classify(cascade.StageSeatMap, err)
	}

	var records []seats.SeatRecord
	for _, line := range seatMap.Lines {
		for _, seat := range line.Seats {
			records = append(records, seatRecord(line.Line, seat, section.Id))
		}
	}
	return records, nil
}

func (s *SeatSource) FetchPurchasable(ctx context.Context, key seats.ShowKey) ([]seats.SeatRecord, error) {
	sessionID, section, err := s.section(ctx, key)
	if err != nil {
		return nil, err
	}
	saleable, err := s.client.GetSaleableSeats(ctx, sessionID, section.Id)
	if err != nil {
		return nil, classify(cascade.StageSeatMap, err)
	}

	records := make([]seats.SeatRecord, 0, len(saleable.Seats))
	for _, seat := range saleable.Seats {
		records = append(records, seatRecord(0, seat, section.Id))
	}
	return records, nil
}

func (s *SeatSource) section(ctx context.Context, key seats.ShowKey) (string, model.SessionSection, error) {
	sessionID := strings.TrimSpace(key.SessionID)
	if session, ok := key.Session.(model.TheaterSession); ok {
		if session.Id != "" {
			sessionID = session.Id
		}
		if !session.HasSeatSelection {
			return "", model.SessionSection{}, cascade.NewError(cascade.KindEmptyResult, cascade.StageSeatMap, errors.New("session has no seat selection"))
		}
		s.logger.Debug("resolving seat section", "session", sessionID, "starts", sessionStart(session))
	}
	if sessionID == "" {
		return "", model.SessionSection{}, cascade.NewError(cascade.KindDataFormat, cascade.StageSeatMap, errors.New("show has no session id"))
	}

	value, err, _ := s.sections.Do(sessionID, func() (any, error) {
		detail, err := s.client.GetSessionDetails(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		section, ok := detail.SeatSection()
		if !ok {
			return nil, cascade.NewError(cascade.KindEmptyResult, cascade.StageSeatMap, fmt.Errorf("session %s has no seat section", sessionID))
		}
		return section, nil
	})
	if err != nil {
		return "", model.SessionSection{}, classify(cascade.StageSeatMap, err)
	}
	return sessionID, value.(model.SessionSection), nil
}

// seatRecord maps a vendor seat onto a seat record. Rows and columns are
// 1-based; a seat without its own line number takes the line it sits on.
func seatRecord(line int, seat model.Seat, areaID string) seats.SeatRecord {
	row := seat.Line
	if row == 0 {
		row = line
	}
	identifier := strings.TrimSpace(seat.Label)
	if identifier == "" {
		identifier = seat.Id
	}
	return seats.SeatRecord{
		Coordinate: seats.SeatCoordinate{Row: row, Col: seat.Column},
		Identifier: identifier,
		AreaID:     areaID,
		RawStatus:  rawStatus(seat.Status),
	}
}

func rawStatus(status string) int {
	switch {
	case strings.EqualFold(status, model.SeatAvailable):
		return seats.RawAvailable
	case strings.EqualFold(status, model.SeatBlocked), strings.EqualFold(status, model.SeatUnavailable):
		return seats.RawLocked
	}
	return seats.RawSold
}

var _ seats.SeatSource = (*SeatSource)(nil)
