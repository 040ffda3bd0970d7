package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/seats"
	"ingresso-cascade-cli/service"
	"ingresso-cascade-cli/tui"
)

var errCityNotFound = errors.New("city not found")

type onceOptions struct {
	City         string
	AuthDebounce time.Duration
	LockPolicy   seats.LockPolicy
	Logger       *slog.Logger
}

// onceResult is a finished headless search.
type onceResult struct {
	SearchID string
	Lineage  cascade.Lineage
	SeatMap  *seats.SeatMap
}

// runOnce drives a search with auto-advance on every stage until the seat
// map is ready. A blocked pipeline or any stage that fails or has no
// options ends the run with an error.
func runOnce(ctx context.Context, stages cascade.DataSource, seatSource seats.SeatSource, opts onceOptions) (onceResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result onceResult
		err    error
	}
	finished := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case finished <- o:
		default:
		}
	}

	city := strings.TrimSpace(opts.City)
	loop := cascade.NewLoop()
	var ctrl *cascade.Controller
	observe := func(event cascade.Event) {
		switch event.Kind {
		case cascade.EventPipelineBlocked:
			finish(outcome{err: fmt.Errorf("search blocked: %s: %w", event.Reason, event.Err)})
		case cascade.EventSeatMapReady:
			state := ctrl.State()
			finish(outcome{result: onceResult{
				SearchID: state.SearchID,
				Lineage:  state.Lineage(cascade.StageSeatMap),
				SeatMap:  event.SeatMap,
			}})
		case cascade.EventStageChanged:
			switch event.Slot.State {
			case cascade.SlotError, cascade.SlotNoResults:
				finish(outcome{err: event.Slot.Err})
			case cascade.SlotReady:
				if event.Stage == cascade.StageCity && city != "" {
					name := city
					city = ""
					if err := pickCity(ctrl, event.Slot, name); err != nil {
						finish(outcome{err: err})
					}
				}
			}
		}
	}

	ctrl = cascade.New(stages, seatSource, service.AuthExtractor, cascade.Options{
		Dispatcher:   loop,
		Observer:     observe,
		Logger:       opts.Logger,
		AuthDebounce: opts.AuthDebounce,
		LockPolicy:   opts.LockPolicy,
	})

	go func() { _ = loop.Run(ctx) }()
	loop.Dispatch(func() { ctrl.Initialize(ctx) })

	select {
	case o := <-finished:
		return o.result, o.err
	case <-ctx.Done():
		return onceResult{}, ctx.Err()
	}
}

// pickCity selects the city named on the command line. It runs inside the
// observer on the City Ready event, which the controller emits before it
// auto-advances, so auto-advance then finds the stage already selected.
func pickCity(ctrl *cascade.Controller, slot cascade.StageSlot, name string) error {
	record, ok := service.FindCity(slot.Options, name)
	if !ok {
		return fmt.Errorf("%w: %q", errCityNotFound, name)
	}
	return ctrl.SelectStage(cascade.StageCity, record)
}

var onceLabels = [...]string{"City", "Theater", "Movie", "Date", "Session"}

func printResult(out io.Writer, result onceResult) {
	selection := table.NewWriter()
	selection.SetOutputMirror(out)
	selection.AppendHeader(table.Row{"Stage", "Selection", "ID"})
	for i, record := range result.Lineage {
		if i < len(onceLabels) {
			selection.AppendRow(table.Row{onceLabels[i], record.DisplayName, record.ID})
		}
	}
	selection.Render()

	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.RenderSeatMap(result.SeatMap, true))
	fmt.Fprintln(out)

	counts := result.SeatMap.Counts()
	summary := table.NewWriter()
	summary.SetOutputMirror(out)
	summary.AppendHeader(table.Row{"Seats", "Count"})
	summary.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	summary.AppendRows([]table.Row{
		{"Total", result.SeatMap.Len()},
		{"Available", counts.Available + counts.Anomalous},
		{"Sold", counts.Sold - counts.Locked},
		{"Locked", counts.Locked},
		{"Anomalous", counts.Anomalous},
	})
	if counts.Dropped > 0 {
		summary.AppendRow(table.Row{"Ignored entries", counts.Dropped})
	}
	summary.Render()

	if err := result.SeatMap.Anomaly(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}
}

// snapshotName is the file name of the headless seat map snapshot.
func snapshotName(result onceResult) string {
	name := "seatmap-" + strings.ReplaceAll(result.SeatMap.Show(), "/", "-")
	if id := result.SearchID; len(id) >= 8 {
		name += "-" + id[:8]
	}
	return name + ".json"
}
