// Package cascade drives the dependent City → Venue → Item → Date → Session
// → SeatMap selection flow.
//
// A Controller owns the pipeline state and must only be called from one
// goroutine, the owner. Fetches run on their own goroutines and report back
// through the Dispatcher, which runs completions on the owner goroutine.
// Every fetch is tagged with the pipeline generation it was issued under; a
// completion whose generation no longer matches is discarded, so superseded
// requests never need to be cancelled.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ingresso-cascade-cli/authguard"
	"ingresso-cascade-cli/clock"
	"ingresso-cascade-cli/seats"
)

// Options configures a Controller. Dispatcher is required.
type Options struct {
	Dispatcher Dispatcher
	Observer   Observer
	Logger     *slog.Logger
	Clock      clock.Clock

	// AuthDebounce is the SessionGuard window; zero means authguard.DefaultWindow.
	AuthDebounce time.Duration

	// ManualStages have auto-advance disabled.
	ManualStages []Stage

	// LockPolicy refines sold seats into locked ones.
	LockPolicy seats.LockPolicy
}

// Controller is the single authority over a PipelineState.
type Controller struct {
	source    DataSource
	engine    *seats.Engine
	extractor authguard.Extractor
	guard     *authguard.Guard
	dispatch  Dispatcher
	observe   Observer
	logger    *slog.Logger
	log       *slog.Logger

	ctx     context.Context
	state   PipelineState
	manual  [NumStages]bool
	seatMap *seats.SeatMap
	dropped int
}

// New creates a Controller. A nil extractor recognises only errors wrapping
// ErrAuthExpired.
func New(source DataSource, seatSource seats.SeatSource, extractor authguard.Extractor, opts Options) *Controller {
	if opts.Dispatcher == nil {
		panic("cascade: Options.Dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observe := opts.Observer
	if observe == nil {
		observe = func(Event) {}
	}
	if extractor == nil {
		extractor = authguard.ExtractorFunc(func(error) bool { return false })
	}

	c := &Controller{
		source:    source,
		engine:    seats.NewEngine(seatSource, opts.LockPolicy, logger.With("component", "seats")),
		extractor: extractor,
		dispatch:  opts.Dispatcher,
		observe:   observe,
		logger:    logger,
		log:       logger,
		ctx:       context.Background(),
	}
	c.guard = authguard.New(opts.AuthDebounce, opts.Clock, logger.With("component", "authguard"))
	for _, stage := range opts.ManualStages {
		if stage.Valid() {
			c.manual[stage] = true
		}
	}
	for _, stage := range Stages() {
		c.state.Slots[stage] = StageSlot{Stage: stage}
	}
	return c
}

// Initialize starts a new search: every stage is emptied, the generation is
// bumped and the first stage is fetched with an empty lineage. It is also
// the only way out of a blocked pipeline.
func (c *Controller) Initialize(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx

	generation := c.state.Generation + 1
	c.state = PipelineState{
		SearchID:   uuid.NewString(),
		Generation: generation,
	}
	for _, stage := range Stages() {
		c.state.Slots[stage] = StageSlot{Stage: stage, Generation: generation}
	}
	c.seatMap = nil
	c.log = c.logger.With("search", c.state.SearchID)
	c.log.Info("search started", "generation", generation)

	for _, stage := range Stages() {
		c.emitStage(stage)
	}
	c.issue(StageCity)
}

// SelectStage selects record at stage, empties everything below it and
// fetches the next stage. The record must come from the slot's current
// option list; a record from an older list is rejected with ErrStaleOption
// even if its contents match.
func (c *Controller) SelectStage(stage Stage, record Record) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, int(stage))
	}
	if c.state.Blocked {
		return ErrBlocked
	}
	next, ok := stage.Next()
	if !ok {
		return fmt.Errorf("%w: %s", ErrFinalStage, stage)
	}
	slot := &c.state.Slots[stage]
	if slot.State != SlotReady {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, stage, slot.State)
	}
	option, ok := slot.issuedOption(record)
	if !ok {
		return fmt.Errorf("%w: %s option %q", ErrStaleOption, stage, record.ID)
	}

	slot.Selection = &option
	c.invalidate(stage)
	c.log.Debug("stage selected", "stage", stage, "id", option.ID, "generation", c.state.Generation)
	c.emitStage(stage)
	c.issue(next)
	return nil
}

// AutoAdvance selects the first option of stage when auto-advance is enabled
// for it and the stage is ready without a selection. It reports whether a
// selection was made.
func (c *Controller) AutoAdvance(stage Stage) bool {
	if !stage.Valid() || stage == StageSeatMap || c.state.Blocked || c.manual[stage] {
		return false
	}
	slot := c.state.Slots[stage]
	if slot.State != SlotReady || slot.Selection != nil || len(slot.Options) == 0 {
		return false
	}
	if err := c.SelectStage(stage, slot.Options[0]); err != nil {
		c.log.Debug("auto-advance skipped", "stage", stage, "error", err)
		return false
	}
	return true
}

// SetAutoAdvance enables or disables auto-advance for stage.
func (c *Controller) SetAutoAdvance(stage Stage, enabled bool) {
	if stage.Valid() {
		c.manual[stage] = !enabled
	}
}

// AutoAdvanceEnabled reports whether auto-advance is on for stage.
func (c *Controller) AutoAdvanceEnabled(stage Stage) bool {
	return stage.Valid() && stage != StageSeatMap && !c.manual[stage]
}

// Reset applies the invalidation of a selection at fromStage without making
// one: the generation is bumped and every stage below fromStage is emptied.
// A fromStage that was still loading is emptied too, since its fetch is now
// stale.
func (c *Controller) Reset(fromStage Stage) error {
	if !fromStage.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, int(fromStage))
	}
	if c.state.Blocked {
		return ErrBlocked
	}
	slot := &c.state.Slots[fromStage]
	wasLoading := slot.State == SlotLoading
	c.invalidate(fromStage)
	if wasLoading {
		*slot = StageSlot{Stage: fromStage, Generation: c.state.Generation}
		c.emitStage(fromStage)
	}
	c.log.Debug("pipeline reset", "from", fromStage, "generation", c.state.Generation)
	return nil
}

// Retry fetches stage again. It is the recovery path for a stage in Error
// and also refreshes a stage that loaded fine. Stages below are emptied.
func (c *Controller) Retry(stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, int(stage))
	}
	if c.state.Blocked {
		return ErrBlocked
	}
	if stage > StageCity && c.state.Slots[stage-1].Selection == nil {
		return fmt.Errorf("%w: %s", ErrParentMissing, stage)
	}
	c.invalidate(stage)
	c.log.Debug("stage retry", "stage", stage, "generation", c.state.Generation)
	c.issue(stage)
	return nil
}

// State returns a copy of the pipeline.
func (c *Controller) State() PipelineState { return c.state.clone() }

// Slot returns a copy of one stage's slot.
func (c *Controller) Slot(stage Stage) StageSlot {
	if !stage.Valid() {
		return StageSlot{Stage: stage}
	}
	return c.state.Slots[stage].clone()
}

func (c *Controller) Generation() uint64 { return c.state.Generation }

func (c *Controller) Blocked() bool { return c.state.Blocked }

func (c *Controller) SearchID() string { return c.state.SearchID }

// SeatMap returns the seat map of the current search, nil until one is ready.
func (c *Controller) SeatMap() *seats.SeatMap { return c.seatMap }

// Dropped returns how many completions were discarded as stale.
func (c *Controller) Dropped() int { return c.dropped }

// SuppressedAuthSignals returns how many auth-expiry signals the debounce swallowed.
func (c *Controller) SuppressedAuthSignals() int { return c.guard.Suppressed() }

// invalidate bumps the generation and empties every stage below stage.
func (c *Controller) invalidate(stage Stage) {
	c.state.Generation++
	for s := stage + 1; s <= StageSeatMap; s++ {
		slot := &c.state.Slots[s]
		changed := slot.State != SlotEmpty || slot.Selection != nil
		*slot = StageSlot{Stage: s, Generation: c.state.Generation}
		if s == StageSeatMap {
			c.seatMap = nil
		}
		if changed {
			c.emitStage(s)
		}
	}
}

// issue moves stage to Loading under the current generation and starts its
// fetch off the owner goroutine.
func (c *Controller) issue(stage Stage) {
	generation := c.state.Generation
	c.state.Slots[stage] = StageSlot{
		Stage:      stage,
		State:      SlotLoading,
		Generation: generation,
	}
	c.emitStage(stage)

	ctx := c.ctx
	if stage == StageSeatMap {
		key := c.showKey()
		go func() {
			m, err := c.engine.Reconcile(ctx, key)
			c.dispatch.Dispatch(func() { c.applySeatMap(generation, m, err) })
		}()
		return
	}

	lineage := c.state.Lineage(stage)
	go func() {
		result := c.source.Fetch(ctx, stage, lineage, generation)
		c.dispatch.Dispatch(func() { c.apply(result) })
	}()
}

func (c *Controller) showKey() seats.ShowKey {
	var key seats.ShowKey
	if venue := c.state.Slots[StageVenue].Selection; venue != nil {
		key.VenueID = venue.ID
		key.Venue = venue.Payload
	}
	if session := c.state.Slots[StageSession].Selection; session != nil {
		key.SessionID = session.ID
		key.Session = session.Payload
	}
	return key
}

// accepts reports whether a completion for stage issued under generation
// may still be applied.
func (c *Controller) accepts(stage Stage, generation uint64) bool {
	if !stage.Valid() || c.state.Blocked {
		return false
	}
	slot := c.state.Slots[stage]
	return generation == c.state.Generation && slot.Generation == generation && slot.State == SlotLoading
}

func (c *Controller) apply(result FetchResult) {
	if c.routeAuth(result.Stage, result.Generation, result.Err) {
		return
	}
	if !c.accepts(result.Stage, result.Generation) {
		c.dropped++
		c.log.Debug("stale result dropped",
			"stage", result.Stage,
			"generation", result.Generation,
			"current", c.state.Generation,
		)
		return
	}
	if result.Err != nil && KindOf(result.Err) != KindEmptyResult {
		c.fail(result.Stage, result.Err)
		return
	}

	slot := &c.state.Slots[result.Stage]
	if len(result.Records) == 0 {
		slot.State = SlotNoResults
		slot.Err = stageError(result.Stage, result.Err)
		if result.Err == nil {
			slot.Err = NewError(KindEmptyResult, result.Stage, nil)
		}
		c.log.Info("stage has no options", "stage", result.Stage)
		c.emitStage(result.Stage)
		return
	}

	options := make([]Record, len(result.Records))
	for i, record := range result.Records {
		record.issued = result.Generation
		options[i] = record
	}
	slot.State = SlotReady
	slot.Options = options
	c.log.Debug("stage ready", "stage", result.Stage, "options", len(options))
	c.emitStage(result.Stage)
	c.AutoAdvance(result.Stage)
}

func (c *Controller) applySeatMap(generation uint64, m *seats.SeatMap, err error) {
	if c.routeAuth(StageSeatMap, generation, err) {
		return
	}
	if !c.accepts(StageSeatMap, generation) {
		c.dropped++
		c.log.Debug("stale seat map dropped", "generation", generation, "current", c.state.Generation)
		return
	}
	if err != nil && KindOf(err) == KindEmptyResult {
		slot := &c.state.Slots[StageSeatMap]
		slot.State = SlotNoResults
		slot.Err = stageError(StageSeatMap, err)
		c.log.Info("show has no seat map", "error", err)
		c.emitStage(StageSeatMap)
		return
	}
	if err != nil {
		c.fail(StageSeatMap, err)
		return
	}
	if m == nil {
		c.fail(StageSeatMap, NewError(KindDataFormat, StageSeatMap, errors.New("seat map missing")))
		return
	}

	counts := m.Counts()
	slot := &c.state.Slots[StageSeatMap]
	slot.State = SlotReady
	slot.Options = []Record{{
		ID:          m.Show(),
		DisplayName: fmt.Sprintf("%d seats", m.Len()),
		Detail:      fmt.Sprintf("%d available • %d sold • %d locked", counts.Available+counts.Anomalous, counts.Sold-counts.Locked, counts.Locked),
		Payload:     m,
		issued:      generation,
	}}
	c.seatMap = m
	c.log.Info("seat map ready", "show", m.Show(), "seats", m.Len(), "anomalies", m.AnomalyCount())
	c.emitStage(StageSeatMap)
	c.emit(Event{Kind: EventSeatMapReady, SeatMap: m, Err: m.Anomaly()})
}

// fail contains a stage failure: the stage goes to Error and every stage
// below it is disabled until the stage recovers.
func (c *Controller) fail(stage Stage, err error) {
	classified := stageError(stage, err)
	slot := &c.state.Slots[stage]
	slot.State = SlotError
	slot.Err = classified
	c.log.Warn("stage failed", "stage", stage, "kind", classified.Kind, "error", err)
	c.emitStage(stage)

	for s := stage + 1; s <= StageSeatMap; s++ {
		c.state.Slots[s] = StageSlot{Stage: s, State: SlotDisabled, Generation: c.state.Generation}
		c.emitStage(s)
	}
}

// routeAuth hands auth-expiry signals to the guard, stale or not, and
// reports whether err was one. When the guard suppresses a signal for a
// result that is still current, the pipeline is blocked without a second
// notification.
func (c *Controller) routeAuth(stage Stage, generation uint64, err error) bool {
	if err == nil {
		return false
	}
	if !errors.Is(err, ErrAuthExpired) && !c.extractor.IsAuthExpired(err) {
		return false
	}
	current := c.accepts(stage, generation)
	if n, ok := c.guard.Observe(stage.String(), err); ok {
		c.authExpired(n)
		return true
	}
	if current {
		c.block("auth expired", err)
	}
	return true
}

// authExpired acts on a notification the guard handed out. The guard's lock
// is released by then, so observers may call back into the controller.
func (c *Controller) authExpired(n authguard.Notification) {
	if c.state.Blocked {
		return
	}
	c.block("auth expired", n.Err)
	c.emit(Event{Kind: EventAuthExpired, Reason: "auth expired at " + n.Source, Err: n.Err})
}

// block moves the pipeline to Blocked: every selection is cleared, every
// populated stage is disabled and in-flight fetches become stale.
func (c *Controller) block(reason string, err error) {
	if c.state.Blocked {
		return
	}
	c.state.Generation++
	c.state.Blocked = true
	c.state.BlockReason = reason
	c.seatMap = nil
	for _, stage := range Stages() {
		slot := &c.state.Slots[stage]
		next := SlotDisabled
		if slot.State == SlotEmpty {
			next = SlotEmpty
		}
		*slot = StageSlot{Stage: stage, State: next, Generation: c.state.Generation}
		c.emitStage(stage)
	}
	c.log.Warn("pipeline blocked", "reason", reason, "error", err)
	c.emit(Event{Kind: EventPipelineBlocked, Reason: reason, Err: err})
}

func (c *Controller) emitStage(stage Stage) {
	c.emit(Event{Kind: EventStageChanged, Stage: stage, Slot: c.state.Slots[stage].clone()})
}

func (c *Controller) emit(event Event) {
	event.SearchID = c.state.SearchID
	event.Generation = c.state.Generation
	c.observe(event)
}
