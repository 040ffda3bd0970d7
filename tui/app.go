package tui

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ingresso-cascade-cli/cascade"
	"ingresso-cascade-cli/model"
	"ingresso-cascade-cli/seats"
	"ingresso-cascade-cli/service"
	"ingresso-cascade-cli/store"
)

const checkoutPageURL = "https://checkout.ingresso.com/assentos?sessionId=%s&partnership=home"

// numLists is the number of stages picked from a list; the seat map is
// rendered instead.
const numLists = cascade.NumStages - 1

// List size until the first tea.WindowSizeMsg arrives.
const (
	defaultWidth  = 80
	defaultHeight = 20
)

// Options wires the TUI to a controller. Controller and Bridge are
// required, and the controller must use Bridge as its Dispatcher and
// Bridge.Observe as its Observer.
type Options struct {
	Controller *cascade.Controller
	Bridge     *Bridge

	// Store enables hiding venues and saving seat map snapshots.
	Store *store.Store

	// City is selected as soon as the city list loads.
	City string

	Logger *slog.Logger
}

type appModel struct {
	ctrl   *cascade.Controller
	bridge *Bridge
	store  *store.Store
	logger *slog.Logger
	ctx    context.Context

	cityName string

	width  int
	height int

	lists [numLists]list.Model
	shown [numLists]listVersion

	spinner spinner.Model
	ticking bool

	showSeatNumbers bool

	notice      string
	noticeLevel slog.Level
}

// listVersion is what a list was last filled from.
type listVersion struct {
	generation uint64
	state      cascade.SlotState
	options    int
}

type startMsg struct{}

type noticeMsg struct {
	text  string
	level slog.Level
}

func New(ctx context.Context, opts Options) tea.Model {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := appModel{
		ctrl:            opts.Controller,
		bridge:          opts.Bridge,
		store:           opts.Store,
		logger:          logger,
		ctx:             ctx,
		cityName:        strings.TrimSpace(opts.City),
		showSeatNumbers: true,
		ticking:         true,
	}
	for stage := cascade.StageCity; stage < cascade.StageSeatMap; stage++ {
		m.lists[stage] = newList(stageTitle(stage))
		m.lists[stage].SetSize(defaultWidth, defaultHeight)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	m.spinner = sp

	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return startMsg{} }, m.spinner.Tick)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		if m.handleFilterInput(msg) {
			return m, nil
		}
		m, cmd, handled := m.handleKey(msg)
		if handled {
			return m, cmd
		}
		return m.updateList(msg)

	case spinner.TickMsg:
		if !m.loading() {
			m.ticking = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startMsg:
		m.ctrl.Initialize(m.ctx)
		return m.sync()

	case dispatchMsg:
		msg.fn()
		return m.sync()

	case noticeMsg:
		m.setNotice(msg.level, msg.text)
		return m, nil
	}
	return m.updateList(msg)
}

func (m appModel) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	listPtr := m.activeList()
	if listPtr == nil {
		return m, nil
	}
	var cmd tea.Cmd
	*listPtr, cmd = listPtr.Update(msg)
	return m, cmd
}

// sync brings the view up to date after the controller ran.
func (m appModel) sync() (tea.Model, tea.Cmd) {
	m.preselectCity()
	for _, event := range m.bridge.drain() {
		m.observe(event)
	}
	m.refreshLists()
	if m.loading() && !m.ticking {
		m.ticking = true
		return m, m.spinner.Tick
	}
	return m, nil
}

func (m *appModel) preselectCity() {
	if m.cityName == "" {
		return
	}
	slot := m.ctrl.Slot(cascade.StageCity)
	if slot.State != cascade.SlotReady {
		return
	}
	name := m.cityName
	m.cityName = ""
	record, ok := service.FindCity(slot.Options, name)
	if !ok {
		m.setNotice(slog.LevelWarn, fmt.Sprintf("City %q not found.", name))
		return
	}
	if slot.Selection != nil && slot.Selection.ID == record.ID {
		return
	}
	if err := m.ctrl.SelectStage(cascade.StageCity, record); err != nil {
		m.setNotice(slog.LevelWarn, err.Error())
	}
}

func (m *appModel) observe(event cascade.Event) {
	switch event.Kind {
	case cascade.EventAuthExpired:
		m.setNotice(slog.LevelError, "Your session expired. Press ctrl+n to start a new search.")
	case cascade.EventPipelineBlocked:
		if m.noticeLevel < slog.LevelError {
			m.setNotice(slog.LevelError, "Search blocked: "+event.Reason)
		}
	case cascade.EventSeatMapReady:
		if event.Err != nil {
			m.setNotice(slog.LevelWarn, event.Err.Error())
		}
	}
}

func (m *appModel) setNotice(level slog.Level, text string) {
	m.notice = text
	m.noticeLevel = level
}

func (m *appModel) clearNotice() {
	m.notice = ""
	m.noticeLevel = slog.LevelDebug
}

// refreshLists refills every list whose slot changed since it was last
// shown. The cursor is put back on the slot's selection.
func (m *appModel) refreshLists() {
	state := m.ctrl.State()
	for stage := cascade.StageCity; stage < cascade.StageSeatMap; stage++ {
		l := &m.lists[stage]
		l.Title = stageTitle(stage)
		if !m.ctrl.AutoAdvanceEnabled(stage) {
			l.Title += " • manual"
		}

		slot := state.Slots[stage]
		version := listVersion{generation: slot.Generation, state: slot.State, options: len(slot.Options)}
		if version == m.shown[stage] {
			continue
		}
		m.shown[stage] = version
		l.ResetFilter()
		l.SetItems(recordItems(slot.Options))
		l.Select(0)
		if slot.Selection != nil {
			for i, option := range slot.Options {
				if option.ID == slot.Selection.ID {
					l.Select(i)
					break
				}
			}
		}
	}
}

// focus returns the stage the user is looking at: the first stage without
// a selection, or the one above it while that stage has not been fetched.
func focusStage(state cascade.PipelineState) cascade.Stage {
	for stage := cascade.StageCity; stage < cascade.StageSeatMap; stage++ {
		slot := state.Slots[stage]
		if slot.Selection != nil {
			continue
		}
		if slot.State == cascade.SlotEmpty && stage > cascade.StageCity {
			return stage - 1
		}
		return stage
	}
	if state.Slots[cascade.StageSeatMap].State == cascade.SlotEmpty {
		return cascade.StageSession
	}
	return cascade.StageSeatMap
}

func (m appModel) focus() cascade.Stage {
	return focusStage(m.ctrl.State())
}

func (m appModel) loading() bool {
	state := m.ctrl.State()
	for _, slot := range state.Slots {
		if slot.State == cascade.SlotLoading {
			return true
		}
	}
	return false
}

func (m appModel) View() string {
	header := m.headerView()
	body := m.bodyView()
	if m.notice != "" {
		body += "\n\n" + noticeStyle(m.noticeLevel).Render(m.notice)
	}
	return header + "\n\n" + body
}

func (m appModel) bodyView() string {
	if m.ctrl.Blocked() {
		return m.blockedView()
	}
	stage := m.focus()
	slot := m.ctrl.Slot(stage)
	switch slot.State {
	case cascade.SlotLoading:
		return fmt.Sprintf("%s Loading %s\n\n%s", m.spinner.View(), stageNoun(stage), hint("Fetching data..."))
	case cascade.SlotReady:
		if stage == cascade.StageSeatMap {
			return RenderSeatMap(m.ctrl.SeatMap(), m.showSeatNumbers)
		}
		return m.lists[stage].View()
	case cascade.SlotNoResults:
		return fmt.Sprintf("No %s found.", stageNoun(stage)) + "\n\n" + hint("ctrl+r try again • esc go back")
	case cascade.SlotError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(errorText(slot.Err)) +
			"\n\n" + hint("ctrl+r retry • esc go back • ctrl+c quit")
	case cascade.SlotDisabled:
		return hint("Waiting for an earlier step to recover.")
	default:
		return hint("Starting...")
	}
}

func (m appModel) blockedView() string {
	headerChip := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("63")).
		Padding(0, 2)
	actionChip := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("42")).
		Padding(0, 1)

	reason := m.ctrl.State().BlockReason
	if reason == "" {
		reason = "blocked"
	}
	panel := lipgloss.JoinVertical(lipgloss.Left,
		headerChip.Render("Search stopped"),
		"",
		fmt.Sprintf("The search was stopped: %s.", reason),
		"Nothing can be selected until a new search starts.",
		"",
		actionChip.Render("ctrl+n")+" start a new search",
	)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 2).
		Render(panel)
}

func (m appModel) headerView() string {
	title := lipgloss.NewStyle().Bold(true).Render("Ingresso Cascade")
	state := m.ctrl.State()

	var sub []string
	for stage := cascade.StageCity; stage < cascade.StageSeatMap; stage++ {
		if selection := state.Slots[stage].Selection; selection != nil {
			sub = append(sub, fmt.Sprintf("%s: %s", stageLabel(stage), selection.DisplayName))
		}
	}
	meta := strings.Join(sub, " • ")
	if meta != "" {
		meta = "\n" + lipgloss.NewStyle().Faint(true).Render(meta)
	}

	hints := "ctrl+c quit • esc back • type to filter • enter select • ctrl+r reload • ctrl+a auto-advance • ctrl+n new search"
	switch focus := focusStage(state); {
	case state.Blocked:
		hints = "ctrl+c quit • ctrl+n new search"
	case focus == cascade.StageVenue:
		hints += " • ctrl+x hide venue • ctrl+u show hidden"
	case focus == cascade.StageSeatMap:
		hints = "q quit • esc back • n toggle labels • s save snapshot • o open checkout • r reload"
	}

	filterLine := ""
	if listPtr := m.activeList(); listPtr != nil {
		if filter := listPtr.FilterValue(); filter != "" {
			filterLine = "\n" + hint(fmt.Sprintf("Filter: %s", filter))
		}
	}
	return title + meta + filterLine + "\n" + hint(hints)
}

func (m appModel) handleKey(msg tea.KeyMsg) (appModel, tea.Cmd, bool) {
	focus := m.focus()
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit, true
	case "esc":
		if listPtr := m.activeList(); listPtr != nil {
			if listPtr.SettingFilter() || listPtr.IsFiltered() {
				listPtr.ResetFilter()
				return m, nil, true
			}
		}
		return m.goBack()
	case "ctrl+n":
		m.clearNotice()
		m.ctrl.Initialize(m.ctx)
		m, cmd := m.syncModel()
		return m, cmd, true
	case "ctrl+r":
		return m.retry(focus)
	case "ctrl+a":
		return m.toggleAutoAdvance(focus)
	case "ctrl+x":
		if focus == cascade.StageVenue {
			return m.hideVenue()
		}
	case "ctrl+u":
		if focus == cascade.StageVenue {
			return m.restoreVenues()
		}
	case "enter":
		return m.selectFocused(focus)
	}

	if focus != cascade.StageSeatMap || m.ctrl.Slot(cascade.StageSeatMap).State != cascade.SlotReady {
		return m, nil, false
	}
	switch msg.String() {
	case "n":
		m.showSeatNumbers = !m.showSeatNumbers
		return m, nil, true
	case "r":
		return m.retry(focus)
	case "s":
		return m.saveSnapshot()
	case "o":
		return m.openCheckout()
	}
	return m, nil, false
}

func (m appModel) syncModel() (appModel, tea.Cmd) {
	next, cmd := m.sync()
	return next.(appModel), cmd
}

func (m appModel) selectFocused(focus cascade.Stage) (appModel, tea.Cmd, bool) {
	if focus == cascade.StageSeatMap || m.ctrl.Blocked() {
		return m, nil, true
	}
	item, ok := m.lists[focus].SelectedItem().(recordItem)
	if !ok {
		return m, nil, true
	}
	if err := m.ctrl.SelectStage(focus, item.record); err != nil {
		m.setNotice(slog.LevelWarn, err.Error())
		return m, nil, true
	}
	m.clearNotice()
	m, cmd := m.syncModel()
	return m, cmd, true
}

// goBack reopens the list above the focused stage.
func (m appModel) goBack() (appModel, tea.Cmd, bool) {
	focus := m.focus()
	if m.ctrl.Blocked() || focus == cascade.StageCity {
		return m, nil, true
	}
	parent := focus - 1
	if m.ctrl.Slot(focus).State == cascade.SlotEmpty {
		return m, nil, true
	}
	if err := m.ctrl.Reset(parent); err != nil {
		m.setNotice(slog.LevelWarn, err.Error())
		return m, nil, true
	}
	m, cmd := m.syncModel()
	return m, cmd, true
}

func (m appModel) retry(focus cascade.Stage) (appModel, tea.Cmd, bool) {
	if m.ctrl.Blocked() {
		m.setNotice(slog.LevelWarn, "The search is stopped. Press ctrl+n to start a new one.")
		return m, nil, true
	}
	if err := m.ctrl.Retry(focus); err != nil {
		m.setNotice(slog.LevelWarn, err.Error())
		return m, nil, true
	}
	m.clearNotice()
	m, cmd := m.syncModel()
	return m, cmd, true
}

func (m appModel) toggleAutoAdvance(focus cascade.Stage) (appModel, tea.Cmd, bool) {
	if focus == cascade.StageSeatMap {
		return m, nil, true
	}
	enabled := !m.ctrl.AutoAdvanceEnabled(focus)
	m.ctrl.SetAutoAdvance(focus, enabled)
	state := "off"
	if enabled {
		state = "on"
		m.ctrl.AutoAdvance(focus)
	}
	m.setNotice(slog.LevelInfo, fmt.Sprintf("Auto-advance %s for %s.", state, stageNoun(focus)))
	m, cmd := m.syncModel()
	return m, cmd, true
}

func (m appModel) hideVenue() (appModel, tea.Cmd, bool) {
	if m.store == nil {
		return m, nil, true
	}
	city := m.ctrl.Slot(cascade.StageCity).Selection
	item, ok := m.lists[cascade.StageVenue].SelectedItem().(recordItem)
	if city == nil || !ok {
		return m, nil, true
	}
	if err := m.store.SetTheaterHidden(city.ID, item.record.ID, true); err != nil {
		m.setNotice(slog.LevelError, err.Error())
		return m, nil, true
	}
	m.logger.Info("venue hidden", "city", city.ID, "venue", item.record.ID)
	m, cmd, _ := m.retry(cascade.StageVenue)
	m.setNotice(slog.LevelInfo, fmt.Sprintf("Hid %s. Press ctrl+u to show hidden venues again.", item.record.DisplayName))
	return m, cmd, true
}

func (m appModel) restoreVenues() (appModel, tea.Cmd, bool) {
	if m.store == nil {
		return m, nil, true
	}
	city := m.ctrl.Slot(cascade.StageCity).Selection
	if city == nil {
		return m, nil, true
	}
	hidden, err := m.store.HiddenTheaters(city.ID)
	if err != nil {
		m.setNotice(slog.LevelError, err.Error())
		return m, nil, true
	}
	for id := range hidden {
		if err := m.store.SetTheaterHidden(city.ID, id, false); err != nil {
			m.setNotice(slog.LevelError, err.Error())
			return m, nil, true
		}
	}
	m, cmd, _ := m.retry(cascade.StageVenue)
	m.setNotice(slog.LevelInfo, fmt.Sprintf("Showing %d hidden venues again.", len(hidden)))
	return m, cmd, true
}

func (m appModel) saveSnapshot() (appModel, tea.Cmd, bool) {
	seatMap := m.ctrl.SeatMap()
	if m.store == nil || seatMap == nil {
		return m, nil, true
	}
	path, err := m.store.SaveSnapshot(snapshotName(m.ctrl.SearchID(), seatMap), seatMap)
	if err != nil {
		m.setNotice(slog.LevelError, err.Error())
		return m, nil, true
	}
	m.setNotice(slog.LevelInfo, "Saved seat map to "+path)
	return m, nil, true
}

func (m appModel) openCheckout() (appModel, tea.Cmd, bool) {
	session := m.ctrl.Slot(cascade.StageSession).Selection
	if session == nil {
		return m, nil, true
	}
	return m, openURLCmd(fmt.Sprintf(checkoutPageURL, session.ID)), true
}

// snapshotName is the file name for a seat map snapshot.
func snapshotName(searchID string, seatMap *seats.SeatMap) string {
	show := strings.ReplaceAll(seatMap.Show(), "/", "-")
	if len(searchID) > 8 {
		searchID = searchID[:8]
	}
	return fmt.Sprintf("seatmap-%s-%s.json", show, searchID)
}

func (m *appModel) handleFilterInput(msg tea.KeyMsg) bool {
	listPtr := m.activeList()
	if listPtr == nil {
		return false
	}
	if !listPtr.FilteringEnabled() {
		return false
	}
	switch msg.Type {
	case tea.KeyRunes:
		if len(msg.Runes) == 0 {
			return false
		}
		m.appendFilter(listPtr, string(msg.Runes))
		return true
	case tea.KeySpace:
		m.appendFilter(listPtr, " ")
		return true
	case tea.KeyBackspace, tea.KeyDelete:
		if listPtr.FilterValue() == "" {
			return false
		}
		m.popFilter(listPtr)
		return true
	default:
		return false
	}
}

func (m *appModel) appendFilter(listPtr *list.Model, value string) {
	if value == "" {
		return
	}
	listPtr.SetFilterText(listPtr.FilterValue() + value)
}

func (m *appModel) popFilter(listPtr *list.Model) {
	value := trimLastRune(listPtr.FilterValue())
	if value == "" {
		listPtr.ResetFilter()
		return
	}
	listPtr.SetFilterText(value)
}

func trimLastRune(value string) string {
	runes := []rune(value)
	if len(runes) <= 1 {
		return ""
	}
	return string(runes[:len(runes)-1])
}

// activeList returns the focused list when it is showing options.
func (m *appModel) activeList() *list.Model {
	if m.ctrl.Blocked() {
		return nil
	}
	focus := m.focus()
	if focus == cascade.StageSeatMap || m.ctrl.Slot(focus).State != cascade.SlotReady {
		return nil
	}
	return &m.lists[focus]
}

func (m *appModel) resizeLists() {
	if m.width == 0 || m.height == 0 {
		return
	}
	h := max(6, m.height-8)
	for i := range m.lists {
		m.lists[i].SetSize(m.width, h)
	}
}

func newList(title string) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = title
	l.Filter = caseInsensitiveFilter
	l.SetFilteringEnabled(true)
	l.SetShowFilter(true)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	return l
}

func hint(text string) string {
	return lipgloss.NewStyle().Faint(true).Render(text)
}

func noticeStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	case level >= slog.LevelWarn:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	}
}

func errorText(err error) string {
	if err == nil {
		return "Something went wrong."
	}
	switch cascade.KindOf(err) {
	case cascade.KindNetwork:
		return "Could not reach Ingresso: " + err.Error()
	case cascade.KindDataFormat:
		return "Ingresso sent data we could not read: " + err.Error()
	}
	return err.Error()
}

func caseInsensitiveFilter(term string, targets []string) []list.Rank {
	term = strings.ToLower(term)
	lower := make([]string, len(targets))
	for i, t := range targets {
		lower[i] = strings.ToLower(t)
	}
	return list.DefaultFilter(term, lower)
}

func openURLCmd(url string) tea.Cmd {
	return func() tea.Msg {
		if err := openURL(url); err != nil {
			return noticeMsg{text: err.Error(), level: slog.LevelError}
		}
		return nil
	}
}

func openURL(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "linux":
		return exec.Command("xdg-open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return fmt.Errorf("unsupported OS for opening browser: %s", runtime.GOOS)
	}
}

func stageTitle(stage cascade.Stage) string {
	switch stage {
	case cascade.StageCity:
		return "Select City"
	case cascade.StageVenue:
		return "Select Theater"
	case cascade.StageItem:
		return "Select Movie"
	case cascade.StageDate:
		return "Select Date"
	case cascade.StageSession:
		return "Select Session"
	}
	return "Seat Map"
}

func stageLabel(stage cascade.Stage) string {
	switch stage {
	case cascade.StageCity:
		return "City"
	case cascade.StageVenue:
		return "Theater"
	case cascade.StageItem:
		return "Movie"
	case cascade.StageDate:
		return "Date"
	case cascade.StageSession:
		return "Session"
	}
	return "Seats"
}

func stageNoun(stage cascade.Stage) string {
	switch stage {
	case cascade.StageCity:
		return "cities"
	case cascade.StageVenue:
		return "theaters"
	case cascade.StageItem:
		return "movies"
	case cascade.StageDate:
		return "dates"
	case cascade.StageSession:
		return "sessions"
	}
	return "seat map"
}

// recordItem shows one stage option in a list.
type recordItem struct {
	record cascade.Record
}

func (r recordItem) Title() string { return r.record.DisplayName }

func (r recordItem) Description() string { return r.record.Detail }

func (r recordItem) FilterValue() string {
	value := r.record.DisplayName
	if city, ok := r.record.Payload.(model.City); ok && city.State != "" {
		value += " " + city.State
	}
	return strings.ToLower(value)
}

func recordItems(records []cascade.Record) []list.Item {
	items := make([]list.Item, len(records))
	for i, record := range records {
		items[i] = recordItem{record: record}
	}
	return items
}
