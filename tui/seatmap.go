package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"

	"ingresso-cascade-cli/seats"
)

// frontRows is how many rows next to the screen are flagged as not ideal.
const frontRows = 3

type seatCell struct {
	present bool
	status  seats.Status
	label   string
	front   bool
}

// RenderSeatMap draws seatMap as a grid with the screen at the bottom,
// followed by a legend and a summary line. showLabels prints seat names
// instead of status tokens.
func RenderSeatMap(seatMap *seats.SeatMap, showLabels bool) string {
	if seatMap == nil || seatMap.Len() == 0 {
		return "No seat map data."
	}
	rows, cols := seatMap.Bounds()

	grid := make([][]seatCell, rows)
	for i := range grid {
		grid[i] = make([]seatCell, cols)
	}

	rowLabel := make(map[int]string)
	front := frontRowSet(seatMap, frontRows)
	available := 0
	nonIdealAvailable := 0
	availableCols := map[int][]int{}
	minCol := cols

	for _, seat := range seatMap.Seats() {
		r := seat.Coordinate.Row - 1
		c := seat.Coordinate.Col - 1
		minCol = min(minCol, c)
		if _, ok := rowLabel[r]; !ok {
			rowLabel[r] = seatRowLabel(seat)
		}
		cell := seatCell{
			present: true,
			status:  seat.Status,
			label:   seatNumberLabel(seat),
			front:   front[seat.Coordinate.Row],
		}
		if seat.Sellable() {
			available++
			availableCols[r] = append(availableCols[r], c)
			if cell.front {
				nonIdealAvailable++
			}
		}
		grid[r][c] = cell
	}

	rowWidth := 2
	for _, label := range rowLabel {
		rowWidth = max(rowWidth, len(label))
	}
	cellWidth := 2
	if showLabels {
		for _, row := range grid {
			for _, cell := range row {
				cellWidth = max(cellWidth, len(cell.label))
			}
		}
	}

	var b strings.Builder
	for r := range rows {
		label := rowLabel[r]
		if label == "" {
			label = strconv.Itoa(r + 1)
		}
		fmt.Fprintf(&b, "%*s ", rowWidth, label)
		for c := minCol; c < cols; c++ {
			cell := grid[r][c]
			text := seatToken(cell)
			if showLabels && cell.present && cell.label != "" {
				text = cell.label
			}
			b.WriteString(seatStyle(cell).Render(padCell(text, cellWidth)))
			if c < cols-1 {
				b.WriteString(" ")
			}
		}
		fmt.Fprintf(&b, " %*s\n", rowWidth, label)
	}

	gridWidth := (cols-minCol)*(cellWidth+1) - 1
	screenStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("214"))
	screenBorderStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Background(lipgloss.Color("236"))
	screenBar := screenBarBlock(gridWidth, "SCREEN")
	indent := strings.Repeat(" ", rowWidth+1)

	b.WriteString("\n")
	b.WriteString(indent + screenBorderStyle.Render(screenBar.top) + "\n")
	b.WriteString(indent + screenStyle.Render(screenBar.mid) + "\n")
	b.WriteString(indent + screenBorderStyle.Render(screenBar.bot) + "\n")
	b.WriteString(indent + hint("Front / Screen") + "\n\n")

	legend := "Legend: [] available • XX sold • ## locked • ?? listed for sale but missing from the map • front rows (not ideal)"
	if showLabels {
		legend = "Legend: color shows status • labels are seat names • front rows in yellow • magenta seats are anomalies"
	}

	counts := seatMap.Counts()
	percent := float64(available) / float64(max(1, seatMap.Len())) * 100
	summary := fmt.Sprintf(
		"Available: %d • Ideal: %d • Front: %d • Pairs: %d • Sold: %d • Locked: %d • Anomalous: %d • Total: %d • %.0f%% available",
		available,
		max(0, available-nonIdealAvailable),
		nonIdealAvailable,
		countAdjacentPairs(availableCols),
		counts.Sold-counts.Locked,
		counts.Locked,
		counts.Anomalous,
		seatMap.Len(),
		percent,
	)
	if counts.Dropped > 0 {
		summary += fmt.Sprintf(" • %d unplaceable entries ignored", counts.Dropped)
	}
	return b.String() + hint(legend) + "\n" + hint(summary)
}

func seatToken(cell seatCell) string {
	if !cell.present {
		return ""
	}
	switch cell.status {
	case seats.StatusAvailable:
		return "[]"
	case seats.StatusSold:
		return "XX"
	case seats.StatusLocked:
		return "##"
	case seats.StatusAnomalous:
		return "??"
	}
	return "  "
}

var (
	seatStyleAvailable = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	seatStyleSold      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	seatStyleLocked    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	seatStyleAnomalous = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	seatStyleFront     = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

func seatStyle(cell seatCell) lipgloss.Style {
	if !cell.present {
		return lipgloss.NewStyle()
	}
	switch cell.status {
	case seats.StatusAvailable:
		if cell.front {
			return seatStyleFront
		}
		return seatStyleAvailable
	case seats.StatusSold:
		return seatStyleSold
	case seats.StatusLocked:
		return seatStyleLocked
	case seats.StatusAnomalous:
		return seatStyleAnomalous
	}
	return lipgloss.NewStyle()
}

// seatRowLabel takes the letters that prefix a seat name such as "B12".
func seatRowLabel(seat seats.ReconciledSeat) string {
	prefix := strings.TrimSpace(strings.TrimRightFunc(strings.TrimSpace(seat.Identifier), unicode.IsDigit))
	if isLetters(prefix) {
		return prefix
	}
	return strconv.Itoa(seat.Coordinate.Row)
}

func isLetters(value string) bool {
	for _, r := range value {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return value != ""
}

// seatNumberLabel is the last word of the seat name.
func seatNumberLabel(seat seats.ReconciledSeat) string {
	parts := strings.Fields(strings.TrimSpace(seat.Identifier))
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// frontRowSet returns the count highest row numbers, which sit next to the
// screen.
func frontRowSet(seatMap *seats.SeatMap, count int) map[int]bool {
	rows := map[int]bool{}
	for _, seat := range seatMap.Seats() {
		rows[seat.Coordinate.Row] = true
	}
	keys := make([]int, 0, len(rows))
	for row := range rows {
		keys = append(keys, row)
	}
	sort.Ints(keys)
	count = min(count, len(keys))
	front := make(map[int]bool, count)
	for _, row := range keys[len(keys)-count:] {
		front[row] = true
	}
	return front
}

// countAdjacentPairs counts disjoint pairs of neighbouring free seats.
func countAdjacentPairs(cols map[int][]int) int {
	count := 0
	for _, list := range cols {
		sort.Ints(list)
		for i := 0; i < len(list)-1; {
			if list[i]+1 == list[i+1] {
				count++
				i += 2
				continue
			}
			i++
		}
	}
	return count
}

func padCell(text string, width int) string {
	if width <= 0 {
		return ""
	}
	if text == "" {
		return strings.Repeat(" ", width)
	}
	if len(text) >= width {
		return text[:width]
	}
	padding := width - len(text)
	left := padding / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", padding-left)
}

type screenBlock struct {
	top string
	mid string
	bot string
}

func screenBarBlock(width int, label string) screenBlock {
	width = max(width, len(label)+4, 10)
	labelText := " " + label + " "
	padding := width - len(labelText) - 2
	left := padding / 2
	return screenBlock{
		top: "╭" + strings.Repeat("─", width-2) + "╮",
		mid: "│" + strings.Repeat(" ", left) + labelText + strings.Repeat(" ", padding-left) + "│",
		bot: "╰" + strings.Repeat("─", width-2) + "╯",
	}
}
