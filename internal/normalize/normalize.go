// Package normalize turns raw spreadsheet grids into compact CSV text.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// #region rows

// Rows renders a grid of raw cell values as CSV lines. Trailing empty cells
// are dropped per row, runs of blank lines collapse to one, and leading or
// trailing blank lines are removed. Zero rows yield "".
func Rows(rows [][]any) string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, renderRow(r))
	}
	return Lines(lines)
}

// Strings is Rows for grids that are already strings.
func Strings(rows [][]string) string {
	grid := make([][]any, len(rows))
	for i, r := range rows {
		cells := make([]any, len(r))
		for j, c := range r {
			cells[j] = c
		}
		grid[i] = cells
	}
	return Rows(grid)
}

func renderRow(r []any) string {
	end := len(r)
	for end > 0 && Cell(r[end-1]) == "" {
		end--
	}
	cells := make([]string, end)
	for i := 0; i < end; i++ {
		cells[i] = Escape(Cell(r[i]))
	}
	return strings.Join(cells, ",")
}

// #endregion rows

// #region lines

// Lines collapses consecutive blank lines into one and strips blank lines
// from both ends. A line is blank when it is empty after trimming whitespace.
// For grids whose cells hold no line breaks,
// Lines(strings.Split(Rows(x), "\n")) == Rows(x). A quoted cell with blank
// lines inside is not treated as one field, so re-normalizing collapses them.
func Lines(lines []string) string {
	out := make([]string, 0, len(lines))
	lastBlank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if !lastBlank {
				out = append(out, "")
			}
			lastBlank = true
			continue
		}
		out = append(out, line)
		lastBlank = false
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// #endregion lines

// #region cells

// Cell returns the string form of a raw cell value.
func Cell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(c), 'f', -1, 32)
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case bool:
		return strconv.FormatBool(c)
	case json.Number:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}

// Escape quotes a cell that contains a comma, a double quote, or a newline,
// doubling internal quotes. CRLF and lone CR become LF first.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// #endregion cells
