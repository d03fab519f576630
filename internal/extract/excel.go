package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/koe/internal/transcript"
)

// extractExcel returns one line per non-empty row of every sheet. See rowLine.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if line := rowLine(row); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// rowLine turns a spreadsheet row into a transcript line. A row of the form
// speaker | start | end | text... (start and end numeric) is rendered in segment format;
// any other row has its cells joined with spaces, so a sheet holding one rendered line
// per cell also works.
func rowLine(cells []string) string {
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	if len(cells) >= 4 && cells[0] != "" {
		start, err1 := strconv.ParseFloat(cells[1], 64)
		end, err2 := strconv.ParseFloat(cells[2], 64)
		if err1 == nil && err2 == nil {
			return transcript.FormatLine(cells[0], start, end, strings.Join(nonEmpty(cells[3:]), " "))
		}
	}
	return strings.Join(nonEmpty(cells), " ")
}

func nonEmpty(cells []string) []string {
	out := cells[:0:0]
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
