package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// odsContentPath is the path to the main content inside an .ods zip (OpenDocument Spreadsheet).
const odsContentPath = "content.xml"

var (
	odsRow  = regexp.MustCompile(`(?s)<table:table-row[ >].*?</table:table-row>`)
	odsCell = regexp.MustCompile(`(?s)<table:table-cell[^>]*/>|<table:table-cell[^>]*>.*?</table:table-cell>`)
	odsTag  = regexp.MustCompile(`<[^>]+>`)
)

// extractODS returns one line per spreadsheet row, cells handled like extractExcel.
func extractODS(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("not a zip: %w", err)
	}
	contentXML, err := readZipEntry(zr, odsContentPath)
	if err != nil {
		return "", err
	}
	if contentXML == nil {
		return "", fmt.Errorf("%s not found", odsContentPath)
	}

	var lines []string
	for _, row := range odsRow.FindAllString(string(contentXML), -1) {
		var cells []string
		for _, cell := range odsCell.FindAllString(row, -1) {
			cells = append(cells, html.UnescapeString(odsTag.ReplaceAllString(cell, "")))
		}
		if line := rowLine(cells); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
