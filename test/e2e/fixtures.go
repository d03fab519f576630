package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/koe/internal/transcript"
)

// SupportedFileExtensions are the formats the generated meetings are saved in.
// PDF is left out: there is no minimal PDF with extractable text to generate here.
var SupportedFileExtensions = []string{".txt", ".md", ".docx", ".xlsx", ".ods"}

// ExtensionFor returns the extension of the i-th generated meeting.
func ExtensionFor(i int) string {
	return SupportedFileExtensions[i%len(SupportedFileExtensions)]
}

// WriteMeetingFile returns the file bytes of m in the format given by the extension of m.Name.
func WriteMeetingFile(m Meeting) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(m.Name)); ext {
	case ".txt", ".md":
		return []byte(m.Text()), nil
	case ".docx":
		return meetingDocx(m), nil
	case ".xlsx":
		return meetingXlsx(m)
	case ".ods":
		return meetingOds(m), nil
	default:
		return nil, fmt.Errorf("no fixture writer for %q", ext)
	}
}

func rendered(l Line) string {
	return transcript.FormatLine(l.Speaker, l.Start, l.End, l.Text)
}

func zipOf(name, content string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create(name)
	_, _ = fw.Write([]byte(content))
	_ = w.Close()
	return buf.Bytes()
}

// meetingDocx writes one paragraph per turn.
func meetingDocx(m Meeting) []byte {
	var b strings.Builder
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, l := range m.Lines {
		b.WriteString(`<w:p><w:r><w:t>` + html.EscapeString(rendered(l)) + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return zipOf("word/document.xml", b.String())
}

// meetingXlsx writes a speaker | start | end | text sheet.
func meetingXlsx(m Meeting) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, l := range m.Lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow("Sheet1", cell, &[]interface{}{l.Speaker, l.Start, l.End, l.Text}); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// meetingOds writes one row per turn holding the rendered line in a single cell.
func meetingOds(m Meeting) []byte {
	var b strings.Builder
	b.WriteString(`<office:document><office:body><table:table>`)
	for _, l := range m.Lines {
		b.WriteString(`<table:table-row><table:table-cell><text:p>` + html.EscapeString(rendered(l)) + `</text:p></table:table-cell></table:table-row>`)
	}
	b.WriteString(`</table:table></office:body></office:document>`)
	return zipOf("content.xml", b.String())
}
