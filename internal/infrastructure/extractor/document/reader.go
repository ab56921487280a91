package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type format int

const (
	formatPlain format = iota
	formatPDF
	formatSpreadsheet
)

// Reader turns an uploaded flyer into plain text.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

func (r *Reader) ReadText(ctx context.Context, source []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(source) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "read flyer text", errors.New("empty source"))
	}

	var (
		text string
		err  error
	)
	switch detectFormat(source, filename) {
	case formatPDF:
		text, err = readPDF(source)
	case formatSpreadsheet:
		text, err = readSpreadsheet(source)
	default:
		text, err = readPlain(source, filename)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func detectFormat(source []byte, filename string) format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return formatPDF
	case ".xlsx", ".xlsm":
		return formatSpreadsheet
	}
	if bytes.HasPrefix(source, []byte("%PDF-")) {
		return formatPDF
	}
	return formatPlain
}

func readPDF(source []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(source), int64(len(source)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "read pdf", err)
	}
	var buf strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

// readSpreadsheet renders every sheet row as tab separated cells, one row per line.
func readSpreadsheet(source []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(source))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "read spreadsheet", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read rows of sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

func readPlain(source []byte, filename string) (string, error) {
	if bytes.IndexByte(source, 0) >= 0 {
		return "", domain.WrapError(
			domain.ErrInvalidInput,
			"read flyer text",
			fmt.Errorf("unsupported binary format: %s", filename),
		)
	}
	if !utf8.Valid(source) {
		return strings.ToValidUTF8(string(source), "�"), nil
	}
	return string(source), nil
}
