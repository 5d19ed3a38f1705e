package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type xlsxSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	total   int
	number  int
}

func newXLSXSource(src io.ReadSeeker) (*xlsxSource, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("no sheets found in Excel file")
	}
	sheet := sheets[0]

	total, err := sheetDataRows(f, sheet)
	if err != nil {
		f.Close()
		return nil, err
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if !rows.Next() {
		err := rows.Error()
		rows.Close()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		return nil, ErrEmptyFile
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	return &xlsxSource{
		file:    f,
		rows:    rows,
		headers: cleanHeaders(header),
		total:   total,
		number:  1,
	}, nil
}

func (s *xlsxSource) Total() int {
	return s.total
}

func (s *xlsxSource) Next() (Row, error) {
	for s.rows.Next() {
		s.number++
		// Raw values keep number formats such as "€ 4,90" out of price parsing.
		values, err := s.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return Row{}, fmt.Errorf("failed to read row %d: %w", s.number, err)
		}
		if row, ok := buildRow(s.number, s.headers, values); ok {
			return row, nil
		}
	}
	if err := s.rows.Error(); err != nil {
		return Row{}, fmt.Errorf("failed to read row %d: %w", s.number+1, err)
	}
	return Row{}, io.EOF
}

func (s *xlsxSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

// sheetDataRows counts the non-blank rows below the header with a separate
// streaming pass; recorded sheet dimensions are often stale.
func sheetDataRows(f *excelize.File, sheet string) (int, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	count := 0
	for index := 0; rows.Next(); index++ {
		if index == 0 {
			continue
		}
		values, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return 0, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if !isBlankRecord(values) {
			count++
		}
	}
	if err := rows.Error(); err != nil {
		return 0, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return count, nil
}
