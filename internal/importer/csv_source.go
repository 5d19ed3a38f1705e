package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type csvSource struct {
	reader  *csv.Reader
	headers []string
	total   int
}

func newCSVSource(src io.ReadSeeker) (*csvSource, error) {
	delimiter, err := sniffDelimiter(src)
	if err != nil {
		return nil, err
	}

	// Counting pass; the upload is seekable so the data pass starts over.
	total, err := countCSVRecords(src, delimiter)
	if err != nil {
		return nil, err
	}

	reader, err := openCSV(src, delimiter)
	if err != nil {
		return nil, err
	}
	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	return &csvSource{
		reader:  reader,
		headers: cleanHeaders(header),
		total:   total,
	}, nil
}

func (s *csvSource) Total() int {
	return s.total
}

func (s *csvSource) Next() (Row, error) {
	for {
		record, err := s.reader.Read()
		if err != nil {
			if err == io.EOF {
				return Row{}, io.EOF
			}
			return Row{}, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line, _ := s.reader.FieldPos(0)
		if row, ok := buildRow(line, s.headers, record); ok {
			return row, nil
		}
	}
}

func (s *csvSource) Close() error {
	return nil
}

// sniffDelimiter looks only at the header line; ';' wins over ',' because
// decimal commas make ',' ambiguous in semicolon files.
func sniffDelimiter(src io.ReadSeeker) (rune, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind upload: %w", err)
	}
	header, err := bufio.NewReader(utf8Reader(src)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if strings.TrimSpace(header) == "" {
		return 0, ErrEmptyFile
	}
	return detectDelimiter(header), nil
}

func detectDelimiter(header string) rune {
	switch {
	case strings.ContainsRune(header, ';'):
		return ';'
	case strings.ContainsRune(header, ','):
		return ','
	case strings.ContainsRune(header, '\t'):
		return '\t'
	default:
		return ','
	}
}

func countCSVRecords(src io.ReadSeeker, delimiter rune) (int, error) {
	reader, err := openCSV(src, delimiter)
	if err != nil {
		return 0, err
	}
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return 0, ErrEmptyFile
		}
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if !isBlankRecord(record) {
			count++
		}
	}
}

func openCSV(src io.ReadSeeker, delimiter rune) (*csv.Reader, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	reader := csv.NewReader(utf8Reader(src))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return reader, nil
}

// utf8Reader drops a UTF-8 BOM and transcodes UTF-16 input announced by a BOM.
func utf8Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
