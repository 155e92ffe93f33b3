package dialect

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Reader returns the rows of a delimited stream. Blank lines are skipped.
type Reader struct {
	csv  *csv.Reader
	line *bufio.Reader
	sep  string
}

// NewReader decodes r according to d. UTF-8 input has a leading BOM removed
// and invalid bytes replaced; Latin-1 input is transcoded to UTF-8.
func NewReader(r io.Reader, d Dialect) *Reader {
	r = decode(r, d.Encoding)

	if d.Quoting == QuoteNone {
		return &Reader{
			line: bufio.NewReaderSize(r, 64*1024),
			sep:  string(d.Delimiter),
		}
	}

	cr := csv.NewReader(r)
	cr.Comma = d.Delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &Reader{csv: cr}
}

func decode(r io.Reader, enc Encoding) io.Reader {
	if enc == EncodingLatin1 {
		return charmap.ISO8859_1.NewDecoder().Reader(r)
	}
	return unicode.UTF8BOM.NewDecoder().Reader(r)
}

// Read returns the next row, or io.EOF.
func (r *Reader) Read() ([]string, error) {
	if r.csv != nil {
		return r.csv.Read()
	}
	return r.readRaw()
}

// readRaw splits one physical line on the delimiter without quote handling.
// Leading spaces of each cell are dropped.
func (r *Reader) readRaw() ([]string, error) {
	for {
		line, err := r.line.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if line == "" && err == io.EOF {
			return nil, io.EOF
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}

		cells := strings.Split(line, r.sep)
		for i, cell := range cells {
			cells[i] = strings.TrimLeft(cell, " ")
		}
		return cells, nil
	}
}

// FileReader is a Reader over an open file.
type FileReader struct {
	*Reader
	f *os.File
}

// Open opens path for reading with dialect d.
func Open(path string, d Dialect) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileReader{Reader: NewReader(f, d), f: f}, nil
}

// Close closes the underlying file.
func (r *FileReader) Close() error {
	return r.f.Close()
}

// Writer encodes rows as UTF-8 in a dialect.
type Writer struct {
	csv *csv.Writer
	buf *bufio.Writer
	sep string
}

// NewWriter returns a Writer for d. Call Flush when done.
func NewWriter(w io.Writer, d Dialect) *Writer {
	if d.Quoting == QuoteNone {
		return &Writer{buf: bufio.NewWriter(w), sep: string(d.Delimiter)}
	}
	cw := csv.NewWriter(w)
	cw.Comma = d.Delimiter
	return &Writer{csv: cw}
}

// Write writes one row.
func (w *Writer) Write(row []string) error {
	if w.csv != nil {
		return w.csv.Write(row)
	}
	if _, err := w.buf.WriteString(strings.Join(row, w.sep)); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Flush writes any buffered data.
func (w *Writer) Flush() error {
	if w.csv != nil {
		w.csv.Flush()
		return w.csv.Error()
	}
	return w.buf.Flush()
}
