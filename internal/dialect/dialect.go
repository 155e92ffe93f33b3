// Package dialect detects and reads the two delimited formats the engine
// accepts: comma separated text with minimal quoting, and pipe separated
// text with no quote interpretation.
package dialect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/checkin/internal/core"
)

// Quoting controls how quote characters are interpreted.
type Quoting int

const (
	// QuoteMinimal reads RFC 4180 quoting leniently and quotes on write
	// only where needed.
	QuoteMinimal Quoting = iota
	// QuoteNone treats quotes as ordinary characters.
	QuoteNone
)

// Encoding is the character encoding of the source file.
type Encoding int

const (
	EncodingUTF8 Encoding = iota
	EncodingLatin1
)

// Dialect describes how a file is laid out.
type Dialect struct {
	Delimiter rune
	Quoting   Quoting
	Encoding  Encoding
}

var (
	Comma = Dialect{Delimiter: ',', Quoting: QuoteMinimal}
	Pipe  = Dialect{Delimiter: '|', Quoting: QuoteNone}
)

// ForDelimiter returns the dialect for a delimiter. Quoting is fixed per
// delimiter.
func ForDelimiter(delim rune) Dialect {
	if delim == '|' {
		return Pipe
	}
	return Comma
}

// UTF8 returns d with UTF-8 encoding. Chunk files are always written as UTF-8.
func (d Dialect) UTF8() Dialect {
	d.Encoding = EncodingUTF8
	return d
}

func (d Dialect) alternate() Dialect {
	alt := ForDelimiter(',')
	if d.Delimiter == ',' {
		alt = ForDelimiter('|')
	}
	alt.Encoding = d.Encoding
	return alt
}

func (d Dialect) String() string {
	enc := "utf-8"
	if d.Encoding == EncodingLatin1 {
		enc = "latin-1"
	}
	if d.Delimiter == '|' {
		return "pipe/" + enc
	}
	return "comma/" + enc
}

// Detector infers the dialect of a file from a prefix sample and its header.
type Detector struct {
	SampleSize       int // bytes sampled from the start of the file
	MinHeaderColumns int // fewer header columns triggers a re-parse with the other delimiter
}

// Result is the outcome of Detect.
type Result struct {
	Dialect Dialect
	Header  []string
}

// DefaultDetector matches the engine defaults.
var DefaultDetector = Detector{SampleSize: 1024, MinHeaderColumns: 2}

// Detect opens path, sniffs its dialect and validates the header.
func (d Detector) Detect(path string) (Result, error) {
	sample, err := readSample(path, d.sampleSize())
	if err != nil {
		return Result{}, err
	}

	dialect := Sniff(sample)
	if dialect.Encoding == EncodingUTF8 {
		ok, err := fileIsUTF8(path)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			dialect.Encoding = EncodingLatin1
		}
	}

	header, err := readHeader(path, dialect)
	if err != nil {
		return Result{}, err
	}

	alt := dialect.alternate()
	if len(header) < d.MinHeaderColumns && bytes.ContainsRune(sample, alt.Delimiter) {
		altHeader, err := readHeader(path, alt)
		if err != nil {
			return Result{}, err
		}
		if len(altHeader) > len(header) {
			dialect, header = alt, altHeader
		}
	}

	if countNonBlank(header) == 0 {
		return Result{}, fmt.Errorf("%w: empty header in %s", core.ErrFormat, path)
	}

	return Result{Dialect: dialect, Header: header}, nil
}

func (d Detector) sampleSize() int {
	if d.SampleSize <= 0 {
		return DefaultDetector.SampleSize
	}
	return d.SampleSize
}

// Sniff chooses the delimiter and encoding for a sample. It first looks for
// a delimiter that splits every complete line into the same number of
// fields; failing that it picks the more frequent candidate.
func Sniff(sample []byte) Dialect {
	enc := EncodingUTF8
	if !looksUTF8(sample) {
		enc = EncodingLatin1
	}

	delim, ok := sniffStructure(sample)
	if !ok {
		delim = ','
		if bytes.Count(sample, []byte{'|'}) > bytes.Count(sample, []byte{','}) {
			delim = '|'
		}
	}

	dialect := ForDelimiter(delim)
	dialect.Encoding = enc
	return dialect
}

func sniffStructure(sample []byte) (rune, bool) {
	lines := completeLines(sample)
	if len(lines) < 2 {
		return 0, false
	}

	var (
		best      rune
		bestWidth int
		found     int
	)
	for _, delim := range []byte{',', '|'} {
		width := bytes.Count(lines[0], []byte{delim})
		if width == 0 {
			continue
		}
		consistent := true
		for _, line := range lines[1:] {
			if bytes.Count(line, []byte{delim}) != width {
				consistent = false
				break
			}
		}
		if !consistent {
			continue
		}
		found++
		if width > bestWidth {
			best, bestWidth = rune(delim), width
		}
	}
	return best, found > 0
}

// completeLines returns the non-blank lines of sample, dropping a final line
// that may have been cut by the sample boundary.
func completeLines(sample []byte) [][]byte {
	raw := bytes.Split(sample, []byte{'\n'})
	if len(raw) > 0 && !bytes.HasSuffix(sample, []byte{'\n'}) {
		raw = raw[:len(raw)-1]
	}
	lines := raw[:0]
	for _, line := range raw {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// looksUTF8 reports whether sample is valid UTF-8, allowing a rune cut by
// the sample boundary.
func looksUTF8(sample []byte) bool {
	ok, _ := validUTF8Prefix(sample, false)
	return ok
}

// validUTF8Prefix validates data. Unless final is set, a rune cut at the end
// of data is allowed and its length returned as tail.
func validUTF8Prefix(data []byte, final bool) (ok bool, tail int) {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			if !final && !utf8.FullRune(data[i:]) {
				return true, len(data) - i
			}
			return false, 0
		}
		i += size
	}
	return true, 0
}

// fileIsUTF8 scans the whole file. A Latin-1 byte anywhere past the sample
// would otherwise be decoded as U+FFFD.
func fileIsUTF8(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 64<<10)
	keep := 0
	for {
		n, err := f.Read(buf[keep:])
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return false, fmt.Errorf("scan encoding: %w", err)
		}

		data := buf[:keep+n]
		ok, tail := validUTF8Prefix(data, eof)
		if !ok {
			return false, nil
		}
		if eof {
			return true, nil
		}
		keep = copy(buf, data[len(data)-tail:])
	}
}

func readSample(path string, size int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return buf[:n], nil
}

func readHeader(path string, d Dialect) ([]string, error) {
	r, err := Open(path, d)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty header in %s", core.ErrFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", core.ErrFormat, err)
	}
	return TrimRow(header), nil
}

// TrimRow trims surrounding whitespace from every cell in place.
func TrimRow(row []string) []string {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	return row
}

// IsEmptyRow reports whether every cell is blank.
func IsEmptyRow(row []string) bool {
	return countNonBlank(row) == 0
}

func countNonBlank(row []string) int {
	n := 0
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	return n
}
