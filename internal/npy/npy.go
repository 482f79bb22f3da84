// Package npy reads and writes two-dimensional float64 batches in the NumPy
// .npy format (version 1.0, little-endian, C order). Files ending in .zst are
// transparently zstd-framed.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/ayusman/mudra/internal/fsutil"
)

// ErrCorrupt is returned when a file is truncated or its header is not a
// supported .npy header.
var ErrCorrupt = errors.New("corrupt batch file")

// ZstdExt is the suffix that selects the compressed variant.
const ZstdExt = ".zst"

const (
	magic        = "\x93NUMPY"
	headerAlign  = 64
	maxHeaderLen = 1 << 16
	maxElements  = 1 << 31
	readChunk    = 1 << 16
)

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Batch is a row-major matrix of samples.
type Batch struct {
	Rows int
	Cols int
	Data []float64
}

// NewBatch returns an empty batch with a fixed row width.
func NewBatch(cols int) *Batch {
	return &Batch{Cols: cols}
}

// FromRows builds a batch from equally sized rows.
func FromRows(rows [][]float64) (*Batch, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows")
	}
	b := NewBatch(len(rows[0]))
	for _, row := range rows {
		if err := b.Append(row); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Append adds one row. The row is copied.
func (b *Batch) Append(row []float64) error {
	if len(row) != b.Cols {
		return fmt.Errorf("row has %d values, batch has %d columns", len(row), b.Cols)
	}
	b.Data = append(b.Data, row...)
	b.Rows++
	return nil
}

// Row returns row i. It shares memory with the batch.
func (b *Batch) Row(i int) []float64 {
	return b.Data[i*b.Cols : (i+1)*b.Cols]
}

// Shape returns (rows, cols).
func (b *Batch) Shape() [2]int {
	return [2]int{b.Rows, b.Cols}
}

// Write encodes b as .npy to w.
func Write(w io.Writer, b *Batch) error {
	if b.Rows*b.Cols != len(b.Data) {
		return fmt.Errorf("batch shape (%d, %d) does not match %d values", b.Rows, b.Cols, len(b.Data))
	}

	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d, %d), }", b.Rows, b.Cols)
	// magic(6) + version(2) + length(2) + header + '\n' padded to the alignment.
	total := len(magic) + 4 + len(header) + 1
	if rem := total % headerAlign; rem != 0 {
		header += strings.Repeat(" ", headerAlign-rem)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	bw.WriteString(magic)
	bw.Write([]byte{1, 0})
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	bw.Write(hlen[:])
	bw.WriteString(header)

	var buf [8]byte
	for _, v := range b.Data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("write data: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Read decodes a .npy stream. Both '<f8' and '<f4' are accepted; a
// one-dimensional array is read as a single row.
func Read(r io.Reader) (*Batch, error) {
	return decode(r, -1)
}

// decode reads a .npy stream. When size is not negative it is the total
// stream length, and a header promising more data than that is rejected
// before anything is allocated.
func decode(r io.Reader, size int64) (*Batch, error) {
	br := bufio.NewReader(r)

	var pre [8]byte
	if _, err := io.ReadFull(br, pre[:]); err != nil {
		return nil, fmt.Errorf("%w: short preamble", ErrCorrupt)
	}
	if string(pre[:6]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var headerLen int
	consumed := int64(len(pre))
	switch pre[6] {
	case 1:
		var l [2]byte
		if _, err := io.ReadFull(br, l[:]); err != nil {
			return nil, fmt.Errorf("%w: short header length", ErrCorrupt)
		}
		headerLen = int(binary.LittleEndian.Uint16(l[:]))
		consumed += 2
	case 2, 3:
		var l [4]byte
		if _, err := io.ReadFull(br, l[:]); err != nil {
			return nil, fmt.Errorf("%w: short header length", ErrCorrupt)
		}
		headerLen = int(binary.LittleEndian.Uint32(l[:]))
		consumed += 4
	default:
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrCorrupt, pre[6], pre[7])
	}
	if headerLen <= 0 || headerLen > maxHeaderLen {
		return nil, fmt.Errorf("%w: header length %d", ErrCorrupt, headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	consumed += int64(headerLen)

	itemSize, rows, cols, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	n := rows * cols
	if size >= 0 {
		if want, have := int64(n)*int64(itemSize), size-consumed; want != have {
			return nil, fmt.Errorf("%w: shape (%d, %d) needs %d data bytes, file has %d", ErrCorrupt, rows, cols, want, have)
		}
	}

	// Data grows as values arrive so a lying header cannot force a huge
	// allocation up front.
	b := &Batch{Rows: rows, Cols: cols, Data: make([]float64, 0, min(n, readChunk))}
	buf := make([]byte, itemSize)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: truncated data at value %d of %d", ErrCorrupt, i, n)
		}
		var v float64
		if itemSize == 8 {
			v = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		} else {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
		if len(b.Data) == cap(b.Data) {
			grown := make([]float64, len(b.Data), len(b.Data)+min(n-len(b.Data), max(readChunk, len(b.Data))))
			copy(grown, b.Data)
			b.Data = grown
		}
		b.Data = append(b.Data, v)
	}

	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes after data", ErrCorrupt)
	}

	return b, nil
}

func parseHeader(h string) (itemSize, rows, cols int, err error) {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(h, "{") || !strings.HasSuffix(h, "}") {
		return 0, 0, 0, fmt.Errorf("%w: header is not a dict", ErrCorrupt)
	}

	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: missing descr", ErrCorrupt)
	}
	switch m[1] {
	case "<f8":
		itemSize = 8
	case "<f4":
		itemSize = 4
	default:
		return 0, 0, 0, fmt.Errorf("%w: unsupported dtype %q", ErrCorrupt, m[1])
	}

	m = fortranRe.FindStringSubmatch(h)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: missing fortran_order", ErrCorrupt)
	}
	if m[1] == "True" {
		return 0, 0, 0, fmt.Errorf("%w: fortran order is not supported", ErrCorrupt)
	}

	m = shapeRe.FindStringSubmatch(h)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: missing shape", ErrCorrupt)
	}
	var dims []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, convErr := strconv.Atoi(part)
		if convErr != nil || d < 0 {
			return 0, 0, 0, fmt.Errorf("%w: bad dimension %q", ErrCorrupt, part)
		}
		dims = append(dims, d)
	}

	switch len(dims) {
	case 1:
		rows, cols = 1, dims[0]
	case 2:
		rows, cols = dims[0], dims[1]
	default:
		return 0, 0, 0, fmt.Errorf("%w: expected 1 or 2 dimensions, got %d", ErrCorrupt, len(dims))
	}
	if cols != 0 && rows > maxElements/cols {
		return 0, 0, 0, fmt.Errorf("%w: shape (%d, %d) too large", ErrCorrupt, rows, cols)
	}
	return itemSize, rows, cols, nil
}

// Compressed reports whether path selects the zstd variant.
func Compressed(path string) bool {
	return strings.HasSuffix(path, ZstdExt)
}

// WriteFile atomically writes b to path, zstd-compressing when path ends
// in .zst.
func WriteFile(path string, b *Batch) error {
	return fsutil.WriteFileAtomic(path, 0644, func(w io.Writer) error {
		if !Compressed(path) {
			return Write(w, b)
		}
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		if err := Write(enc, b); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
}

// ReadFile reads a batch from path.
func ReadFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !Compressed(path) {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		return decode(f, info.Size())
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer dec.Close()

	b, err := Read(dec)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return b, err
}

// Marshal encodes b into memory.
func Marshal(b *Batch) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
