package parser

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
)

// BIFF8 record identifiers.
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recFilePass   = 0x002F
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recRString    = 0x00D6
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRK         = 0x027E
	recBOF        = 0x0809
)

const (
	biff8Version  = 0x0600
	maxWorkbookSz = 256 << 20
)

// XLSStrategy renders the first worksheet of a legacy BIFF8 workbook as an
// aligned text grid. The first row is the header. Cell values are rendered
// unformatted, so dates appear as serial numbers.
type XLSStrategy struct{}

func (s *XLSStrategy) Extract(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}
	stream, err := workbookStream(doc)
	if err != nil {
		return "", err
	}
	rows, err := readFirstSheet(stream)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return renderGrid(rows[0], rows[1:]), nil
}

func workbookStream(doc *mscfb.Reader) ([]byte, error) {
	for _, entry := range doc.File {
		switch {
		case strings.EqualFold(entry.Name, "Workbook"):
			if entry.Size > maxWorkbookSz {
				return nil, fmt.Errorf("workbook stream too large: %d bytes", entry.Size)
			}
			buf := make([]byte, entry.Size)
			if _, err := io.ReadFull(entry, buf); err != nil {
				return nil, fmt.Errorf("read workbook stream: %w", err)
			}
			return buf, nil
		case strings.EqualFold(entry.Name, "Book"):
			return nil, errors.New("unsupported workbook: BIFF5 or older")
		}
	}
	return nil, errors.New("no workbook stream")
}

type record struct {
	id   uint16
	data []byte
	next int
}

func readRecord(stream []byte, off int) (record, error) {
	if off+4 > len(stream) {
		return record{}, fmt.Errorf("truncated record header at offset %d", off)
	}
	id := binary.LittleEndian.Uint16(stream[off:])
	size := int(binary.LittleEndian.Uint16(stream[off+2:]))
	end := off + 4 + size
	if end > len(stream) {
		return record{}, fmt.Errorf("truncated record 0x%04X at offset %d", id, off)
	}
	return record{id: id, data: stream[off+4 : end], next: end}, nil
}

// readFirstSheet walks the globals substream for the shared strings and the
// first worksheet offset, then collects that worksheet's cells.
func readFirstSheet(stream []byte) ([][]string, error) {
	rec, err := readRecord(stream, 0)
	if err != nil {
		return nil, err
	}
	if rec.id != recBOF || len(rec.data) < 4 {
		return nil, errors.New("workbook stream does not start with BOF")
	}
	if v := binary.LittleEndian.Uint16(rec.data); v != biff8Version {
		return nil, fmt.Errorf("unsupported BIFF version 0x%04X", v)
	}

	var (
		sst      []string
		sheetPos = -1
	)
	for off := rec.next; ; {
		rec, err := readRecord(stream, off)
		if err != nil {
			return nil, err
		}
		off = rec.next

		switch rec.id {
		case recFilePass:
			return nil, errors.New("workbook is encrypted")
		case recBoundSheet:
			// Only worksheets; skip chart and macro sheets.
			if sheetPos < 0 && len(rec.data) >= 6 && rec.data[5] == 0 {
				sheetPos = int(binary.LittleEndian.Uint32(rec.data))
			}
		case recSST:
			segs := [][]byte{rec.data}
			for {
				cont, err := readRecord(stream, off)
				if err != nil || cont.id != recContinue {
					break
				}
				segs = append(segs, cont.data)
				off = cont.next
			}
			if sst, err = parseSST(segs); err != nil {
				return nil, err
			}
		}
		if rec.id == recEOF {
			break
		}
	}
	if sheetPos < 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return readSheetCells(stream, sheetPos, sst)
}

type cellGrid struct {
	rows [][]string
}

func (g *cellGrid) set(row, col int, value string) {
	for len(g.rows) <= row {
		g.rows = append(g.rows, nil)
	}
	r := g.rows[row]
	for len(r) <= col {
		r = append(r, "")
	}
	r[col] = value
	g.rows[row] = r
}

func readSheetCells(stream []byte, pos int, sst []string) ([][]string, error) {
	rec, err := readRecord(stream, pos)
	if err != nil {
		return nil, err
	}
	if rec.id != recBOF {
		return nil, fmt.Errorf("no worksheet at offset %d", pos)
	}

	var (
		grid    cellGrid
		depth   = 1
		pending = [2]int{-1, -1}
	)
	for off := rec.next; depth > 0; {
		rec, err := readRecord(stream, off)
		if err != nil {
			return nil, err
		}
		off = rec.next

		switch rec.id {
		case recBOF:
			depth++
			continue
		case recEOF:
			depth--
			continue
		}
		// Cells of embedded charts are not part of the worksheet.
		if depth != 1 {
			continue
		}

		d := rec.data
		switch rec.id {
		case recLabelSST:
			if len(d) < 10 {
				continue
			}
			idx := int(binary.LittleEndian.Uint32(d[6:]))
			if idx < len(sst) {
				grid.set(rowAt(d), colAt(d), sst[idx])
			}
		case recLabel, recRString:
			if len(d) < 9 {
				continue
			}
			if s, err := cellString(d[6:]); err == nil {
				grid.set(rowAt(d), colAt(d), s)
			}
		case recNumber:
			if len(d) < 14 {
				continue
			}
			grid.set(rowAt(d), colAt(d), formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(d[6:]))))
		case recRK:
			if len(d) < 10 {
				continue
			}
			grid.set(rowAt(d), colAt(d), formatNumber(decodeRK(binary.LittleEndian.Uint32(d[6:]))))
		case recMulRK:
			if len(d) < 6 {
				continue
			}
			row, first := rowAt(d), colAt(d)
			for i := 0; 4+i*6+6 <= len(d)-2; i++ {
				rk := binary.LittleEndian.Uint32(d[4+i*6+2:])
				grid.set(row, first+i, formatNumber(decodeRK(rk)))
			}
		case recBoolErr:
			if len(d) < 8 {
				continue
			}
			grid.set(rowAt(d), colAt(d), boolErrText(d[6], d[7] != 0))
		case recFormula:
			if len(d) < 14 {
				continue
			}
			row, col := rowAt(d), colAt(d)
			val := d[6:14]
			if binary.LittleEndian.Uint16(val[6:]) != 0xFFFF {
				grid.set(row, col, formatNumber(math.Float64frombits(binary.LittleEndian.Uint64(val))))
				continue
			}
			switch val[0] {
			case 0:
				// The cached string follows in a STRING record.
				pending = [2]int{row, col}
			case 1:
				grid.set(row, col, boolErrText(val[2], false))
			case 2:
				grid.set(row, col, boolErrText(val[2], true))
			}
		case recString:
			if pending[0] < 0 {
				continue
			}
			if s, err := cellString(d); err == nil {
				grid.set(pending[0], pending[1], s)
			}
			pending = [2]int{-1, -1}
		}
	}
	return grid.rows, nil
}

func rowAt(d []byte) int { return int(binary.LittleEndian.Uint16(d)) }
func colAt(d []byte) int  { return int(binary.LittleEndian.Uint16(d[2:])) }

// decodeRK unpacks the compressed RK number encoding.
func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var cellErrors = map[byte]string{
	0x00: "#NULL!",
	0x07: "#DIV/0!",
	0x0F: "#VALUE!",
	0x17: "#REF!",
	0x1D: "#NAME?",
	0x24: "#NUM!",
	0x2A: "#N/A",
}

func boolErrText(v byte, isErr bool) string {
	if isErr {
		if s, ok := cellErrors[v]; ok {
			return s
		}
		return "#ERR"
	}
	if v != 0 {
		return "TRUE"
	}
	return "FALSE"
}

// sstReader reads across an SST record and its CONTINUE records.
type sstReader struct {
	segs [][]byte
	seg  int
	off  int
}

func (r *sstReader) advance() bool {
	for r.seg < len(r.segs) && r.off >= len(r.segs[r.seg]) {
		r.seg++
		r.off = 0
	}
	return r.seg < len(r.segs)
}

func (r *sstReader) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if !r.advance() {
			return nil, io.ErrUnexpectedEOF
		}
		cur := r.segs[r.seg][r.off:]
		take := min(n-len(out), len(cur))
		out = append(out, cur[:take]...)
		r.off += take
	}
	return out, nil
}

func (r *sstReader) u8() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *sstReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *sstReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// str reads one XLUnicodeRichExtendedString. Character data split across a
// record boundary resumes with a fresh option byte.
func (r *sstReader) str() (string, error) {
	cch, err := r.u16()
	if err != nil {
		return "", err
	}
	flags, err := r.u8()
	if err != nil {
		return "", err
	}
	var runs, ext uint32
	if flags&0x08 != 0 {
		n, err := r.u16()
		if err != nil {
			return "", err
		}
		runs = uint32(n)
	}
	if flags&0x04 != 0 {
		if ext, err = r.u32(); err != nil {
			return "", err
		}
	}

	units := make([]uint16, 0, cch)
	high := flags&0x01 != 0
	for remaining := int(cch); remaining > 0; {
		if r.seg < len(r.segs) && r.off >= len(r.segs[r.seg]) {
			if !r.advance() {
				return "", io.ErrUnexpectedEOF
			}
			high = r.segs[r.seg][0]&0x01 != 0
			r.off++
		}
		if r.seg >= len(r.segs) {
			return "", io.ErrUnexpectedEOF
		}
		width := 1
		if high {
			width = 2
		}
		take := min(remaining, (len(r.segs[r.seg])-r.off)/width)
		if take == 0 {
			return "", errors.New("malformed string continuation")
		}
		b, err := r.bytes(take * width)
		if err != nil {
			return "", err
		}
		for i := 0; i < take; i++ {
			if high {
				units = append(units, binary.LittleEndian.Uint16(b[i*2:]))
			} else {
				units = append(units, uint16(b[i]))
			}
		}
		remaining -= take
	}

	if _, err := r.bytes(int(runs*4 + ext)); err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// cellString decodes a string stored inline in a single record.
func cellString(d []byte) (string, error) {
	return (&sstReader{segs: [][]byte{d}}).str()
}

// parseSST decodes the shared string table: a header with the total and
// unique counts, followed by the unique strings.
func parseSST(segs [][]byte) ([]string, error) {
	r := &sstReader{segs: segs}
	if _, err := r.u32(); err != nil {
		return nil, fmt.Errorf("read shared strings: %w", err)
	}
	unique, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("read shared strings: %w", err)
	}
	out := make([]string, 0, min(int(unique), 1<<16))
	for i := 0; i < int(unique); i++ {
		s, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("read shared string %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
