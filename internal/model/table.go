package model

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TableFormat is the header line that opens every grain table file.
const TableFormat = "filmgrn1"

// ErrBadTable is wrapped by every ParseTable failure.
var ErrBadTable = errors.New("malformed grain table")

// WriteTable writes segments in the filmgrn1 text format understood by
// libaom-compatible encoders.
func WriteTable(w io.Writer, segs []Segment) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, TableFormat)
	for i := range segs {
		writeSegment(bw, &segs[i])
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write grain table: %w", err)
	}
	return nil
}

func writeSegment(w *bufio.Writer, s *Segment) {
	fmt.Fprintf(w, "E %d %d 1 %d 1\n", s.StartTime, s.EndTime, s.RandomSeed)
	fmt.Fprintf(w, "\tp %d %d %d %d %d %d %d %d %d %d %d %d\n",
		s.ARCoeffLag, s.ARCoeffShift, s.GrainScaleShift, s.ScalingShift,
		boolInt(s.ChromaScalingFromLuma), boolInt(s.OverlapFlag),
		s.CbMult, s.CbLumaMult, s.CbOffset, s.CrMult, s.CrLumaMult, s.CrOffset)
	writePoints(w, "sY", s.ScalingPointsY)
	writePoints(w, "sCb", s.ScalingPointsCb)
	writePoints(w, "sCr", s.ScalingPointsCr)
	writeCoeffs(w, "cY", s.ARCoeffsY)
	writeCoeffs(w, "cCb", s.ARCoeffsCb)
	writeCoeffs(w, "cCr", s.ARCoeffsCr)
}

func writePoints(w *bufio.Writer, tag string, pts []ScalingPoint) {
	fmt.Fprintf(w, "\t%s %d", tag, len(pts))
	for _, p := range pts {
		fmt.Fprintf(w, " %d %d", p.Value, p.Scaling)
	}
	w.WriteByte('\n')
}

func writeCoeffs(w *bufio.Writer, tag string, coeffs []int8) {
	fmt.Fprintf(w, "\t%s", tag)
	for _, c := range coeffs {
		fmt.Fprintf(w, " %d", c)
	}
	w.WriteByte('\n')
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ParseTable reads a filmgrn1 table. Segments with apply_grain == 0 carry no
// parameter lines and are returned with only their time span and seed set.
// Every parsed segment with grain applied is validated.
func ParseTable(r io.Reader) ([]Segment, error) {
	p := &tableParser{sc: bufio.NewScanner(r)}

	line, ok := p.next()
	if !ok {
		if err := p.sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read grain table: %w", err)
		}
		return nil, p.errorf("empty input")
	}
	if line != TableFormat {
		return nil, p.errorf("missing %q header", TableFormat)
	}

	var segs []Segment
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		seg, err := p.segment(line)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	if err := p.sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grain table: %w", err)
	}
	return segs, nil
}

type tableParser struct {
	sc     *bufio.Scanner
	lineNo int
}

// next returns the next non-blank line, trimmed.
func (p *tableParser) next() (string, bool) {
	for p.sc.Scan() {
		p.lineNo++
		if line := strings.TrimSpace(p.sc.Text()); line != "" {
			return line, true
		}
	}
	return "", false
}

func (p *tableParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrBadTable, p.lineNo, fmt.Sprintf(format, args...))
}

// expect reads the next line, checks its tag, and returns the numeric fields.
func (p *tableParser) expect(tag string) ([]int64, error) {
	line, ok := p.next()
	if !ok {
		return nil, p.errorf("unexpected end of table, want %q", tag)
	}
	fields := strings.Fields(line)
	if fields[0] != tag {
		return nil, p.errorf("got %q, want %q", fields[0], tag)
	}
	return p.ints(fields[1:])
}

func (p *tableParser) ints(fields []string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, p.errorf("bad number %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func (p *tableParser) segment(header string) (Segment, error) {
	var seg Segment
	fields := strings.Fields(header)
	if fields[0] != "E" || len(fields) != 6 {
		return seg, p.errorf("bad segment header %q", header)
	}
	hv, err := p.ints(fields[1:])
	if err != nil {
		return seg, err
	}
	if hv[0] < 0 || hv[1] < 0 {
		return seg, p.errorf("negative timestamp")
	}
	seg.StartTime, seg.EndTime = uint64(hv[0]), uint64(hv[1])
	seg.RandomSeed, err = p.narrowU16(hv[3], "random seed")
	if err != nil {
		return seg, err
	}
	if hv[2] == 0 {
		return seg, nil
	}

	pv, err := p.expect("p")
	if err != nil {
		return seg, err
	}
	if len(pv) != 12 {
		return seg, p.errorf("parameter line has %d values, want 12", len(pv))
	}
	u8 := make([]uint8, 12)
	for i, v := range pv {
		if i == 8 || i == 11 {
			continue
		}
		if u8[i], err = p.narrowU8(v, "parameter"); err != nil {
			return seg, err
		}
	}
	seg.ARCoeffLag, seg.ARCoeffShift, seg.GrainScaleShift, seg.ScalingShift = u8[0], u8[1], u8[2], u8[3]
	seg.ChromaScalingFromLuma, seg.OverlapFlag = u8[4] != 0, u8[5] != 0
	seg.CbMult, seg.CbLumaMult, seg.CrMult, seg.CrLumaMult = u8[6], u8[7], u8[9], u8[10]
	if seg.CbOffset, err = p.narrowU16(pv[8], "cb offset"); err != nil {
		return seg, err
	}
	if seg.CrOffset, err = p.narrowU16(pv[11], "cr offset"); err != nil {
		return seg, err
	}

	for _, dst := range []struct {
		tag string
		pts *[]ScalingPoint
	}{{"sY", &seg.ScalingPointsY}, {"sCb", &seg.ScalingPointsCb}, {"sCr", &seg.ScalingPointsCr}} {
		if *dst.pts, err = p.points(dst.tag); err != nil {
			return seg, err
		}
	}
	for _, dst := range []struct {
		tag    string
		coeffs *[]int8
	}{{"cY", &seg.ARCoeffsY}, {"cCb", &seg.ARCoeffsCb}, {"cCr", &seg.ARCoeffsCr}} {
		if *dst.coeffs, err = p.coeffs(dst.tag); err != nil {
			return seg, err
		}
	}

	if err := seg.Validate(); err != nil {
		return seg, p.errorf("%v", err)
	}
	return seg, nil
}

func (p *tableParser) points(tag string) ([]ScalingPoint, error) {
	v, err := p.expect(tag)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 || int64(len(v)-1) != 2*v[0] {
		return nil, p.errorf("%s: point count does not match values", tag)
	}
	if v[0] == 0 {
		return nil, nil
	}
	pts := make([]ScalingPoint, v[0])
	for i := range pts {
		x, err := p.narrowU8(v[1+2*i], tag)
		if err != nil {
			return nil, err
		}
		y, err := p.narrowU8(v[2+2*i], tag)
		if err != nil {
			return nil, err
		}
		pts[i] = ScalingPoint{Value: x, Scaling: y}
	}
	return pts, nil
}

func (p *tableParser) coeffs(tag string) ([]int8, error) {
	v, err := p.expect(tag)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	out := make([]int8, len(v))
	for i, c := range v {
		if c < -128 || c > 127 {
			return nil, p.errorf("%s: coefficient %d out of int8 range", tag, c)
		}
		out[i] = int8(c)
	}
	return out, nil
}

func (p *tableParser) narrowU8(v int64, what string) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, p.errorf("%s %d out of range 0..255", what, v)
	}
	return uint8(v), nil
}

func (p *tableParser) narrowU16(v int64, what string) (uint16, error) {
	if v < 0 || v > 65535 {
		return 0, p.errorf("%s %d out of range 0..65535", what, v)
	}
	return uint16(v), nil
}
