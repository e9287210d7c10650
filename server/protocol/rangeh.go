package protocol

import "math"

// Range is a single "bytes=start-end" request, bounds inclusive.
type Range struct {
	HasStart bool
	Start    int64
	HasEnd   bool
	End      int64
}

// Given reports whether the range should be applied at all.
// Ranges without a start (suffix form "-500") are not supported and are ignored.
func (r Range) Given() bool {
	return r.HasStart
}

// Bounds resolves the range against a resource of size bytes.
// An open end means the last byte. ok is false when the range is unsatisfiable:
// a bound at or past size, or start greater than end.
func (r Range) Bounds(size int64) (start, end int64, ok bool) {
	start = r.Start
	end = size - 1
	if r.HasEnd {
		end = r.End
	}
	if start >= size || end >= size {
		return 0, 0, false
	}
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}

// parseRange reads a Range header value.
// Units other than bytes and multi-range sets are ignored, not rejected.
func parseRange(val []byte) (Range, bool) {
	var r Range
	const unit = "bytes="
	if len(val) < len(unit) || string(val[:len(unit)]) != unit {
		return r, true
	}
	val = val[len(unit):]
	for _, c := range val {
		if c == ',' {
			return Range{}, true
		}
	}

	crs := 0
	r.Start, crs, r.HasStart = consumeNum(val, crs)
	if r.HasStart && r.Start < 0 {
		return Range{}, false
	}
	if crs >= len(val) || val[crs] != '-' {
		return Range{}, false
	}
	crs++
	r.End, crs, r.HasEnd = consumeNum(val, crs)
	if r.HasEnd && r.End < 0 {
		return Range{}, false
	}
	if crs != len(val) {
		return Range{}, false
	}
	return r, true
}

// consumeNum reads decimal digits from crs; n is -1 on overflow
func consumeNum(b []byte, crs int) (n int64, next int, ok bool) {
	st := crs
	for crs < len(b) && isDigit(b[crs]) {
		d := int64(b[crs] - '0')
		if n >= 0 {
			if n > (math.MaxInt64-d)/10 {
				n = -1
			} else {
				n = n*10 + d
			}
		}
		crs++
	}
	return n, crs, crs > st
}
