package media

// Rescale re-expresses a timestamp from one time base into another without
// overflowing intermediate products: the integer and fractional parts are
// scaled separately, the same way MP4 writers convert durations between
// clock rates.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoTimestamp {
		return NoTimestamp
	}
	num := from.Num * to.Den
	den := from.Den * to.Num
	if den == 0 {
		return ts
	}
	neg := false
	if ts < 0 {
		neg = true
		ts = -ts
	}
	secs := ts / den
	rem := ts % den
	out := secs*num + (rem*num+den/2)/den
	if neg {
		out = -out
	}
	return out
}
