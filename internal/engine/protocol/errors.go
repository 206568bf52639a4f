package protocol

import "errors"

var (
	// ErrTruncatedRecord is returned when a header or DSR claims more bytes than the
	// buffer holds. The record is unusable and the caller should resynchronize.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrZeroLengthDSR is returned when a DSR declares a length of zero words. The
	// record is discarded but the stream remains usable.
	ErrZeroLengthDSR = errors.New("zero length DSR")

	// ErrUnsupportedVersion is returned for a header whose version is not understood.
	ErrUnsupportedVersion = errors.New("unsupported record version")

	// ErrBadLength is returned for a header length shorter than the header itself.
	ErrBadLength = errors.New("bad record length")

	// ErrUnknownDSRType marks a DSR the decoder skipped. It is never returned by
	// Decode; skipped DSRs are counted in Stats.
	ErrUnknownDSRType = errors.New("unknown DSR type")

	// ErrRecordTooLarge is returned by the encoder when a record exceeds the
	// 16-bit word count of the header.
	ErrRecordTooLarge = errors.New("record too large")
)

// errSkipDSR tells the walker to drop the current DSR and continue.
var errSkipDSR = errors.New("skip DSR")

// Reason returns a short label for a decode error, suitable for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTruncatedRecord):
		return "truncated"
	case errors.Is(err, ErrZeroLengthDSR):
		return "zero_length"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrBadLength):
		return "bad_length"
	}
	return "other"
}
