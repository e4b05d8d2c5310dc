// errors.go - Sentinel errors returned by the embedding and extraction engine.
package lsb

import "errors"

var (
	// ErrCapacityExceeded means payload plus framing does not fit the carrier.
	ErrCapacityExceeded = errors.New("payload exceeds carrier capacity")
	// ErrUnsupportedCarrier means the carrier geometry cannot be addressed one bit per sample.
	ErrUnsupportedCarrier = errors.New("unsupported carrier format")
	// ErrStartMarkerNotFound means the samples ran out before a start marker was seen.
	ErrStartMarkerNotFound = errors.New("start marker not found")
	// ErrEndMarkerNotFound means the samples ran out after the start marker but before the end
	// marker. Bytes already written to the sink are not trustworthy.
	ErrEndMarkerNotFound = errors.New("end marker not found, payload is probably truncated")
	// ErrChecksumTruncated means the samples ran out inside the trailing checksum.
	ErrChecksumTruncated = errors.New("checksum truncated")
	// ErrChecksumMismatch means the payload was delivered but its checksum does not match.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)
