package secplus

import "errors"

var (
	// ErrEncode marks a logical packet that cannot be encoded. Retrying it cannot succeed.
	ErrEncode = errors.New("secplus: malformed packet")

	// ErrDecode marks a frame that failed checksum or layout checks.
	ErrDecode = errors.New("secplus: undecodable frame")
)
