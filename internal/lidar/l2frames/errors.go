package l2frames

import "errors"

var (
	// ErrMalformedInput reports a packet or point whose shape disagrees with
	// the calibration or with the list it is pushed into.
	ErrMalformedInput = errors.New("malformed input")

	// ErrOrderingViolation reports a packet older than the last point seen
	// by a strict FrameConverter.
	ErrOrderingViolation = errors.New("packet timestamp precedes previous point")

	// ErrConfiguration reports invalid construction parameters.
	ErrConfiguration = errors.New("invalid frame converter configuration")

	// ErrFinished is returned by a FrameConverter after Finish.
	ErrFinished = errors.New("frame converter finished")
)
