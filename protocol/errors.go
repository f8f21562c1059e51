package protocol

import "errors"

var (
	// ErrMalformedFrame is returned for frames too short to hold the fields
	// their message id requires, or whose length byte disagrees with the data.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownRoadPiece is returned for a road piece id missing from the
	// piece table.
	ErrUnknownRoadPiece = errors.New("protocol: unknown road piece")

	// ErrProtocolAssumptionViolated is returned when bytes documented as
	// reserved carry data. It usually means the firmware changed under us.
	ErrProtocolAssumptionViolated = errors.New("protocol: assumption violated")

	// ErrInvalidCommand is returned by encoders given arguments the frame
	// layout cannot carry.
	ErrInvalidCommand = errors.New("protocol: invalid command")
)
