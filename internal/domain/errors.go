package domain

import "errors"

// Structural errors abort the requested operation before any mutation.
var (
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrInvalidEnvelope       = errors.New("invalid envelope")
	ErrInvalidRelation       = errors.New("invalid relation type")
	ErrSelfLink              = errors.New("receipt cannot be linked to itself")
	ErrDuplicateRelationship = errors.New("relationship already exists")
	ErrDuplicateReceipt      = errors.New("receipt already exists")
	ErrCycleDetected         = errors.New("relationship would create a cycle")
	ErrUnsupportedAlgorithm  = errors.New("unsupported signature algorithm")
)

// Not-found errors are surfaced separately from cryptographic failures.
var (
	ErrNotFound    = errors.New("not found")
	ErrKeyNotFound = errors.New("key not found")
)

var (
	ErrPatternUnknown  = errors.New("pattern unknown")
	ErrInvalidArgument = errors.New("invalid argument")
)
