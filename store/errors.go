package store

import (
	"errors"

	"github.com/jacentio/attrmap/internal/span"
)

var (
	// ErrConfiguration is returned when an entity schema or the store configuration is invalid.
	ErrConfiguration = errors.New("attrmap: invalid configuration")

	// ErrData is returned when a value cannot be formatted, parsed or stored.
	ErrData = errors.New("attrmap: invalid data")

	// ErrNotFound is returned when an entity has no stored attributes.
	ErrNotFound = errors.New("attrmap: entity not found")

	// ErrConcurrentModification is returned when a conditional version check fails.
	ErrConcurrentModification = errors.New("attrmap: entity was modified concurrently")

	// ErrConditionalBatch is returned when a multi-item put contains an entity with conditional versioning.
	ErrConditionalBatch = errors.New("attrmap: conditional versioning in a batch put")

	// ErrUnknownField is returned when a field name is not mapped by the descriptor.
	ErrUnknownField = errors.New("attrmap: unknown field")

	// ErrSpanOverflow is returned when a spanned value needs more chunks than the store allows.
	ErrSpanOverflow = span.ErrOverflow

	// ErrSpanCorrupt is returned when stored chunks of a spanned value cannot be reassembled.
	ErrSpanCorrupt = span.ErrCorrupt
)
