package services

import (
	"errors"

	"media-archive-search/internal/inference"
)

// Error taxonomy of the retrieval engine. All three are fatal to the
// call that produced them; the engine performs no retries and no
// degraded fallback modes. Callers classify with errors.Is.
var (
	// ErrMalformedQuery: no search criterion was supplied, or the
	// object-count grammar could not be parsed. Raised before any
	// network call is made.
	ErrMalformedQuery = errors.New("malformed query")

	// ErrBackendUnavailable: the document store could not be reached.
	ErrBackendUnavailable = errors.New("search backend unavailable")

	// ErrResourceUnavailable: an embedding or hash computation was
	// requested but no compatible accelerator is present. Checked
	// eagerly at model-load time, before expensive work begins.
	ErrResourceUnavailable = inference.ErrNoAccelerator
)
