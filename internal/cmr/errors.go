package cmr

import "errors"

// ErrMetadata is returned when a search result is missing the temporal
// or spatial fields the pipeline requires. Resolution aborts on the
// first malformed granule; there is no partial-granule recovery.
var ErrMetadata = errors.New("malformed granule metadata")
