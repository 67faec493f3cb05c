package poem

import "errors"

var (
	// ErrInvariant signals a state the flow graph should have made impossible.
	ErrInvariant = errors.New("poem flow invariant violated")
	// ErrNoGenerator is returned when a flow is built without a Generator.
	ErrNoGenerator = errors.New("poem generator is required")
	// ErrInvalidCount is returned for a sentence count outside [MinSentences, MaxSentences].
	ErrInvalidCount = errors.New("sentence count out of range")
)
