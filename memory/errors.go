package memory

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures so callers can branch on kind instead of
// matching message strings.
var (
	// ErrTagValidation marks malformed input: empty required strings,
	// contradictory configuration, unknown enum values.
	ErrTagValidation = goerr.NewTag("validation")

	// ErrTagNotFound marks references to nonexistent fragments or sessions.
	ErrTagNotFound = goerr.NewTag("not_found")

	// ErrTagEmbedding marks embedding backend failures and timeouts.
	ErrTagEmbedding = goerr.NewTag("embedding")

	// ErrTagRetrieval marks vector store failures and timeouts.
	ErrTagRetrieval = goerr.NewTag("retrieval")
)

// IsValidation reports whether err is tagged as a validation failure.
func IsValidation(err error) bool { return goerr.HasTag(err, ErrTagValidation) }

// IsNotFound reports whether err is tagged as a missing-reference failure.
func IsNotFound(err error) bool { return goerr.HasTag(err, ErrTagNotFound) }

// IsEmbedding reports whether err is tagged as an embedding backend failure.
func IsEmbedding(err error) bool { return goerr.HasTag(err, ErrTagEmbedding) }

// IsRetrieval reports whether err is tagged as a vector store failure.
func IsRetrieval(err error) bool { return goerr.HasTag(err, ErrTagRetrieval) }
