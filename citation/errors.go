package citation

import "github.com/m-mizutani/goerr/v2"

// Error tags for the citation package. Pure in-memory bookkeeping has no
// transient failures, so validation and missing references are the whole
// taxonomy.
var (
	ErrTagValidation = goerr.NewTag("validation")
	ErrTagNotFound   = goerr.NewTag("not_found")
)

// IsValidation reports whether err is tagged as a validation failure.
func IsValidation(err error) bool { return goerr.HasTag(err, ErrTagValidation) }

// IsNotFound reports whether err is tagged as a missing-reference failure.
func IsNotFound(err error) bool { return goerr.HasTag(err, ErrTagNotFound) }
