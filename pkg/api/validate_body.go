package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/validation"
)

// withValidation returns a no-op middleware when validator is nil,
// otherwise one that checks the body against the named schema
// ("ingest" or "query").
func withValidation(validator *validation.Validator, kind string) gin.HandlerFunc {
	if validator == nil {
		return func(c *gin.Context) {}
	}
	switch kind {
	case "ingest":
		return validateBody(validator.ValidateIngest)
	case "query":
		return validateBody(validator.ValidateQuery)
	default:
		return func(c *gin.Context) {}
	}
}

// bodyValidatorFunc checks a raw request body against a JSON schema.
type bodyValidatorFunc func(body []byte) error

// validateBody rejects a request whose body fails validate before any
// handler runs, then rewinds the body so the handler's own
// ShouldBindJSON can read it again (spec §4.14).
func validateBody(validate bodyValidatorFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body: " + err.Error()})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if err := validate(body); err != nil {
			writeError(c, kberrors.Wrap(kberrors.KindInvalidArgument, "request validation failed", err))
			c.Abort()
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
