// Package api exposes the v2 HTTP surface (spec §6) over pkg/serving's
// façade: a Gin router, one handler per route, and middleware that
// translates internal error kinds to external status codes (spec §7).
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/knowledgebeast/knowledgebeast/pkg/auth"
	"github.com/knowledgebeast/knowledgebeast/pkg/kberrors"
	"github.com/knowledgebeast/knowledgebeast/pkg/models"
)

// statusForKind maps an internal error Kind to its external HTTP
// status code (spec §7).
func statusForKind(kind kberrors.Kind) int {
	switch kind {
	case kberrors.KindInvalidArgument:
		return http.StatusBadRequest
	case kberrors.KindUnauthenticated:
		return http.StatusUnauthorized
	case kberrors.KindForbidden:
		return http.StatusForbidden
	case kberrors.KindNotFound:
		return http.StatusNotFound
	case kberrors.KindConflict:
		return http.StatusConflict
	case kberrors.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case kberrors.KindTimeout:
		return http.StatusGatewayTimeout
	case kberrors.KindBackendUnavailable, kberrors.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case kberrors.KindPartialDelete:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err to its external status code and writes a
// JSON error body.
func writeError(c *gin.Context, err error) {
	kind := kberrors.KindOf(err)
	c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

// apiKeyAuth validates the X-API-Key header against the project_id
// path parameter and the route's required scope, storing the
// resulting key record in the Gin context for handlers that need it.
func apiKeyAuth(facade Facade, want models.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("id")
		rawKey := c.GetHeader("X-API-Key")

		key, err := facade.Authenticate(c.Request.Context(), projectID, rawKey, want)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set("api_key", key)
	}
}

// adminAuth validates the Authorization bearer header against
// validator and requires the token carry want, rejecting anything
// else with KindUnauthenticated/KindForbidden before the handler runs.
// It guards the routes that sit outside the per-project API-key scheme
// (project create/list).
func adminAuth(validator *auth.JWTValidator, want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validator.Validate(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, kberrors.Wrap(kberrors.KindUnauthenticated, "admin token rejected", err))
			c.Abort()
			return
		}
		if !claims.HasScope(want) {
			writeError(c, kberrors.New(kberrors.KindForbidden, "admin token missing scope: "+want))
			c.Abort()
			return
		}
		c.Set("admin_claims", claims)
	}
}
