package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/middleware"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

// respondError writes err as {"error", "kind"} with the status of its kind
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.UpstreamFailure {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{
		"error": apperr.Message(err),
		"kind":  kind,
	})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperr.Wrap(apperr.ValidationError, err, "Invalid request body"))
		return false
	}
	return true
}

// caller returns the identity set by JWTAuth; every route using it sits
// behind that middleware
func caller(c *gin.Context) middleware.Identity {
	id, _ := middleware.GetIdentity(c)
	return id
}

// canSeeRoom reports whether the caller is in the room or an admin
func canSeeRoom(id middleware.Identity, room models.CallRoom) bool {
	return id.Role == middleware.RoleAdmin || room.HasParticipant(id.UserID)
}

func requireSelf(c *gin.Context, userID string) bool {
	id := caller(c)
	if id.UserID != userID && id.Role != middleware.RoleAdmin {
		respondError(c, apperr.New(apperr.Forbidden, "Cannot act on behalf of another user"))
		return false
	}
	return true
}
