package api

import (
	"net/http"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const kindInternal = "internal"

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:     http.StatusBadRequest,
	domain.KindAuthorization:  http.StatusForbidden,
	domain.KindNotFound:       http.StatusNotFound,
	domain.KindConflict:       http.StatusConflict,
	domain.KindPrecondition:   http.StatusBadRequest,
	domain.KindGateway:        http.StatusBadGateway,
	domain.KindReconciliation: http.StatusBadRequest,
}

// writeError renders typed errors with their public message. Anything else is
// logged and reported as an opaque 500.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": kindInternal})
		return
	}
	if kind == domain.KindGateway {
		log.WithError(err).WithField("path", c.FullPath()).Warn("payment gateway error")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": domain.PublicMessage(err), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": domain.KindValidation})
}
