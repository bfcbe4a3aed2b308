package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/middleware"
	"github.com/cytokine/backend/internal/models"
)

// respondError writes err with the status its kind maps to. Unclassified
// errors are logged and hidden behind a generic message.
func respondError(c *gin.Context, log *logrus.Entry, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bind decodes and validates the JSON body into v, answering 400 on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// requestClient returns the authenticated client, answering 401 when absent.
func requestClient(c *gin.Context) (*models.Client, bool) {
	client := middleware.ClientFrom(c)
	if client == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return client, true
}

func queryAll(c *gin.Context) bool {
	return c.Query("all") == "true"
}
