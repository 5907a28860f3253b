package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/terraskye/cqrs"
)

const metadataKey = "cqrs.metadata"

var now = time.Now

// metadataMiddleware records when and how a request arrived. The metadata
// is attached to every event the request commits.
func metadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		md := cqrs.Metadata{
			"time": now().UTC().Format(time.RFC3339),
			"uri":  c.Request.URL.RequestURI(),
		}
		if ua := c.GetHeader("User-Agent"); ua != "" {
			md["User-Agent"] = ua
		}
		c.Set(metadataKey, md)
		c.Next()
	}
}

// Metadata returns the request metadata built by the router.
func Metadata(c *gin.Context) cqrs.Metadata {
	if md, ok := c.Get(metadataKey); ok {
		if m, ok := md.(cqrs.Metadata); ok {
			return m
		}
	}
	return cqrs.Metadata{}
}

func loggingMiddleware(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			l.Error("request failed")
			return
		}
		l.Debug("request served")
	}
}
