package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoute wires r's scrape handler onto route, returning the
// Prometheus text-format body on GET and 405 on any other method (gin's
// own routing would otherwise 404 on unregistered methods, not 405, so the
// method check happens inside a catch-all handler).
func (r *Registry) RegisterRoute(router gin.IRouter, route string) {
	handler := promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{EnableOpenMetrics: false})

	router.Any(route, func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	})
}
