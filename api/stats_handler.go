package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/genqueue/engine"
	"github.com/xraph/genqueue/stream"
	"github.com/xraph/genqueue/worker"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DetailedHealthResponse is returned by GET /health/detailed.
type DetailedHealthResponse struct {
	Status  string             `json:"status"`
	Store   string             `json:"store"`
	Uptime  string             `json:"uptime"`
	Workers worker.Stats       `json:"workers"`
	Queue   *engine.QueueStats `json:"queue,omitempty"`
	Stream  stream.BrokerStats `json:"stream"`
}

// ServiceInfoResponse is returned by GET /.
type ServiceInfoResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

func (a *API) queueStats(c *gin.Context) {
	stats, err := a.eng.QueueStats(c.Request.Context())
	if err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) workerStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.eng.WorkerStats())
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// healthDetailed always answers 200; a failing store shows up as
// status "degraded".
func (a *API) healthDetailed(c *gin.Context) {
	resp := DetailedHealthResponse{
		Status:  "ok",
		Store:   "ok",
		Uptime:  time.Since(a.started).Round(time.Second).String(),
		Workers: a.eng.WorkerStats(),
		Stream:  a.eng.Broker().Stats(),
	}
	if err := a.eng.Ping(c.Request.Context()); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
	}
	if qs, err := a.eng.QueueStats(c.Request.Context()); err == nil {
		resp.Queue = &qs
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, ServiceInfoResponse{Service: ServiceName, Version: a.version})
}
