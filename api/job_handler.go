package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
)

// JobPayload is the generation request carried by a job. Workflow is kept
// as the raw client bytes so node inputs such as 64-bit seeds reach the
// engine unchanged.
type JobPayload struct {
	Prompt         string          `json:"prompt" binding:"required"`
	Workflow       json.RawMessage `json:"workflow" binding:"required"`
	ReferenceImage string          `json:"referenceImage,omitempty"`
}

// SubmitJobRequest is the body of POST /jobs.
type SubmitJobRequest struct {
	Payload  *JobPayload `json:"payload" binding:"required"`
	Priority *int        `json:"priority" binding:"omitempty,min=0,max=9"`
}

// SubmitJobResponse is returned with 202 Accepted.
type SubmitJobResponse struct {
	JobID string `json:"jobId"`
}

// CancelJobResponse is returned by DELETE /jobs/:id.
type CancelJobResponse struct {
	OK bool `json:"ok"`
}

func (a *API) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abortWithError(c, fmt.Errorf("%w: %s", genqueue.ErrValidation, err.Error()))
		return
	}

	if !isObject(req.Payload.Workflow) {
		a.abortWithError(c, fmt.Errorf("%w: workflow must be a JSON object", genqueue.ErrValidation))
		return
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		a.abortWithError(c, fmt.Errorf("%w: %s", genqueue.ErrValidation, err.Error()))
		return
	}

	priority := a.eng.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}

	jobID, err := a.eng.Submit(c.Request.Context(), payload, owner(c), priority)
	if err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, SubmitJobResponse{JobID: jobID.String()})
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := a.jobIDParam(c)
	if !ok {
		return
	}
	view, err := a.eng.GetJob(c.Request.Context(), jobID, viewer(c))
	if err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *API) cancelJob(c *gin.Context) {
	jobID, ok := a.jobIDParam(c)
	if !ok {
		return
	}
	if err := a.eng.Cancel(c.Request.Context(), jobID, viewer(c)); err != nil {
		a.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, CancelJobResponse{OK: true})
}

// isObject reports whether raw holds a JSON object. The request decoder has
// already checked that it is well formed.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// jobIDParam parses the :id path parameter. A malformed id cannot name a
// job, so it is reported as not found.
func (a *API) jobIDParam(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		a.abortWithError(c, fmt.Errorf("%w: %s", genqueue.ErrJobNotFound, c.Param("id")))
		return id.Nil, false
	}
	return jobID, true
}
