package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codalotl/autoapprove/internal/execrequest"
	"github.com/gin-gonic/gin"
)

// ReviewRequest is the body of POST /v1/review. Arguments is the tool call's argument payload, either as a JSON string (as LLM APIs deliver it) or
// inline as JSON.
type ReviewRequest struct {
	CallID    string          `json:"call_id"`
	Arguments json.RawMessage `json:"arguments"`
}

// OutcomeRequest is the body of POST /v1/outcome. Result is the execution result payload, as a JSON string or inline JSON.
type OutcomeRequest struct {
	Result json.RawMessage `json:"result"`
}

// HandleHealth reports liveness and whether the evaluator is fully loaded.
func (s *Server) HandleHealth(c *gin.Context) {
	ready := true
	if s.opts.Readiness != nil {
		ready = s.opts.Readiness.Ready()
	}
	Success(c, gin.H{"status": "ok", "ready": ready})
}

// HandleReview handles POST /v1/review. It responds with the review Detail, or 422 if the arguments carry no execution request.
func (s *Server) HandleReview(c *gin.Context) {
	var req ReviewRequest
	if !bindBody(c, &req) {
		return
	}
	if s.opts.Reviewer == nil {
		Error(c, http.StatusServiceUnavailable, "Reviewer not configured")
		return
	}

	detail, ok := s.opts.Reviewer.Review(req.CallID, payloadText(req.Arguments))
	if !ok {
		Error(c, http.StatusUnprocessableEntity, "Arguments do not contain a command")
		return
	}
	Success(c, detail)
}

// HandleOutcome handles POST /v1/outcome. Undecodable results still succeed, with the failure outcome.
func (s *Server) HandleOutcome(c *gin.Context) {
	var req OutcomeRequest
	if !bindBody(c, &req) {
		return
	}
	Success(c, execrequest.DecodeOutcome(payloadText(req.Result)))
}

// HandlePolicy handles GET /v1/policy.
func (s *Server) HandlePolicy(c *gin.Context) {
	if s.opts.Policy == nil {
		Error(c, http.StatusNotFound, "No policy configured")
		return
	}
	snap := s.opts.Policy.Snapshot()
	Success(c, gin.H{
		"safe":      snap.Safe,
		"blocked":   snap.Blocked,
		"dangerous": snap.Dangerous,
	})
}

// bindBody decodes the JSON body into dst, writing an error response and returning false on failure.
func bindBody(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		Error(c, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// payloadText returns the text a RawMessage stands for: the contents of a JSON string, or the raw JSON otherwise.
func payloadText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
