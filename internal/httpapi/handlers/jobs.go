package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-creator/internal/ai"
	"github.com/suPer8Hu/ai-creator/internal/common"
	"github.com/suPer8Hu/ai-creator/internal/credits"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
)

type submitJobReq struct {
	Kind        string         `json:"kind" binding:"required"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	OwnerID     string         `json:"owner_id" binding:"required"`
	Destination string         `json:"destination"`
	Deliver     *bool          `json:"deliver"`
	Params      map[string]any `json:"params"`
}

// SubmitJob is the generic submission endpoint.
func (h *Handler) SubmitJob(c *gin.Context) {
	var req submitJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	deliver := true
	if req.Deliver != nil {
		deliver = *req.Deliver
	}
	h.submit(c, jobs.SubmitRequest{
		Kind:        jobs.ParseKind(req.Kind),
		Provider:    req.Provider,
		Model:       req.Model,
		Payload:     req.Params,
		OwnerID:     req.OwnerID,
		Destination: req.Destination,
		Deliver:     deliver,
	})
}

// reserved keys are routing data, never forwarded to the provider
var reservedKeys = []string{"tg_id", "user_id", "chat_id", "model", "provider", "deliver_to_tg", "deliver"}

// SubmitKind serves the per-kind Mini App routes. The body is a flat object:
// routing keys plus provider parameters.
func (h *Handler) SubmitKind(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}

		req := jobs.SubmitRequest{
			Kind:        kind,
			OwnerID:     stringField(body, "user_id", "tg_id"),
			Destination: stringField(body, "chat_id"),
			Model:       stringField(body, "model"),
			Provider:    stringField(body, "provider"),
			Deliver:     boolField(body, true, "deliver_to_tg", "deliver"),
		}
		params := make(map[string]any, len(body))
		for k, v := range body {
			params[k] = v
		}
		for _, k := range reservedKeys {
			delete(params, k)
		}
		if kind == jobs.KindChat {
			if _, ok := params["prompt"]; !ok {
				if text := stringField(params, "text", "message"); text != "" {
					params["prompt"] = text
				}
			}
			delete(params, "text")
			delete(params, "message")
		}
		req.Payload = params
		h.submit(c, req)
	}
}

func (h *Handler) submit(c *gin.Context, req jobs.SubmitRequest) {
	res, err := h.Jobs.Submit(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, credits.ErrInsufficientCredit):
		common.Fail(c, http.StatusPaymentRequired, 40201, "no_credits")
		return
	case errors.Is(err, jobs.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to submit job")
		return
	}

	data := gin.H{
		"job_id": res.JobID,
		"status": res.Status,
	}
	if res.ArtifactURL != "" {
		data["artifact_url"] = res.ArtifactURL
		if text, ok := ai.ParseTextArtifact(res.ArtifactURL); ok {
			data["answer"] = text
		}
	}
	if res.ErrorCode != "" {
		data["error_code"] = res.ErrorCode
		data["error_text"] = res.ErrorText
	}
	common.OK(c, data)
}

// GetJob returns the current state of a job.
func (h *Handler) GetJob(c *gin.Context) {
	h.getJob(c, "")
}

// GetKindResult is GetJob restricted to one kind.
func (h *Handler) GetKindResult(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) { h.getJob(c, kind) }
}

func (h *Handler) getJob(c *gin.Context, kind jobs.Kind) {
	job, err := h.Jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to load job")
		return
	}
	if kind != "" && job.Kind != kind {
		common.Fail(c, http.StatusNotFound, 40401, "job not found")
		return
	}
	common.OK(c, jobView(job))
}

// ListUserJobs returns the newest jobs of one owner.
func (h *Handler) ListUserJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Jobs.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to list jobs")
		return
	}
	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, jobView(&list[i]))
	}
	common.OK(c, gin.H{"jobs": out})
}

func jobView(j *jobs.Job) gin.H {
	v := gin.H{
		"job_id":     j.ID,
		"kind":       j.Kind,
		"owner_id":   j.OwnerID,
		"provider":   j.Provider,
		"model":      j.Model,
		"status":     j.Status,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.ExternalID != nil {
		v["external_id"] = *j.ExternalID
	}
	if j.ArtifactURL != nil {
		v["artifact_url"] = *j.ArtifactURL
		if text, ok := ai.ParseTextArtifact(*j.ArtifactURL); ok {
			v["answer"] = text
		}
	}
	if j.ErrorCode != nil {
		v["error_code"] = *j.ErrorCode
	}
	if j.ErrorText != nil {
		v["error_text"] = *j.ErrorText
	}
	return v
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func boolField(m map[string]any, fallback bool, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return fallback
}
