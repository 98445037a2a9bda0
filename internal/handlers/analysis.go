package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/malascope/malascope-backend/internal/detector"
	"github.com/malascope/malascope-backend/internal/pipeline"
	"github.com/malascope/malascope-backend/internal/repos"
)

// AnalysisHandler exposes the analysis pipeline: stage triggers enqueue
// background jobs and return 202, reads report whatever the pipeline has
// persisted so far.
type AnalysisHandler struct {
	orch            *pipeline.Orchestrator
	detections      *detector.Service
	classifications repos.PatchClassificationRepo
}

func NewAnalysisHandler(
	orch *pipeline.Orchestrator,
	detections *detector.Service,
	classifications repos.PatchClassificationRepo,
) *AnalysisHandler {
	return &AnalysisHandler{
		orch:            orch,
		detections:      detections,
		classifications: classifications,
	}
}

// POST /api/analysis/process-image/:imageId
func (h *AnalysisHandler) ProcessImage(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	job, err := h.orch.ProcessImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondAccepted(c, gin.H{
		"success": true,
		"message": "patch extraction queued",
		"data":    gin.H{"job": job},
	})
}

// GET /api/analysis/patches/:imageId
func (h *AnalysisHandler) GetPatches(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	patches, err := h.orch.PatchesForImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"patches": patches, "count": len(patches)})
}

// POST /api/analysis/screening/:imageId
func (h *AnalysisHandler) ScreenImage(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	job, err := h.orch.ScreenImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondAccepted(c, gin.H{
		"success": true,
		"message": "screening queued",
		"data":    gin.H{"job": job},
	})
}

// GET /api/analysis/screening/:imageId
func (h *AnalysisHandler) GetScreening(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	analysis, err := h.orch.InitialAnalysisForImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	classifications, err := h.classifications.GetByAnalysisID(c.Request.Context(), nil, analysis.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"analysis": analysis, "classifications": classifications})
}

// POST /api/analysis/detailed/:imageId/:initialAnalysisId
func (h *AnalysisHandler) SendForDetailedAnalysis(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	initialID, err := uuid.Parse(c.Param("initialAnalysisId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_initial_analysis_id", err)
		return
	}
	job, err := h.orch.SendForDetailedAnalysis(c.Request.Context(), imageID, initialID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondAccepted(c, gin.H{
		"success": true,
		"message": "detailed analysis queued",
		"data":    gin.H{"job": job},
	})
}

// GET /api/analysis/detailed/:imageId
func (h *AnalysisHandler) GetDetailedAnalysis(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	outcome, err := h.detections.GetByImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"analysis": outcome.Analysis, "detections": outcome.Detections})
}

type verifyRequest struct {
	VerifiedBy uuid.UUID `json:"verified_by" binding:"required"`
	Notes      string    `json:"notes"`
}

// PUT /api/analysis/verify/:id
func (h *AnalysisHandler) VerifyAnalysis(c *gin.Context) {
	analysisID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_analysis_id", err)
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	analysis, err := h.detections.Verify(c.Request.Context(), analysisID, req.VerifiedBy, req.Notes)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"analysis": analysis})
}

// GET /api/analysis/jobs/:imageId
func (h *AnalysisHandler) GetJobs(c *gin.Context) {
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_image_id", err)
		return
	}
	jobs, err := h.orch.JobsForImage(c.Request.Context(), imageID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs, "count": len(jobs)})
}
