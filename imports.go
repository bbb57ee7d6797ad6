package main

import (
	"errors"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
	"bitbucket.org/mmdatafocus/benefits_backend/models"
	"bitbucket.org/mmdatafocus/benefits_backend/utils"
	"bitbucket.org/mmdatafocus/benefits_backend/workflow"
	"github.com/gin-gonic/gin"
)

type mergeRequest struct {
	BenefitProgram string   `json:"benefit_program" binding:"required"`
	AcceptedRowIds []string `json:"accepted_row_ids"`
}

type validateRequest struct {
	BenefitProgram string `json:"benefit_program" binding:"required"`
}

type decisionRequest struct {
	ReviewerId string `json:"reviewer_id" binding:"required"`
	Decision   string `json:"decision" binding:"required,oneof=APPROVED FAILED"`
}

type acceptedRequest struct {
	AcceptedRowIds []string `json:"accepted_row_ids" binding:"required"`
}

func registerImportRoutes(router *gin.Engine, service *workflow.ImportService) {
	router.POST("/imports", func(c *gin.Context) { importBeneficiaries(c, service) })
	router.POST("/imports/:uploadId/validate", func(c *gin.Context) { validateImport(c, service) })
	router.POST("/imports/:uploadId/review", func(c *gin.Context) { requestReview(c, service) })
	router.POST("/imports/:uploadId/merge", func(c *gin.Context) { mergeImport(c, service) })
	router.GET("/imports/:uploadId/invalid-rows.csv", func(c *gin.Context) { downloadInvalidRows(c, service) })
	router.POST("/tasks/:taskId/decisions", func(c *gin.Context) { recordTaskDecision(c, service) })
	router.POST("/tasks/:taskId/accepted", func(c *gin.Context) { mergeAcceptedSubset(c, service) })
	router.GET("/programs/:programId/filters", func(c *gin.Context) { listFilterCatalogue(c, service) })
	router.GET("/programs/:programId/beneficiaries", func(c *gin.Context) { queryBeneficiaries(c, service) })
}

func importBeneficiaries(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "importBeneficiaries")
	defer span.End()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "import file not provided"})
		return
	}
	programID := c.PostForm("benefit_program")
	if programID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "benefit program not provided"})
		return
	}
	workflowName := c.PostForm("workflow_name")
	if workflowName == "" {
		workflowName = config.ImportWorkflow()
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	defer f.Close()
	fileBytes, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	mediaType := fileHeader.Header.Get("Content-Type")
	result, err := service.Ingest(ctx, fileBytes, mediaType, fileHeader.Filename, programID, workflowName)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": result})
}

func validateImport(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "validateImport")
	defer span.End()

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	summary, decision, err := service.Validate(ctx, c.Param("uploadId"), req.BenefitProgram)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"summary": summary, "decision": decision}})
}

func requestReview(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "requestReview")
	defer span.End()

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	taskID, err := service.RequestReview(ctx, c.Param("uploadId"), req.BenefitProgram)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"task_id": taskID}})
}

func mergeImport(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "mergeImport")
	defer span.End()

	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	status, err := service.MergeUpload(ctx, c.Param("uploadId"), req.BenefitProgram, req.AcceptedRowIds)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": status}})
}

func downloadInvalidRows(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "downloadInvalidRows")
	defer span.End()

	content, err := service.DownloadInvalidRows(ctx, c.Param("uploadId"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="invalid_items.csv"`)
	c.Data(http.StatusOK, "text/csv", content)
}

func recordTaskDecision(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "recordTaskDecision")
	defer span.End()

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	outcome, err := service.Gate.RecordDecision(ctx, c.Param("taskId"), req.ReviewerId, req.Decision)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"outcome": outcome}})
}

func mergeAcceptedSubset(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "mergeAcceptedSubset")
	defer span.End()

	var req acceptedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := service.Gate.ResumeWithAccepted(ctx, c.Param("taskId"), req.AcceptedRowIds); err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func listFilterCatalogue(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "listFilterCatalogue")
	defer span.End()

	program, err := models.GetBenefitProgram(ctx, service.DB, c.Param("programId"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	schema, err := models.ResolveProgramSchema(program)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": models.FilterCatalogue(schema)})
}

func queryBeneficiaries(c *gin.Context, service *workflow.ImportService) {
	ctx, span := tracer.Start(c.Request.Context(), "queryBeneficiaries")
	defer span.End()

	q, err := service.ApplyAttributeFilters(ctx, c.Param("programId"), c.QueryArray("filter"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	var results []models.Beneficiary
	if err := q.Find(&results).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": results})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, utils.ErrorProgramNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorUnsupportedFormat),
		errors.Is(err, utils.ErrorEmptyImport),
		errors.Is(err, utils.ErrorInvalidHeaders),
		errors.Is(err, utils.ErrorSchemaMissing),
		errors.Is(err, utils.ErrorSchemaInvalid),
		errors.Is(err, utils.ErrorMissingValidationRule),
		errors.Is(err, utils.ErrorUnassignedTask),
		errors.Is(err, utils.ErrorUnknownPolicy),
		errors.Is(err, utils.ErrorUnsupportedFieldType),
		errors.Is(err, utils.ErrorUnsupportedValue),
		errors.Is(err, utils.ErrorFilterDateUnsupported),
		errors.Is(err, utils.ErrorInvalidFilterExpression):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
