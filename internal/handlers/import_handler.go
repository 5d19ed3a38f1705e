package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/jobs"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// ImportService is the job controller as seen by HTTP.
type ImportService interface {
	Submit(ctx context.Context, upload jobs.Upload) models.ImportSubmitResponse
	Status(ctx context.Context, jobID string) (models.ImportJob, error)
	Active() models.ActiveImportResponse
	Cancel(jobID string) error
}

type ImportHandler struct {
	service        ImportService
	uploadDir      string
	maxUploadBytes int64
	logger         *logrus.Entry
}

func NewImportHandler(service ImportService, uploadDir string, maxUploadBytes int64, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		service:        service,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.WithField("component", "import-handler"),
	}
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
		},
	})
}

// ImportProducts accepts a catalog file and starts a background import
// @Summary Start product import
// @Description Upload a CSV or XLSX catalog. Returns the id of the started job, or of the job already running.
// @Tags Import
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Success 200 {object} models.ImportSubmitResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 413 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /products/import [post]
func (h *ImportHandler) ImportProducts(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorResponse(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("The file exceeds the %d MB upload limit", h.maxUploadBytes>>20))
			return
		}
		errorResponse(c, http.StatusBadRequest, "FILE_REQUIRED", "Please upload a CSV or Excel file")
		return
	}
	defer file.Close()

	format, err := importer.FormatFromFilename(header.Filename)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_FORMAT", "Only CSV and XLSX files are supported")
		return
	}

	// The worker outlives the request, so it gets its own copy of the upload.
	path, err := h.spool(file, filepath.Ext(header.Filename))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorResponse(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("The file exceeds the %d MB upload limit", h.maxUploadBytes>>20))
			return
		}
		h.logger.WithError(err).Error("Failed to store upload")
		errorResponse(c, http.StatusInternalServerError, "UPLOAD_FAILED", "Failed to store the uploaded file")
		return
	}

	resp := h.service.Submit(c.Request.Context(), jobs.Upload{
		Filename:    header.Filename,
		Format:      format,
		RequestedBy: middleware.GetUserID(c),
		Open: func() (io.ReadSeekCloser, error) {
			return os.Open(path)
		},
		Cleanup: func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				h.logger.WithError(err).WithField("path", path).Warn("Failed to remove spooled upload")
			}
		},
	})

	c.JSON(http.StatusOK, resp)
}

func (h *ImportHandler) spool(src io.Reader, ext string) (string, error) {
	tmp, err := os.CreateTemp(h.uploadDir, "catalog-import-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// GetImportStatus returns the snapshot of one import job
// @Summary Get import status
// @Tags Import
// @Produce json
// @Param jobId query string true "Import job id"
// @Success 200 {object} models.ImportJob
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /products/import/status [get]
func (h *ImportHandler) GetImportStatus(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		errorResponse(c, http.StatusBadRequest, "JOB_ID_REQUIRED", "Query parameter 'jobId' is required")
		return
	}

	job, err := h.service.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			errorResponse(c, http.StatusNotFound, "JOB_NOT_FOUND", "Import job not found")
			return
		}
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to load import status")
		errorResponse(c, http.StatusInternalServerError, "STATUS_UNAVAILABLE", "Failed to load import status")
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetActiveImport reports the running import, if any
// @Summary Get active import
// @Tags Import
// @Produce json
// @Success 200 {object} models.ActiveImportResponse
// @Router /products/import/active [get]
func (h *ImportHandler) GetActiveImport(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Active())
}

// CancelImport asks the running import to stop before its next row
// @Summary Cancel import
// @Tags Import
// @Accept json
// @Produce json
// @Param request body models.CancelImportRequest true "Job to cancel"
// @Success 200 {object} models.MessageResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /products/import/cancel [post]
func (h *ImportHandler) CancelImport(c *gin.Context) {
	var req models.CancelImportRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		errorResponse(c, http.StatusBadRequest, "JOB_ID_REQUIRED", "Field 'jobId' is required")
		return
	}

	switch err := h.service.Cancel(req.JobID); {
	case err == nil:
		c.JSON(http.StatusOK, models.MessageResponse{
			Success: true,
			Message: "Cancellation requested",
		})
	case errors.Is(err, jobs.ErrJobNotFound):
		errorResponse(c, http.StatusNotFound, "JOB_NOT_FOUND", "Import job not found")
	case errors.Is(err, jobs.ErrJobNotCancellable):
		errorResponse(c, http.StatusConflict, "JOB_NOT_CANCELLABLE", "Only pending or processing imports can be cancelled")
	default:
		errorResponse(c, http.StatusInternalServerError, "CANCEL_FAILED", err.Error())
	}
}

// GetImportTemplate returns the import template definition or file
// @Summary Get import template
// @Tags Import
// @Produce json
// @Param format query string false "json, csv or xlsx" default(json)
// @Success 200 {object} models.ImportTemplate
// @Router /products/import/template [get]
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	format := c.DefaultQuery("format", "json")

	template := models.ProductImportTemplate()

	switch format {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}

// generateCSVTemplate writes the semicolon separated header row
func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.csv")

	writer := csv.NewWriter(c.Writer)
	writer.Comma = ';'
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Label
	}
	if err := writer.Write(headers); err != nil {
		h.logger.WithError(err).Warn("Failed to write CSV template")
	}
}

// generateXLSXTemplate generates and downloads an Excel template
func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Prodotti"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Label
		style := headerStyle
		if col.Required {
			headerText = col.Label + " *"
			style = requiredStyle
		}
		f.SetCellValue(sheetName, cell, headerText)
		f.SetCellStyle(sheetName, cell, cell, style)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	f.NewSheet("Instructions")
	f.SetCellValue("Instructions", "A1", "Product Import Instructions")
	f.SetCellValue("Instructions", "A3", "Only the first sheet is imported. Columns marked * are required.")
	f.SetCellValue("Instructions", "A4", "Rows are matched to existing products by CODICE PRODOTTO: existing products are updated, new ones are created.")
	f.SetCellValue("Instructions", "A5", "CATEGORIA accepts a category id or a name; unknown names are created automatically.")
	f.SetCellValue("Instructions", "A6", "Rows with missing required values are reported and skipped; the rest of the file is still imported.")

	f.SetCellValue("Instructions", "A8", "Column")
	f.SetCellValue("Instructions", "B8", "Description")
	f.SetCellValue("Instructions", "C8", "Required")
	f.SetCellValue("Instructions", "D8", "Type")
	f.SetCellValue("Instructions", "E8", "Example")

	for i, col := range template.Columns {
		row := i + 9
		f.SetCellValue("Instructions", fmt.Sprintf("A%d", row), col.Label)
		f.SetCellValue("Instructions", fmt.Sprintf("B%d", row), col.Description)
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue("Instructions", fmt.Sprintf("C%d", row), required)
		f.SetCellValue("Instructions", fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue("Instructions", fmt.Sprintf("E%d", row), col.Example)
	}

	f.SetColWidth("Instructions", "A", "A", 25)
	f.SetColWidth("Instructions", "B", "B", 60)
	f.SetColWidth("Instructions", "C", "D", 15)
	f.SetColWidth("Instructions", "E", "E", 40)

	sheetIdx, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(sheetIdx)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=products_import_template.xlsx")

	if err := f.Write(c.Writer); err != nil {
		h.logger.WithError(err).Warn("Failed to write XLSX template")
	}
}
