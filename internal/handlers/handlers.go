package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/example/breastcare/internal/auth"
	"github.com/example/breastcare/internal/normalizer"
	"github.com/example/breastcare/internal/repository"
	"github.com/example/breastcare/internal/usecase"
)

// MaxUploadSize is the fallback multipart upload cap when no limit is
// configured; orchestrator validation is the authoritative check with the
// user-facing message.
const MaxUploadSize = 10 << 20

// ReportExporter renders and saves a finalized record as a document.
type ReportExporter interface {
	Export(record *repository.AnalysisRecord) (string, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. maxUploadBytes is
// the configured selection size cap; non-positive falls back to MaxUploadSize.
func RegisterRoutes(router *gin.Engine, sessions *SessionManager, service *usecase.AnalysisService, exporter ReportExporter, authMiddleware gin.HandlerFunc, maxUploadBytes int64) {
	if maxUploadBytes <= 0 {
		maxUploadBytes = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/upload/select", func(c *gin.Context) {
		orch := sessions.Get(sessionKey(c))

		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUploadBytes {
			tooLarge := &usecase.TooLargeError{Size: file.Size, Max: maxUploadBytes}
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLarge.Error()})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		selection := normalizer.SelectedImage{
			Name:     file.Filename,
			Data:     data,
			Size:     file.Size,
			MIMEType: file.Header.Get("Content-Type"),
		}
		if err := orch.SelectImage(selection); err != nil {
			var tooLarge *usecase.TooLargeError
			var notImage *usecase.NotAnImageError
			switch {
			case errors.As(err, &tooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			case errors.As(err, &notImage):
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"file_name":    file.Filename,
			"size":         file.Size,
			"size_display": usecase.FormatFileSize(file.Size),
			"patient_id":   orch.PatientID(),
		})
	})

	authed.POST("/upload/submit", func(c *gin.Context) {
		orch := sessions.Get(sessionKey(c))
		userID, _ := auth.GetUserID(c.Request.Context())

		outcome, err := orch.Submit(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, usecase.ErrNoImageSelected) {
				c.JSON(http.StatusBadRequest, gin.H{"error": orch.Snapshot().ErrorMessage})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		switch outcome.Kind {
		case usecase.OutcomeSuperseded:
			c.JSON(http.StatusConflict, gin.H{"status": "superseded"})
		case usecase.OutcomeFailed:
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    outcome.Message,
				"snapshot": orch.Snapshot(),
			})
		default:
			c.JSON(http.StatusOK, orch.Snapshot())
		}
	})

	authed.GET("/upload/state", func(c *gin.Context) {
		orch := sessions.Get(sessionKey(c))
		c.JSON(http.StatusOK, orch.Snapshot())
	})

	authed.POST("/upload/reset", func(c *gin.Context) {
		orch := sessions.Get(sessionKey(c))
		orch.Reset()
		c.JSON(http.StatusOK, gin.H{
			"status":     "reset",
			"patient_id": orch.PatientID(),
		})
	})

	authed.POST("/upload/report", func(c *gin.Context) {
		orch := sessions.Get(sessionKey(c))
		userID, _ := auth.GetUserID(c.Request.Context())

		record, err := orch.CurrentRecord(userID)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no completed analysis to export"})
			return
		}

		path, err := exporter.Export(record)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": filepath.Base(path)})
	})

	authed.GET("/history", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		records, err := service.ListHistory(c.Request.Context(), userID, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"analyses": records})
	})

	authed.GET("/history/:id", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		record, err := service.GetAnalysis(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	authed.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := service.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// sessionKey scopes upload state to the authenticated user, or to the client
// address for anonymous sessions.
func sessionKey(c *gin.Context) string {
	if userID, ok := auth.GetUserID(c.Request.Context()); ok {
		return "user:" + userID
	}
	return "anon:" + c.ClientIP()
}
