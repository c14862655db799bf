package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/storage"
	"flight-delay-demo/internal/table"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// RowRequest is a single flight given as feature/value pairs. Features not
// listed are zero-filled by alignment.
type RowRequest struct {
	Features map[string]any `json:"features" binding:"required"`
}

// DecisionRequest is one model's outcome submitted for reconciliation.
type DecisionRequest struct {
	Probability *float64 `json:"probability" binding:"required,gte=0,lte=1"`
	Prediction  *int     `json:"prediction" binding:"required,oneof=0 1"`
	Threshold   *float64 `json:"threshold" binding:"required,gt=0,lte=1"`
}

func (d DecisionRequest) decision() explain.Decision {
	return explain.Decision{Probability: *d.Probability, Prediction: *d.Prediction, Threshold: *d.Threshold}
}

// ReconcileRequest carries both model outcomes for one row.
type ReconcileRequest struct {
	Tree      DecisionRequest `json:"tree" binding:"required"`
	Linear    DecisionRequest `json:"linear" binding:"required"`
	Tolerance *float64        `json:"tolerance" binding:"omitempty,gt=0,lt=1"`
}

type explainQuery struct {
	Row    int    `form:"row" binding:"min=0"`
	Top    int    `form:"top" binding:"omitempty,min=1,max=100"`
	Format string `form:"format" binding:"omitempty,oneof=json text"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"models_loaded_at": s.predictor.Bundle().LoadedAt,
	})
}

func (s *Server) handleModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.predictor.Bundle().Info())
}

func (s *Server) handlePredict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	t, source, err := readUpload(c)
	if err != nil {
		s.rejectUpload(c, err)
		return
	}

	rec, _, ok := s.run(c, t, source)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handlePredictRow(c *gin.Context) {
	var req RowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	rec, res, ok := s.run(c, rowTable(req.Features), "row")
	if !ok {
		return
	}

	report, err := s.explainer(0).BuildReport(c.Request.Context(), s.predictor.Bundle(), res, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to explain row", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": rec, "report": report})
}

func (s *Server) handleLatestRun(c *gin.Context) {
	if s.store != nil {
		rec, err := s.store.Latest()
		if errors.Is(err, storage.ErrNoRun) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to read run snapshot")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read latest run"})
			return
		}
		c.JSON(http.StatusOK, rec)
		return
	}

	res := s.getLatest()
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}
	c.JSON(http.StatusOK, storage.RecordFromResult(res, ""))
}

func (s *Server) handleExplainLatest(c *gin.Context) {
	var q explainQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	res := s.getLatest()
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}

	report, err := s.explainer(q.Top).BuildReport(c.Request.Context(), s.predictor.Bundle(), res, q.Row)
	if errors.Is(err, explain.ErrRowOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to explain row", "details": err.Error()})
		return
	}

	if q.Format == "text" {
		c.String(http.StatusOK, report.Text())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleReconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindError(err))
		return
	}

	tolerance := s.cfg.Explain.TieTolerance
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}
	if tolerance <= 0 {
		c.JSON(http.StatusOK, explain.Reconcile(req.Tree.decision(), req.Linear.decision()))
		return
	}
	c.JSON(http.StatusOK, explain.ReconcileWithTolerance(req.Tree.decision(), req.Linear.decision(), tolerance))
}

// run scores t, publishes it as the latest run and persists it. On failure
// the response has been written and ok is false.
func (s *Server) run(c *gin.Context, t *table.Table, source string) (rec storage.RunRecord, res *inference.Result, ok bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.PredictTimeout)
	defer cancel()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.predictor.PredictBoth(ctx, t)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed", "details": err.Error()})
		return rec, nil, false
	}
	s.setLatest(res)

	rec, err = storage.SaveRun(s.cfg.ResultsPath, s.store, res, source)
	if err != nil {
		log.Error().Err(err).Str("run_id", res.ID).Msg("Failed to persist run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist results", "details": err.Error()})
		return rec, nil, false
	}
	if s.metrics != nil {
		s.metrics.RunsPersistedInc()
		s.metrics.RowsPerRunObserve(res.Len())
	}
	return rec, res, true
}

// readUpload reads a multipart "file" field, or the raw body typed by its
// Content-Type. The format is checked before anything is parsed.
func readUpload(c *gin.Context) (*table.Table, string, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		format, err := table.FormatFromPath(fh.Filename)
		if err != nil {
			return nil, fh.Filename, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fh.Filename, err
		}
		defer f.Close()

		t, err := table.Read(f, format)
		return t, fh.Filename, err
	}

	format, err := table.FormatFromContentType(c.ContentType())
	if err != nil {
		return nil, "", err
	}
	t, err := table.Read(c.Request.Body, format)
	return t, "body." + string(format), err
}

func (s *Server) rejectUpload(c *gin.Context, err error) {
	status, reason := http.StatusBadRequest, "unreadable"
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, table.ErrUnsupportedFormat):
		status, reason = http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.As(err, &tooLarge):
		status, reason = http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, http.ErrMissingFile):
		reason = "missing_file"
	case errors.Is(err, table.ErrMalformed):
		reason = "malformed"
	}

	log.Warn().Err(err).Str("reason", reason).Msg("Upload rejected")
	if s.metrics != nil {
		s.metrics.UploadsRejectedInc(reason)
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
}

// rowTable builds a one-row table with columns in name order.
func rowTable(values map[string]any) *table.Table {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	t := table.New(names...)
	row := make([]any, len(names))
	for i, n := range names {
		row[i] = values[n]
	}
	t.AppendRow(row...)
	return t
}

func bindError(err error) gin.H {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make([]string, len(ve))
		for i, fe := range ve {
			fields[i] = fmt.Sprintf("%s: failed '%s'", fe.Namespace(), fe.Tag())
		}
		return gin.H{"error": "invalid request", "fields": fields}
	}
	return gin.H{"error": "invalid request", "details": err.Error()}
}
