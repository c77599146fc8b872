package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/fusion"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/rules"
)

// multipartMemory is the part of an upload kept in memory before spilling
// to temporary files.
const multipartMemory = 32 << 20

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	ClientID    string          `json:"client_id"`
	Transaction features.Record `json:"transaction"`
}

// RulesRequest is the body of POST /ers. Score defaults to 0.5.
type RulesRequest struct {
	Transaction features.Record `json:"transaction"`
	Score       *float64        `json:"score,omitempty"`
}

// DetectRequest is the body of POST /server/detect.
type DetectRequest struct {
	Transaction features.Record `json:"transaction"`
}

// SettingsResponse acknowledges a settings change.
type SettingsResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Settings cfg.FusionSettings `json:"settings"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string  `json:"status"`
	ErrorRate float64 `json:"errorRate"`
	Timestamp string  `json:"timestamp"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	tenant := r.FormValue("client_id")
	ds, err := readUpload(r)
	if tenant == "" || errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, fmt.Errorf("%w: missing client_id or file", common.ErrValidation))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tenant, err = ml.ValidateTenantID(tenant); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.Trainer.Train(r.Context(), tenant, ds, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	tenant, err := ml.ValidateTenantID(r.URL.Query().Get("client_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.svc.Models.GetMetrics(tenant)
	if err == nil {
		writeJSON(w, http.StatusOK, record)
		return
	}
	if !errors.Is(err, common.ErrNoMetrics) {
		s.writeError(w, r, err)
		return
	}

	exists, err := s.svc.Models.Exists(r.Context(), tenant)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", common.ErrModelLoad, err))
		return
	}
	if exists {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Model exists but metrics not available"})
		return
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "No metrics available for this client"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ClientID == "" || len(req.Transaction) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: missing client_id or transaction data", common.ErrValidation))
		return
	}
	tenant, err := ml.ValidateTenantID(req.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	pred, err := s.svc.Predictor.Predict(ctx, tenant, req.Transaction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleERS(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Transaction) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: missing transaction data", common.ErrValidation))
		return
	}

	score := rules.DefaultScore
	if req.Score != nil {
		score = *req.Score
	}
	res, err := s.svc.Rules.Evaluate(req.Transaction, score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	ds, err := readUpload(r)
	if errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, fmt.Errorf("%w: no file provided", common.ErrValidation))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataset.Analyze(ds, s.opts.LabelColumn))
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Transaction) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: missing transaction data", common.ErrValidation))
		return
	}

	det, err := s.svc.Detector.Detect(r.Context(), req.Transaction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func (s *Server) handleDetectBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	ds, err := readUpload(r)
	if errors.Is(err, http.ErrMissingFile) {
		s.writeError(w, r, fmt.Errorf("%w: no file uploaded", common.ErrValidation))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results, err := s.svc.Detector.DetectBatch(r.Context(), ds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Detector.Settings())
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var update fusion.SettingsUpdate
	if err := s.decodeJSON(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}

	settings, err := s.svc.Detector.UpdateSettings(update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		Success:  true,
		Message:  "Settings saved successfully",
		Settings: settings,
	})
}

func (s *Server) handleClientsStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Detector.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.svc.Metrics != nil {
		resp.ErrorRate = s.svc.Metrics.ErrorRate()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", common.ErrValidation, err)
	}
	return nil
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return fmt.Errorf("%w: invalid multipart upload: %v", common.ErrValidation, err)
	}
	return nil
}

// readUpload parses the "file" part of a parsed multipart form. A missing
// part yields http.ErrMissingFile.
func readUpload(r *http.Request) (*dataset.Dataset, error) {
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, http.ErrMissingFile
	}
	defer file.Close()

	return dataset.Parse(file)
}
