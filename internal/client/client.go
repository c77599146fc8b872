// Package client is a Go SDK for the fraud scoring HTTP API. A Client also
// serves as a remote fusion.Backend so that decision fusion can run against
// a separately deployed scoring service.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"fraud-scoring/internal/api"
	"fraud-scoring/internal/cfg"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/fusion"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"
	"fraud-scoring/internal/training"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

const uploadName = "transactions.csv"

// Client talks to one fraud scoring service.
type Client struct {
	base   string
	rest   *resty.Client
	dialer *websocket.Dialer
}

// New creates a client for the service at base, e.g. http://localhost:5000.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Accept", "application/json")

	return &Client{
		base: base,
		rest: r,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the service. It unwraps to the matching
// error of the common taxonomy when there is one.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func newAPIError(status int, message string, notFound error) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	e := &APIError{Status: status, Message: message}
	switch {
	case status == http.StatusBadRequest:
		e.kind = common.ErrValidation
	case status == http.StatusNotFound:
		e.kind = notFound
	case status >= http.StatusInternalServerError:
		e.kind = common.ErrPrediction
	}
	return e
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) send(req *resty.Request, method, path string, notFound error) error {
	var failure errorBody
	resp, err := req.SetError(&failure).Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.IsError() {
		return newAPIError(resp.StatusCode(), failure.Error, notFound)
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx)
}

// Train uploads a labeled CSV dataset and trains the tenant's model.
func (c *Client) Train(ctx context.Context, tenant string, csv io.Reader) (*training.Result, error) {
	var res training.Result
	req := c.request(ctx).
		SetFormData(map[string]string{"client_id": tenant}).
		SetFileReader("file", uploadName, csv).
		SetResult(&res)
	if err := c.send(req, http.MethodPost, "/train-model", common.ErrNoModel); err != nil {
		return nil, err
	}
	return &res, nil
}

// Metrics returns the evaluation metrics recorded for tenant.
func (c *Client) Metrics(ctx context.Context, tenant string) (ml.MetricsRecord, error) {
	var record ml.MetricsRecord
	req := c.request(ctx).
		SetQueryParam("client_id", tenant).
		SetResult(&record)
	if err := c.send(req, http.MethodGet, "/get-metrics", common.ErrNoMetrics); err != nil {
		return ml.MetricsRecord{}, err
	}
	return record, nil
}

// Predict scores rec with the tenant's model.
func (c *Client) Predict(ctx context.Context, tenant string, rec features.Record) (*prediction.Prediction, error) {
	var pred prediction.Prediction
	req := c.request(ctx).
		SetBody(api.PredictRequest{ClientID: tenant, Transaction: rec}).
		SetResult(&pred)
	if err := c.send(req, http.MethodPost, "/predict", common.ErrNoModel); err != nil {
		return nil, err
	}
	return &pred, nil
}

// ApplyRules evaluates the expert rules for rec.
func (c *Client) ApplyRules(ctx context.Context, rec features.Record, score float64) (rules.Result, error) {
	var res rules.Result
	req := c.request(ctx).
		SetBody(api.RulesRequest{Transaction: rec, Score: &score}).
		SetResult(&res)
	if err := c.send(req, http.MethodPost, "/ers", nil); err != nil {
		return rules.Result{}, err
	}
	return res, nil
}

// Analyze returns summary statistics and chart data for a CSV dataset.
func (c *Client) Analyze(ctx context.Context, csv io.Reader) (*dataset.Analysis, error) {
	var analysis dataset.Analysis
	req := c.request(ctx).
		SetFileReader("file", uploadName, csv).
		SetResult(&analysis)
	if err := c.send(req, http.MethodPost, "/analyze", nil); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Detect runs decision fusion for one transaction on the service.
func (c *Client) Detect(ctx context.Context, rec features.Record) (*fusion.Detection, error) {
	var det fusion.Detection
	req := c.request(ctx).
		SetBody(api.DetectRequest{Transaction: rec}).
		SetResult(&det)
	if err := c.send(req, http.MethodPost, "/server/detect", nil); err != nil {
		return nil, err
	}
	return &det, nil
}

// DetectBatch runs decision fusion for the leading rows of a CSV dataset.
func (c *Client) DetectBatch(ctx context.Context, csv io.Reader) ([]fusion.Detection, error) {
	var results []fusion.Detection
	req := c.request(ctx).
		SetFileReader("file", uploadName, csv).
		SetResult(&results)
	if err := c.send(req, http.MethodPost, "/server/detect-batch", nil); err != nil {
		return nil, err
	}
	return results, nil
}

// Settings returns the service's fusion settings.
func (c *Client) Settings(ctx context.Context) (cfg.FusionSettings, error) {
	var settings cfg.FusionSettings
	req := c.request(ctx).SetResult(&settings)
	if err := c.send(req, http.MethodGet, "/server/settings", nil); err != nil {
		return cfg.FusionSettings{}, err
	}
	return settings, nil
}

// UpdateSettings changes the service's fusion settings.
func (c *Client) UpdateSettings(ctx context.Context, u fusion.SettingsUpdate) (cfg.FusionSettings, error) {
	var resp api.SettingsResponse
	req := c.request(ctx).SetBody(u).SetResult(&resp)
	if err := c.send(req, http.MethodPost, "/server/settings", nil); err != nil {
		return cfg.FusionSettings{}, err
	}
	return resp.Settings, nil
}

// Status lists the tenants known to the service.
func (c *Client) Status(ctx context.Context) ([]fusion.TenantStatus, error) {
	var status []fusion.TenantStatus
	req := c.request(ctx).SetResult(&status)
	if err := c.send(req, http.MethodGet, "/server/clients-status", nil); err != nil {
		return nil, err
	}
	return status, nil
}

// Tenants lists the tenants with a trained model on the service.
func (c *Client) Tenants(ctx context.Context) ([]string, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range status {
		if s.ModelStatus == fusion.StatusTrained {
			out = append(out, s.ClientID)
		}
	}
	return out, nil
}

// Health reports the service health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var health api.HealthResponse
	req := c.request(ctx).SetResult(&health)
	if err := c.send(req, http.MethodGet, "/health", nil); err != nil {
		return nil, err
	}
	return &health, nil
}

var _ fusion.Backend = (*Client)(nil)
