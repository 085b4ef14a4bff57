package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"
	"wisefido-inactivity/internal/service"
)

// ============================================
// 接口替身
// ============================================

type fakeDeviceAPI struct {
	device *models.Device
	err    error
}

func (f *fakeDeviceAPI) Register(ctx context.Context, req service.RegisterDeviceRequest) (*models.Device, error) {
	return f.device, f.err
}
func (f *fakeDeviceAPI) Lookup(ctx context.Context, serial string) (*models.Device, error) {
	return f.device, f.err
}
func (f *fakeDeviceAPI) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	return f.device, f.err
}
func (f *fakeDeviceAPI) ListByPatient(ctx context.Context, patientID string) ([]models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Device{*f.device}, nil
}
func (f *fakeDeviceAPI) Deactivate(ctx context.Context, deviceID string) error { return f.err }
func (f *fakeDeviceAPI) UpdateThresholds(ctx context.Context, deviceID string, sensitivitySec, escalationMin int) error {
	return f.err
}

type fakeIngestAPI struct {
	result *models.IngestResult
	err    error

	lastRequest *models.IngestRequest
}

func (f *fakeIngestAPI) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	f.lastRequest = req
	return f.result, f.err
}

type fakeResponseAPI struct {
	result *service.ResponseResult
	err    error
}

func (f *fakeResponseAPI) RecordResponse(ctx context.Context, patientID, responseText string) (*service.ResponseResult, error) {
	return f.result, f.err
}
func (f *fakeResponseAPI) DismissSession(ctx context.Context, sessionID, dismissedBy string, admin bool) (*service.ResponseResult, error) {
	return f.result, f.err
}

type fakeAlertAPI struct {
	alerts []models.Alert
	err    error
}

func (f *fakeAlertAPI) Acknowledge(ctx context.Context, alertID, userID string) error { return f.err }
func (f *fakeAlertAPI) ListActiveByPatient(ctx context.Context, patientID string) ([]models.Alert, error) {
	return f.alerts, f.err
}

type fakeSessionQuery struct {
	session  *models.InactivitySession
	open     []repository.OpenSessionInfo
	sessions []models.InactivitySession
	err      error
}

func (f *fakeSessionQuery) GetSession(ctx context.Context, sessionID string) (*models.InactivitySession, error) {
	return f.session, f.err
}
func (f *fakeSessionQuery) ListOpenSessions(ctx context.Context) ([]repository.OpenSessionInfo, error) {
	return f.open, f.err
}
func (f *fakeSessionQuery) ListSessionsByDevice(ctx context.Context, deviceID string, limit int) ([]models.InactivitySession, error) {
	return f.sessions, f.err
}

type testRouterOptions struct {
	devices   *fakeDeviceAPI
	ingest    *fakeIngestAPI
	responses *fakeResponseAPI
	alerts    *fakeAlertAPI
	sessions  *fakeSessionQuery
}

func newTestRouter(opts testRouterOptions) *Router {
	if opts.devices == nil {
		opts.devices = &fakeDeviceAPI{device: &models.Device{DeviceID: "dev-1"}}
	}
	if opts.ingest == nil {
		opts.ingest = &fakeIngestAPI{result: &models.IngestResult{Action: models.ActionMonitoringStarted}}
	}
	if opts.responses == nil {
		opts.responses = &fakeResponseAPI{result: &service.ResponseResult{SessionID: "sess-1"}}
	}
	if opts.alerts == nil {
		opts.alerts = &fakeAlertAPI{}
	}
	if opts.sessions == nil {
		opts.sessions = &fakeSessionQuery{}
	}

	logger := zap.NewNop()
	handler := NewHandler(opts.devices, opts.ingest, opts.responses, opts.alerts, opts.sessions, logger)
	return NewRouter(handler, logger)
}

func doRequest(t *testing.T, router *Router, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	var result Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

// ============================================
// 事件与回应
// ============================================

func TestHandleEvents_Success(t *testing.T) {
	ingest := &fakeIngestAPI{result: &models.IngestResult{
		Action:    models.ActionMonitoringStarted,
		SessionID: "sess-1",
		EventID:   "event-1",
	}}
	router := newTestRouter(testRouterOptions{ingest: ingest})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/events", map[string]string{
		"serial":          "SN-001",
		"detection_state": models.DetectionNotDetected,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, ResultSuccess, envelope.Code)

	require.NotNil(t, ingest.lastRequest)
	assert.Equal(t, "SN-001", ingest.lastRequest.Serial)

	var result models.IngestResult
	require.NoError(t, json.Unmarshal(envelope.Result, &result))
	assert.Equal(t, models.ActionMonitoringStarted, result.Action)
}

func TestHandleEvents_ValidationErrorMapsTo400(t *testing.T) {
	ingest := &fakeIngestAPI{err: apperrors.NewValidationError("serial is required", nil)}
	router := newTestRouter(testRouterOptions{ingest: ingest})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/events", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, ResultError, envelope.Code)
	assert.Contains(t, envelope.Message, "serial is required")
}

func TestHandleEvents_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/events", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleResponses_Success(t *testing.T) {
	responses := &fakeResponseAPI{result: &service.ResponseResult{SessionID: "sess-1", AlertsResolved: 1}}
	router := newTestRouter(testRouterOptions{responses: responses})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/responses", map[string]string{
		"patient_id":    "patient-1",
		"response_text": "I'm fine",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, ResultSuccess, envelope.Code)
}

func TestHandleResponses_NoActiveCheckInMapsTo404(t *testing.T) {
	responses := &fakeResponseAPI{err: apperrors.NewNotFoundError("no active check-in for patient: patient-1", nil)}
	router := newTestRouter(testRouterOptions{responses: responses})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/responses", map[string]string{
		"patient_id": "patient-1",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// 设备
// ============================================

func TestHandleDevices_RegisterReturns201(t *testing.T) {
	devices := &fakeDeviceAPI{device: &models.Device{DeviceID: "dev-1", SerialNumber: "SN-001"}}
	router := newTestRouter(testRouterOptions{devices: devices})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/devices", map[string]any{
		"patient_id":          "patient-1",
		"serial_number":       "SN-001",
		"device_name":         "Bedroom Sensor",
		"sensitivity_seconds": 30,
		"escalation_minutes":  5,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleDevices_DuplicateSerialMapsTo409(t *testing.T) {
	devices := &fakeDeviceAPI{err: apperrors.NewConflictError("device serial already registered: SN-001", nil)}
	router := newTestRouter(testRouterOptions{devices: devices})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/devices", map[string]any{
		"serial_number": "SN-001",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDevices_ListRequiresPatientID(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/devices", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeviceSubtree_LookupBySerial(t *testing.T) {
	devices := &fakeDeviceAPI{device: &models.Device{DeviceID: "dev-1", SerialNumber: "SN-001"}}
	router := newTestRouter(testRouterOptions{devices: devices})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/devices/serial/SN-001", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	var device models.Device
	require.NoError(t, json.Unmarshal(envelope.Result, &device))
	assert.Equal(t, "SN-001", device.SerialNumber)
}

func TestHandleDeviceSubtree_Deactivate(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/devices/dev-1/deactivate", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDeviceSubtree_UpdateThresholdsValidationError(t *testing.T) {
	devices := &fakeDeviceAPI{err: apperrors.NewValidationError("sensitivity_seconds must be between 10 and 300, got 500", nil)}
	router := newTestRouter(testRouterOptions{devices: devices})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/devices/dev-1/thresholds", map[string]int{
		"sensitivity_seconds": 500,
		"escalation_minutes":  5,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeviceSubtree_UnknownPath(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/devices/dev-1/unknown/extra", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// 会话与报警
// ============================================

func TestHandleSessions_ListOpen(t *testing.T) {
	sessions := &fakeSessionQuery{open: []repository.OpenSessionInfo{
		{Session: models.InactivitySession{SessionID: "sess-1"}, DeviceSerial: "SN-001"},
	}}
	router := newTestRouter(testRouterOptions{sessions: sessions})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/sessions", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSessionSubtree_Dismiss(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/sessions/sess-1/dismiss", map[string]any{
		"dismissed_by": "cg-1",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAlerts_ListByPatient(t *testing.T) {
	alerts := &fakeAlertAPI{alerts: []models.Alert{{AlertID: "alert-1", Status: models.AlertStatusActive}}}
	router := newTestRouter(testRouterOptions{alerts: alerts})

	rec := doRequest(t, router, http.MethodGet, "/inactivity/api/v1/alerts?patient_id=patient-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	var got []models.Alert
	require.NoError(t, json.Unmarshal(envelope.Result, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alert-1", got[0].AlertID)
}

func TestHandleAlertSubtree_AcknowledgeRequiresUserID(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/alerts/alert-1/acknowledge", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAlertSubtree_AcknowledgeNotFound(t *testing.T) {
	alerts := &fakeAlertAPI{err: apperrors.NewNotFoundError("no active alert to acknowledge: alert-1", nil)}
	router := newTestRouter(testRouterOptions{alerts: alerts})

	rec := doRequest(t, router, http.MethodPost, "/inactivity/api/v1/alerts/alert-1/acknowledge", map[string]string{
		"user_id": "cg-1",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(testRouterOptions{})

	rec := doRequest(t, router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
