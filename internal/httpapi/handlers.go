package httpapi

import (
	"context"
	"net/http"
	"strings"

	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"
	"wisefido-inactivity/internal/service"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// DeviceAPI 设备注册操作（由 service.DeviceService 实现）
type DeviceAPI interface {
	Register(ctx context.Context, req service.RegisterDeviceRequest) (*models.Device, error)
	Lookup(ctx context.Context, serial string) (*models.Device, error)
	Get(ctx context.Context, deviceID string) (*models.Device, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.Device, error)
	Deactivate(ctx context.Context, deviceID string) error
	UpdateThresholds(ctx context.Context, deviceID string, sensitivitySec, escalationMin int) error
}

// IngestAPI 事件入库操作（由 service.IngestService 实现）
type IngestAPI interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error)
}

// ResponseAPI 回应记录操作（由 service.ResponseService 实现）
type ResponseAPI interface {
	RecordResponse(ctx context.Context, patientID, responseText string) (*service.ResponseResult, error)
	DismissSession(ctx context.Context, sessionID, dismissedBy string, admin bool) (*service.ResponseResult, error)
}

// AlertAPI 报警查询与确认操作（由 service.AlertService 实现）
type AlertAPI interface {
	Acknowledge(ctx context.Context, alertID, userID string) error
	ListActiveByPatient(ctx context.Context, patientID string) ([]models.Alert, error)
}

// SessionQuery 会话查询操作（由 repository.SessionsRepository 实现）
type SessionQuery interface {
	GetSession(ctx context.Context, sessionID string) (*models.InactivitySession, error)
	ListOpenSessions(ctx context.Context) ([]repository.OpenSessionInfo, error)
	ListSessionsByDevice(ctx context.Context, deviceID string, limit int) ([]models.InactivitySession, error)
}

// Handler HTTP 请求处理器
type Handler struct {
	devices   DeviceAPI
	ingest    IngestAPI
	responses ResponseAPI
	alerts    AlertAPI
	sessions  SessionQuery
	logger    *zap.Logger
}

// NewHandler 创建处理器
func NewHandler(
	devices DeviceAPI,
	ingest IngestAPI,
	responses ResponseAPI,
	alerts AlertAPI,
	sessions SessionQuery,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		devices:   devices,
		ingest:    ingest,
		responses: responses,
		alerts:    alerts,
		sessions:  sessions,
		logger:    logger,
	}
}

// ============================================
// 事件与回应
// ============================================

// HandleEvents POST /inactivity/api/v1/events
// 同步入库入口，供网关或测试直连；生产流量走 Redis Stream 消费者
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	var req models.IngestRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	result, err := h.ingest.Ingest(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

type responseRequest struct {
	PatientID    string `json:"patient_id"`
	ResponseText string `json:"response_text"`
}

// HandleResponses POST /inactivity/api/v1/responses
func (h *Handler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	var req responseRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	result, err := h.responses.RecordResponse(r.Context(), req.PatientID, req.ResponseText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// ============================================
// 设备
// ============================================

// HandleDevices POST/GET /inactivity/api/v1/devices
func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req service.RegisterDeviceRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		device, err := h.devices.Register(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, Ok(device))

	case http.MethodGet:
		patientID := r.URL.Query().Get("patient_id")
		if patientID == "" {
			writeJSON(w, http.StatusBadRequest, Fail("patient_id is required"))
			return
		}
		devices, err := h.devices.ListByPatient(r.Context(), patientID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(devices))

	default:
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
	}
}

type thresholdsRequest struct {
	SensitivitySeconds int `json:"sensitivity_seconds"`
	EscalationMinutes  int `json:"escalation_minutes"`
}

// HandleDeviceSubtree /inactivity/api/v1/devices/...
//
//	GET  /devices/{id}
//	GET  /devices/serial/{serial}
//	POST /devices/{id}/deactivate
//	POST /devices/{id}/thresholds
func (h *Handler) HandleDeviceSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/inactivity/api/v1/devices/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(segments) == 2 && segments[0] == "serial":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		device, err := h.devices.Lookup(r.Context(), segments[1])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(device))

	case len(segments) == 1 && segments[0] != "":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		device, err := h.devices.Get(r.Context(), segments[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(device))

	case len(segments) == 2 && segments[1] == "deactivate":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		if err := h.devices.Deactivate(r.Context(), segments[0]); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"device_id": segments[0], "status": "deactivated"}))

	case len(segments) == 2 && segments[1] == "thresholds":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		var req thresholdsRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		if err := h.devices.UpdateThresholds(r.Context(), segments[0], req.SensitivitySeconds, req.EscalationMinutes); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"device_id": segments[0], "status": "updated"}))

	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// ============================================
// 会话
// ============================================

// HandleSessions GET /inactivity/api/v1/sessions
// 无参数时返回所有未解决会话（看板视图），
// 带 device_id 时返回该设备的历史会话
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		sessions, err := h.sessions.ListOpenSessions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(sessions))
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 50)
	sessions, err := h.sessions.ListSessionsByDevice(r.Context(), deviceID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sessions))
}

type dismissRequest struct {
	DismissedBy string `json:"dismissed_by"`
	Admin       bool   `json:"admin"`
}

// HandleSessionSubtree /inactivity/api/v1/sessions/...
//
//	GET  /sessions/{id}
//	POST /sessions/{id}/dismiss
func (h *Handler) HandleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/inactivity/api/v1/sessions/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] != "":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		session, err := h.sessions.GetSession(r.Context(), segments[0])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(session))

	case len(segments) == 2 && segments[1] == "dismiss":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
			return
		}
		var req dismissRequest
		if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
			return
		}
		result, err := h.responses.DismissSession(r.Context(), segments[0], req.DismissedBy, req.Admin)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(result))

	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

// ============================================
// 报警
// ============================================

// HandleAlerts GET /inactivity/api/v1/alerts?patient_id=
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	alerts, err := h.alerts.ListActiveByPatient(r.Context(), r.URL.Query().Get("patient_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

type acknowledgeRequest struct {
	UserID string `json:"user_id"`
}

// HandleAlertSubtree POST /inactivity/api/v1/alerts/{id}/acknowledge
func (h *Handler) HandleAlertSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/inactivity/api/v1/alerts/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")

	if len(segments) != 2 || segments[1] != "acknowledge" {
		writeJSON(w, http.StatusNotFound, Fail("not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	var req acknowledgeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("user_id is required"))
		return
	}

	if err := h.alerts.Acknowledge(r.Context(), segments[0], req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"alert_id": segments[0], "status": "acknowledged"}))
}
