package service

import (
	"context"
	"fmt"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeviceService 设备注册服务
// 业务规则：
// 1. 阈值配置范围校验（入库前拒绝，不持久化非法配置）
// 2. 序列号全局唯一
// 3. 停用是软操作，历史数据与进行中的会话都保留
type DeviceService struct {
	deviceRepo *repository.DeviceRepository
	logger     *zap.Logger
}

// NewDeviceService 创建设备服务
func NewDeviceService(deviceRepo *repository.DeviceRepository, logger *zap.Logger) *DeviceService {
	return &DeviceService{
		deviceRepo: deviceRepo,
		logger:     logger,
	}
}

// RegisterDeviceRequest 设备注册请求
type RegisterDeviceRequest struct {
	PatientID          string `json:"patient_id"`
	SerialNumber       string `json:"serial_number"`
	DeviceName         string `json:"device_name"`
	Location           string `json:"location"`
	SensitivitySeconds int    `json:"sensitivity_seconds"`
	EscalationMinutes  int    `json:"escalation_minutes"`
}

// Register 注册设备
func (s *DeviceService) Register(ctx context.Context, req RegisterDeviceRequest) (*models.Device, error) {
	if req.PatientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}
	if req.SerialNumber == "" {
		return nil, apperrors.NewValidationError("serial_number is required", nil)
	}
	if req.DeviceName == "" {
		return nil, apperrors.NewValidationError("device_name is required", nil)
	}
	if err := validateThresholds(req.SensitivitySeconds, req.EscalationMinutes); err != nil {
		return nil, err
	}

	now := time.Now()
	device := &models.Device{
		DeviceID:               uuid.New().String(),
		PatientID:              req.PatientID,
		SerialNumber:           req.SerialNumber,
		DeviceName:             req.DeviceName,
		Location:               req.Location,
		IsActive:               true,
		InactivityThresholdSec: req.SensitivitySeconds,
		EscalationWindowMin:    req.EscalationMinutes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.deviceRepo.CreateDevice(ctx, device); err != nil {
		return nil, err
	}

	s.logger.Info("Device registered",
		zap.String("device_id", device.DeviceID),
		zap.String("serial", device.SerialNumber),
		zap.String("patient_id", device.PatientID),
	)

	return device, nil
}

// Lookup 按序列号查询设备
func (s *DeviceService) Lookup(ctx context.Context, serial string) (*models.Device, error) {
	return s.deviceRepo.GetDeviceBySerial(ctx, serial)
}

// Get 按ID查询设备
func (s *DeviceService) Get(ctx context.Context, deviceID string) (*models.Device, error) {
	return s.deviceRepo.GetDevice(ctx, deviceID)
}

// ListByPatient 查询患者名下的设备
func (s *DeviceService) ListByPatient(ctx context.Context, patientID string) ([]models.Device, error) {
	return s.deviceRepo.ListDevicesByPatient(ctx, patientID)
}

// Deactivate 停用设备
// 刻意不自动解决进行中的会话：停用设备时悄悄隐藏一条进行中的
// 紧急事件，比把它留在看板上更危险
func (s *DeviceService) Deactivate(ctx context.Context, deviceID string) error {
	if err := s.deviceRepo.DeactivateDevice(ctx, deviceID, time.Now()); err != nil {
		return err
	}

	s.logger.Info("Device deactivated, open sessions (if any) left untouched",
		zap.String("device_id", deviceID),
	)

	return nil
}

// UpdateThresholds 更新阈值配置
// 只影响之后打开的会话；进行中的会话使用打开时冻结的快照
func (s *DeviceService) UpdateThresholds(ctx context.Context, deviceID string, sensitivitySec, escalationMin int) error {
	if err := validateThresholds(sensitivitySec, escalationMin); err != nil {
		return err
	}
	return s.deviceRepo.UpdateThresholds(ctx, deviceID, sensitivitySec, escalationMin, time.Now())
}

func validateThresholds(sensitivitySec, escalationMin int) error {
	if sensitivitySec < models.MinThresholdSeconds || sensitivitySec > models.MaxThresholdSeconds {
		return apperrors.NewValidationError(
			fmt.Sprintf("sensitivity_seconds must be between %d and %d, got %d",
				models.MinThresholdSeconds, models.MaxThresholdSeconds, sensitivitySec), nil)
	}
	if escalationMin < models.MinEscalationMinutes || escalationMin > models.MaxEscalationMinutes {
		return apperrors.NewValidationError(
			fmt.Sprintf("escalation_minutes must be between %d and %d, got %d",
				models.MinEscalationMinutes, models.MaxEscalationMinutes, escalationMin), nil)
	}
	return nil
}
