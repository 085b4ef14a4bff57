package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/dispatcher"
	"wisefido-inactivity/internal/evaluator"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"
)

type flowOracle struct {
	caregiverIDs []string
}

func (f *flowOracle) AuthorizedCaregivers(ctx context.Context, patientID string) ([]string, error) {
	return f.caregiverIDs, nil
}

type flowNotifier struct {
	messageKinds []string
}

func (f *flowNotifier) Send(ctx context.Context, alertID string, caregiverIDs []string, messageKind string) error {
	f.messageKinds = append(f.messageKinds, messageKind)
	return nil
}

var openSessionColumnNames = append(append([]string{}, sessionColumnNames...),
	"device_name", "serial_number", "location")

// TestInactivityFlow_CheckInEscalationMotionResolution 完整生命周期：
// 离场开启会话 → 阈值到期发 check-in → 无回应升级 → 运动恢复自动解决。
// 入库、扫描、解决全部走同一套仓库与调度路径。
func TestInactivityFlow_CheckInEscalationMotionResolution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	deviceRepo := repository.NewDeviceRepository(db, logger)
	eventsRepo := repository.NewMotionEventsRepository(db, logger)
	sessionsRepo := repository.NewSessionsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)

	n := &flowNotifier{}
	d := dispatcher.NewDispatcher(alertsRepo, &flowOracle{caregiverIDs: []string{"cg-1"}}, n, nil, logger)

	cfg := &config.Config{}
	cfg.Monitor.BatchSize = 50
	e := evaluator.NewEvaluator(cfg, sessionsRepo, d, logger)

	ingest := NewIngestService(deviceRepo, eventsRepo, sessionsRepo, alertsRepo, nil, logger)
	ingestNow := time.Now()
	ingest.nowFunc = func() time.Time { return ingestNow }

	ctx := context.Background()
	deviceID := uuid.New().String()
	patientID := uuid.New().String()

	// t=0：NOT_DETECTED 打开会话，阈值快照 30s / 5min
	expectDeviceLookup(mock, "SN-001", deviceID, patientID, true, ingestNow)
	expectAuditInsert(mock, deviceID, patientID, models.DetectionNotDetected, ingestNow)
	mock.ExpectExec(`INSERT INTO inactivity_sessions`).
		WithArgs(sqlmock.AnyArg(), deviceID, patientID, ingestNow, 30, 5,
			models.SessionStatusMonitoring, ingestNow, ingestNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMarkProcessed(mock)

	opened, err := ingest.Ingest(ctx, &models.IngestRequest{
		Serial:         "SN-001",
		DetectionState: models.DetectionNotDetected,
	})
	require.NoError(t, err)
	require.Equal(t, models.ActionMonitoringStarted, opened.Action)
	sessionID := opened.SessionID
	require.NotEmpty(t, sessionID)

	// t=35s：静默超过阈值，扫描发出 check-in
	startedAt := time.Now().Add(-35 * time.Second)
	mock.ExpectQuery(`SELECT(.|\n)*FROM inactivity_sessions s`).
		WillReturnRows(sqlmock.NewRows(openSessionColumnNames).AddRow(
			sessionID, deviceID, patientID, startedAt,
			30, 5,
			nil, nil, nil,
			nil, nil, models.SessionStatusMonitoring, nil,
			nil, nil, startedAt, startedAt,
			"Bedroom Sensor", "SN-001", "bedroom",
		))
	mock.ExpectExec(`UPDATE inactivity_sessions`).
		WithArgs(sessionID, sqlmock.AnyArg(), sqlmock.AnyArg(), models.SessionStatusCheckInSent).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sweep1, err := e.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep1.CheckInsSent)
	assert.Equal(t, 0, sweep1.EscalationsSent)

	// t=5m36s：check-in 5 分钟无回应，扫描升级
	checkInAt := time.Now().Add(-5*time.Minute - time.Second)
	alertID := uuid.New().String()
	mock.ExpectQuery(`SELECT(.|\n)*FROM inactivity_sessions s`).
		WillReturnRows(sqlmock.NewRows(openSessionColumnNames).AddRow(
			sessionID, deviceID, patientID, checkInAt.Add(-35*time.Second),
			30, 5,
			checkInAt, checkInAt, nil,
			nil, nil, models.SessionStatusCheckInSent, nil,
			alertID, nil, checkInAt, checkInAt,
			"Bedroom Sensor", "SN-001", "bedroom",
		))
	mock.ExpectExec(`UPDATE inactivity_sessions`).
		WithArgs(sessionID, sqlmock.AnyArg(), sqlmock.AnyArg(), models.SessionStatusEscalated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sweep2, err := e.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep2.EscalationsSent)
	assert.Equal(t, 0, sweep2.CheckInsSent)

	// t=6m：DETECTED 解决会话并收尾两条报警
	ingestNow = time.Now()
	expectDeviceLookup(mock, "SN-001", deviceID, patientID, true, ingestNow)
	expectAuditInsert(mock, deviceID, patientID, models.DetectionDetected, ingestNow)

	method := models.ResolutionMotionResumed
	mock.ExpectQuery(`UPDATE inactivity_sessions`).
		WithArgs(deviceID, ingestNow, models.SessionStatusResolved, models.ResolutionMotionResumed).
		WillReturnRows(sqlmock.NewRows(sessionColumnNames).AddRow(
			sessionID, deviceID, patientID, checkInAt.Add(-35*time.Second),
			30, 5,
			checkInAt, checkInAt, nil,
			checkInAt.Add(5*time.Minute), ingestNow, models.SessionStatusResolved, method,
			alertID, uuid.New().String(), checkInAt, ingestNow,
		))
	mock.ExpectExec(`UPDATE alerts`).
		WithArgs(sessionID, "motion resumed, automatically resolved",
			models.AlertStatusResolved, ingestNow,
			models.AlertStatusActive, models.AlertStatusAcknowledged).
		WillReturnResult(sqlmock.NewResult(0, 2))
	expectMarkProcessed(mock)

	resolved, err := ingest.Ingest(ctx, &models.IngestRequest{
		Serial:         "SN-001",
		DetectionState: models.DetectionDetected,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ActionMotionDetected, resolved.Action)
	assert.Equal(t, sessionID, resolved.SessionID)

	assert.Equal(t, []string{models.MessageKindCheckInPrompt, models.MessageKindEscalationNotice}, n.messageKinds)
	require.NoError(t, mock.ExpectationsWereMet())
}
