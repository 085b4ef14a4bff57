package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"
)

type fakeOracle struct {
	caregiverIDs []string
	err          error
}

func (f *fakeOracle) AuthorizedCaregivers(ctx context.Context, patientID string) ([]string, error) {
	return f.caregiverIDs, f.err
}

type fakeNotifier struct {
	alertIDs     []string
	caregiverIDs [][]string
	messageKinds []string
	err          error
}

func (f *fakeNotifier) Send(ctx context.Context, alertID string, caregiverIDs []string, messageKind string) error {
	f.alertIDs = append(f.alertIDs, alertID)
	f.caregiverIDs = append(f.caregiverIDs, caregiverIDs)
	f.messageKinds = append(f.messageKinds, messageKind)
	return f.err
}

func setupDispatcher(t *testing.T, oracle *fakeOracle, n *fakeNotifier) (*sql.DB, sqlmock.Sqlmock, *Dispatcher) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	alertsRepo := repository.NewAlertsRepository(db, logger)
	d := NewDispatcher(alertsRepo, oracle, n, nil, logger)

	return db, mock, d
}

func checkInInput(alertID string) DispatchInput {
	return DispatchInput{
		AlertID:     alertID,
		PatientID:   uuid.New().String(),
		DeviceID:    uuid.New().String(),
		SessionID:   uuid.New().String(),
		AlertType:   models.AlertTypeInactivity,
		Severity:    models.SeverityMedium,
		Title:       "Inactivity detected",
		Message:     "No motion detected by Bedroom Sensor (bedroom) for 30 seconds",
		MessageKind: models.MessageKindCheckInPrompt,
		Now:         time.Now(),
	}
}

func TestDispatch_SnapshotsCaregiversAndNotifies(t *testing.T) {
	oracle := &fakeOracle{caregiverIDs: []string{"cg-1", "cg-2"}}
	n := &fakeNotifier{}
	db, mock, d := setupDispatcher(t, oracle, n)
	defer db.Close()

	alertID := uuid.New().String()
	in := checkInInput(alertID)

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(alertID, in.PatientID, &in.DeviceID, &in.SessionID,
			in.AlertType, in.Severity, models.AlertStatusActive,
			in.Title, in.Message, `["cg-1","cg-2"]`, in.Now, in.Now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := d.Dispatch(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, alertID, alert.AlertID)
	assert.Equal(t, `["cg-1","cg-2"]`, alert.NotifiedCaregivers)

	require.Len(t, n.alertIDs, 1)
	assert.Equal(t, alertID, n.alertIDs[0])
	assert.Equal(t, []string{"cg-1", "cg-2"}, n.caregiverIDs[0])
	assert.Equal(t, models.MessageKindCheckInPrompt, n.messageKinds[0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_DeliveryFailureDoesNotFailDispatch(t *testing.T) {
	oracle := &fakeOracle{caregiverIDs: []string{"cg-1"}}
	n := &fakeNotifier{err: apperrors.NewDeliveryError("webhook unreachable", nil)}
	db, mock, d := setupDispatcher(t, oracle, n)
	defer db.Close()

	alertID := uuid.New().String()
	in := checkInInput(alertID)

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(alertID, in.PatientID, &in.DeviceID, &in.SessionID,
			in.AlertType, in.Severity, models.AlertStatusActive,
			in.Title, in.Message, `["cg-1"]`, in.Now, in.Now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// 投递失败不回滚：报警行是持久的事实来源
	alert, err := d.Dispatch(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, alert)
	require.Len(t, n.alertIDs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_OracleFailureDegradesToEmptySet(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("permission service down")}
	n := &fakeNotifier{}
	db, mock, d := setupDispatcher(t, oracle, n)
	defer db.Close()

	alertID := uuid.New().String()
	in := checkInInput(alertID)

	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs(alertID, in.PatientID, &in.DeviceID, &in.SessionID,
			in.AlertType, in.Severity, models.AlertStatusActive,
			in.Title, in.Message, sqlmock.AnyArg(), in.Now, in.Now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	alert, err := d.Dispatch(context.Background(), in)

	require.NoError(t, err)
	require.NotNil(t, alert)

	require.Len(t, n.caregiverIDs, 1)
	assert.Empty(t, n.caregiverIDs[0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_CreateAlertFailurePropagates(t *testing.T) {
	oracle := &fakeOracle{caregiverIDs: []string{"cg-1"}}
	n := &fakeNotifier{}
	db, mock, d := setupDispatcher(t, oracle, n)
	defer db.Close()

	alertID := uuid.New().String()
	in := checkInInput(alertID)

	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnError(errors.New("connection reset"))

	alert, err := d.Dispatch(context.Background(), in)

	assert.Error(t, err)
	assert.Nil(t, alert)
	assert.True(t, apperrors.IsTransient(err))
	// 报警未落盘时不触发投递
	assert.Empty(t, n.alertIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}
