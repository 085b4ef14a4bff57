package scheduler

import (
	"context"
	"time"

	"wisefido-inactivity/internal/evaluator"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper 阈值扫描接口（由 evaluator.Evaluator 实现）
type Sweeper interface {
	RunSweep(ctx context.Context) (*evaluator.SweepResult, error)
}

// SweepScheduler 周期性扫描触发器
// 扫描本身幂等，晚触发或重复触发都是安全的，
// 所以这里只负责按节奏调用，不做任何去重
type SweepScheduler struct {
	cronEngine *cron.Cron
	sweeper    Sweeper
	spec       string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSweepScheduler 创建扫描触发器
// spec 例如 "@every 10s"
func NewSweepScheduler(sweeper Sweeper, spec string, timeout time.Duration, logger *zap.Logger) *SweepScheduler {
	return &SweepScheduler{
		cronEngine: cron.New(),
		sweeper:    sweeper,
		spec:       spec,
		timeout:    timeout,
		logger:     logger,
	}
}

// Start 注册并启动定时任务
func (s *SweepScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.spec, s.runOnce)
	if err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.Info("Sweep scheduler started",
		zap.String("spec", s.spec),
	)

	return nil
}

// Stop 停止并等待进行中的扫描结束
func (s *SweepScheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep scheduler stopped")
}

func (s *SweepScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	result, err := s.sweeper.RunSweep(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", zap.Error(err))
		return
	}

	if result.CheckInsSent > 0 || result.EscalationsSent > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("sessions_checked", result.SessionsChecked),
			zap.Int("alerts_created", result.AlertsCreated),
			zap.Int("check_ins_sent", result.CheckInsSent),
			zap.Int("escalations_sent", result.EscalationsSent),
		)
	} else {
		s.logger.Debug("Sweep completed",
			zap.Int("sessions_checked", result.SessionsChecked),
		)
	}
}
