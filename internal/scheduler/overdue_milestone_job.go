package scheduler

import (
	"context"
	"time"

	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/metrics"
	"github.com/blues/collab/internal/model"
	"github.com/go-co-op/gocron/v2"
)

// AgreementLister 列出所有协议，由 logic.AgreementLogic 实现
type AgreementLister interface {
	ListAgreements(ctx context.Context) ([]model.AgreementModel, error)
}

// OverdueMilestone 逾期未完成的里程碑
type OverdueMilestone struct {
	AgreementId string
	Index       int
	DueDate     time.Time
	Amount      uint64
}

// OverdueMilestoneJob 逾期里程碑统计任务
type OverdueMilestoneJob struct {
	agreements AgreementLister
	interval   time.Duration
	now        func() time.Time
}

// NewOverdueMilestoneJob 创建逾期里程碑统计任务
func NewOverdueMilestoneJob(agreements AgreementLister, interval time.Duration) *OverdueMilestoneJob {
	return &OverdueMilestoneJob{
		agreements: agreements,
		interval:   interval,
		now:        time.Now,
	}
}

// GetName 获取任务名称
func (j *OverdueMilestoneJob) GetName() string {
	return "overdue_milestone_reporter"
}

// GetSchedule 获取调度配置
func (j *OverdueMilestoneJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *OverdueMilestoneJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	overdue, err := j.Scan(ctx)
	if err != nil {
		logger.Error("Failed to scan overdue milestones: %v", err)
		return
	}

	metrics.SetOverdueMilestones(len(overdue))
	for _, o := range overdue {
		logger.Warn("Milestone %d of agreement %s is overdue since %s", o.Index, o.AgreementId, o.DueDate.Format(time.RFC3339))
	}
	logger.Info("Overdue milestone scan completed. Found %d overdue milestones", len(overdue))
}

// Scan 查找未完成协议中已过截止时间且未完成的里程碑
func (j *OverdueMilestoneJob) Scan(ctx context.Context) ([]OverdueMilestone, error) {
	agreements, err := j.agreements.ListAgreements(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	var overdue []OverdueMilestone
	for _, a := range agreements {
		if a.Status == model.AgreementStatusCompleted {
			continue
		}
		for i, m := range a.Milestones {
			if m.IsOverdue(now) {
				overdue = append(overdue, OverdueMilestone{
					AgreementId: a.Id,
					Index:       i,
					DueDate:     m.DueDate,
					Amount:      m.Amount,
				})
			}
		}
	}
	return overdue, nil
}
