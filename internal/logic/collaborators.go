package logic

import (
	"context"
	"time"

	"github.com/blues/collab/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Clock 时间来源
type Clock interface {
	Now() time.Time
}

// ClockFunc 函数形式的 Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// EventSink 审计事件出口，只写不读
type EventSink interface {
	Emit(ctx context.Context, evt model.AuditEvent) error
}

type nopSink struct{}

func (nopSink) Emit(context.Context, model.AuditEvent) error { return nil }

// Option AgreementLogic 选项
type Option func(*AgreementLogic)

// WithClock 替换时间来源
func WithClock(clock Clock) Option {
	return func(l *AgreementLogic) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithEventSink 设置审计事件出口
func WithEventSink(sink EventSink) Option {
	return func(l *AgreementLogic) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithVaultAccount 替换金库账户派生方式，链上模式所有协议共用运营账户
func WithVaultAccount(fn func(agreementId string) common.Address) Option {
	return func(l *AgreementLogic) {
		if fn != nil {
			l.vaultAccount = fn
		}
	}
}

// WithIDGenerator 替换协议ID生成方式
func WithIDGenerator(fn func() string) Option {
	return func(l *AgreementLogic) {
		if fn != nil {
			l.newID = fn
		}
	}
}

func newUUID() string {
	return uuid.NewString()
}
