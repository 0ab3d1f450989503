package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/collab/internal/logger"
	"github.com/blues/collab/internal/metrics"
	"github.com/blues/collab/internal/model"
	"github.com/panjf2000/ants/v2"
)

// Dispatcher 事件分发器
//
// primary 同步写入，返回其错误；observers 在协程池中异步投递，失败只记录日志。
type Dispatcher struct {
	primary   Sink
	observers []Sink
	pool      *ants.Pool // 协程池
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher 创建分发器，primary 可以为 nil
func NewDispatcher(primary Sink, workers int, observers ...Sink) (*Dispatcher, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create event pool: %w", err)
	}

	return &Dispatcher{
		primary:   primary,
		observers: observers,
		pool:      pool,
	}, nil
}

// Emit 分发事件
func (d *Dispatcher) Emit(ctx context.Context, evt model.AuditEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return fmt.Errorf("event dispatcher closed")
	}

	if d.primary != nil {
		if err := d.primary.Emit(ctx, evt); err != nil {
			metrics.IncrementEventDelivery(sinkName(d.primary), "failed")
			return err
		}
		metrics.IncrementEventDelivery(sinkName(d.primary), "success")
	}

	// 请求结束后仍需投递
	detached := context.WithoutCancel(ctx)
	for _, observer := range d.observers {
		observer := observer
		d.wg.Add(1)
		err := d.pool.Submit(func() {
			defer d.wg.Done()
			if err := observer.Emit(detached, evt); err != nil {
				metrics.IncrementEventDelivery(sinkName(observer), "failed")
				logger.Error("Failed to deliver %s for agreement %s to %s: %v", evt.Type, evt.AgreementId, sinkName(observer), err)
				return
			}
			metrics.IncrementEventDelivery(sinkName(observer), "success")
		})
		if err != nil {
			d.wg.Done()
			logger.Error("Failed to submit task to pool: %v", err)
		}
	}
	return nil
}

// Close 等待已提交的投递完成并释放协程池
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	d.pool.Release()
}

func sinkName(s Sink) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", s)
}
