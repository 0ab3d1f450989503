package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/blues/collab/internal/model"
)

var (
	ErrAgreementNotFound = errors.New("agreement not found")
	ErrAgreementExists   = errors.New("agreement already exists")
)

// AgreementStore 协议实体存储
//
// Update 对单个协议提供独占、原子的读改写：fn 返回错误时不保存任何修改。
// 不同协议之间互不加锁。
type AgreementStore interface {
	Create(ctx context.Context, agreement *model.AgreementModel) error
	Get(ctx context.Context, id string) (*model.AgreementModel, error)
	List(ctx context.Context) ([]model.AgreementModel, error)
	Update(ctx context.Context, id string, fn func(agreement *model.AgreementModel) error) error
}

// MemoryStore 进程内协议存储
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.AgreementModel
	locks   map[string]*sync.Mutex
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.AgreementModel),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Create 保存新协议
func (s *MemoryStore) Create(_ context.Context, agreement *model.AgreementModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[agreement.Id]; exists {
		return ErrAgreementExists
	}
	s.records[agreement.Id] = agreement.Clone()
	s.locks[agreement.Id] = &sync.Mutex{}
	return nil
}

// Get 获取协议副本
func (s *MemoryStore) Get(_ context.Context, id string) (*model.AgreementModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, ErrAgreementNotFound
	}
	return record.Clone(), nil
}

// List 按创建时间返回所有协议
func (s *MemoryStore) List(_ context.Context) ([]model.AgreementModel, error) {
	s.mu.Lock()
	result := make([]model.AgreementModel, 0, len(s.records))
	for _, record := range s.records {
		result = append(result, *record.Clone())
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Id < result[j].Id
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Update 持有协议锁，在副本上执行 fn，成功后替换
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(agreement *model.AgreementModel) error) error {
	s.mu.Lock()
	lock, exists := s.locks[id]
	s.mu.Unlock()
	if !exists {
		return ErrAgreementNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// records[id] 只在持有 lock 时被替换
	s.mu.Lock()
	working := s.records[id].Clone()
	s.mu.Unlock()

	if err := fn(working); err != nil {
		return err
	}
	working.UpdatedAt = time.Now()

	s.mu.Lock()
	s.records[id] = working
	s.mu.Unlock()
	return nil
}
