package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/blues/collab/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 基于数据库行锁的协议存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create 插入新协议
func (s *GormStore) Create(ctx context.Context, agreement *model.AgreementModel) error {
	if err := s.db.WithContext(ctx).Create(agreement).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAgreementExists
		}
		return fmt.Errorf("failed to create agreement: %w", err)
	}
	return nil
}

// Get 获取协议
func (s *GormStore) Get(ctx context.Context, id string) (*model.AgreementModel, error) {
	var agreement model.AgreementModel
	if err := s.db.WithContext(ctx).First(&agreement, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgreementNotFound
		}
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}
	return &agreement, nil
}

// List 获取所有协议
func (s *GormStore) List(ctx context.Context) ([]model.AgreementModel, error) {
	var agreements []model.AgreementModel
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&agreements).Error; err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	return agreements, nil
}

// Update 在事务内对协议行加 FOR UPDATE 锁后执行 fn
func (s *GormStore) Update(ctx context.Context, id string, fn func(agreement *model.AgreementModel) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agreement model.AgreementModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&agreement, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAgreementNotFound
			}
			return fmt.Errorf("failed to lock agreement: %w", err)
		}

		if err := fn(&agreement); err != nil {
			return err
		}

		if err := tx.Save(&agreement).Error; err != nil {
			return fmt.Errorf("failed to save agreement: %w", err)
		}
		return nil
	})
}
