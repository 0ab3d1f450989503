package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blues/collab/internal/model"
)

func newAgreement(id string, createdAt time.Time) *model.AgreementModel {
	return &model.AgreementModel{
		Id:         id,
		CreatedAt:  createdAt,
		Title:      id,
		Status:     model.AgreementStatusActive,
		Milestones: []model.Milestone{{Amount: 10}},
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	original := newAgreement("a", time.Now())

	if err := s.Create(ctx, original); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Create(ctx, newAgreement("a", time.Now())); !errors.Is(err, ErrAgreementExists) {
		t.Fatalf("expected ErrAgreementExists, got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}

	// 调用方持有的对象与存储隔离
	original.Milestones[0].Amount = 99
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.Milestones[0].Amount != 10 {
		t.Fatalf("store shares memory with caller: amount %d", got.Milestones[0].Amount)
	}
	got.Milestones[0].Amount = 77
	if again, _ := s.Get(ctx, "a"); again.Milestones[0].Amount != 10 {
		t.Fatalf("store shares memory with reader: amount %d", again.Milestones[0].Amount)
	}
}

func TestMemoryStoreUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newAgreement("a", time.Now())); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, "a", func(a *model.AgreementModel) error {
		a.VaultBalance = 500
		a.Milestones[0].IsPaid = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.Get(ctx, "a")
	if got.VaultBalance != 0 || got.Milestones[0].IsPaid {
		t.Fatalf("failed update leaked changes: %+v", got)
	}

	if err := s.Update(ctx, "a", func(a *model.AgreementModel) error {
		a.VaultBalance = 500
		return nil
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got, _ := s.Get(ctx, "a"); got.VaultBalance != 500 {
		t.Fatalf("expected committed balance 500, got %d", got.VaultBalance)
	}

	if err := s.Update(ctx, "missing", func(*model.AgreementModel) error { return nil }); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateHonorsCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Create(context.Background(), newAgreement("a", time.Now())); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Update(ctx, "a", func(*model.AgreementModel) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected context.Canceled without calling fn, got %v (called %v)", err, called)
	}
}

func TestMemoryStoreConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newAgreement("a", time.Now())); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Update(ctx, "a", func(a *model.AgreementModel) error {
				a.FundsRaised++
				return nil
			}); err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "a")
	if got.FundsRaised != workers {
		t.Fatalf("expected %d increments, got %d", workers, got.FundsRaised)
	}
}

func TestMemoryStoreListOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range []*model.AgreementModel{
		newAgreement("c", base.Add(time.Hour)),
		newAgreement("b", base),
		newAgreement("a", base),
	} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if list[i].Id != id {
			t.Fatalf("unexpected order at %d: got %s, want %s", i, list[i].Id, id)
		}
	}
}
