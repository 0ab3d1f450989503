package logic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blues/collab/internal/event"
	"github.com/blues/collab/internal/ledger"
	"github.com/blues/collab/internal/model"
	"github.com/blues/collab/internal/repository"
	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	logic  *AgreementLogic
	ledger *ledger.MemoryLedger
	sink   *event.MemorySink
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.NewMemoryLedger(),
		sink:   event.NewMemorySink(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, addr := range []common.Address{alice, bob, carol} {
		if err := f.ledger.Mint(addr, 10_000); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	base := []Option{
		WithClock(ClockFunc(func() time.Time { return f.now })),
		WithEventSink(f.sink),
	}
	f.logic = NewAgreementLogic(repository.NewMemoryStore(), f.ledger, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, creator common.Address) *model.AgreementModel {
	t.Helper()
	a, err := f.logic.InitializeAgreement(context.Background(), CreateAgreementInput{
		Creator:     creator,
		Title:       "Joint Research",
		Description: "shared lab work",
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	return a
}

func (f *fixture) addMilestone(t *testing.T, id string, amount uint64) int {
	t.Helper()
	index, err := f.logic.AddMilestone(context.Background(), id, alice, "Phase", f.now.Add(30*24*time.Hour), amount)
	if err != nil {
		t.Fatalf("add milestone: %v", err)
	}
	return index
}

func (f *fixture) get(t *testing.T, id string) *model.AgreementModel {
	t.Helper()
	a, err := f.logic.GetAgreement(context.Background(), id)
	if err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func eventTypes(events []model.AuditEvent) []model.EventType {
	types := make([]model.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestInitializeAgreementCreatorIsSoleAdmin(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)

	if len(a.Participants) != 1 || a.Participants[0].Address != alice || !a.Participants[0].IsAdmin {
		t.Fatalf("expected creator as sole admin, got %+v", a.Participants)
	}
	if a.Status != model.AgreementStatusActive {
		t.Fatalf("expected active status, got %s", a.Status)
	}
	if len(a.Milestones) != 0 {
		t.Fatalf("expected no milestones, got %d", len(a.Milestones))
	}
	if a.VaultAccount != DeriveVaultAccount(a.Id) {
		t.Fatalf("unexpected vault account %s", a.VaultAccount.Hex())
	}
	if !a.CreatedAt.Equal(f.now) {
		t.Fatalf("expected created at %s, got %s", f.now, a.CreatedAt)
	}

	events := f.sink.Events()
	if len(events) != 1 || events[0].Type != model.EventAgreementCreated || events[0].AgreementId != a.Id {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestInitializeAgreementValidation(t *testing.T) {
	cases := []struct {
		name string
		in   CreateAgreementInput
	}{
		{"empty title", CreateAgreementInput{Creator: alice}},
		{"long title", CreateAgreementInput{Creator: alice, Title: strings.Repeat("t", model.MaxTitleLength+1)}},
		{"long description", CreateAgreementInput{Creator: alice, Title: "ok", Description: strings.Repeat("d", model.MaxDescriptionLength+1)}},
		{"zero creator", CreateAgreementInput{Title: "ok"}},
		{"long id", CreateAgreementInput{Creator: alice, Title: "ok", Id: strings.Repeat("x", 65)}},
		{"split over 100", CreateAgreementInput{Creator: alice, Title: "ok", IPTerms: &model.IPTerms{
			OwnershipSplit: []model.OwnershipShare{{Address: alice, Percentage: 60}, {Address: bob, Percentage: 41}},
		}}},
		{"duplicate share", CreateAgreementInput{Creator: alice, Title: "ok", IPTerms: &model.IPTerms{
			OwnershipSplit: []model.OwnershipShare{{Address: alice, Percentage: 10}, {Address: alice, Percentage: 10}},
		}}},
		{"long license", CreateAgreementInput{Creator: alice, Title: "ok", IPTerms: &model.IPTerms{
			LicenseType: strings.Repeat("l", model.MaxLicenseLength+1),
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.logic.InitializeAgreement(context.Background(), tc.in)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if n := len(f.sink.Events()); n != 0 {
				t.Fatalf("expected no events, got %d", n)
			}
		})
	}
}

func TestInitializeAgreementAcceptsBoundaryLengths(t *testing.T) {
	f := newFixture(t)
	a, err := f.logic.InitializeAgreement(context.Background(), CreateAgreementInput{
		Creator:     alice,
		Title:       strings.Repeat("t", model.MaxTitleLength),
		Description: strings.Repeat("d", model.MaxDescriptionLength),
		FundingGoal: 5000,
		IPTerms: &model.IPTerms{
			OwnershipSplit:   []model.OwnershipShare{{Address: alice, Percentage: 50}, {Address: bob, Percentage: 50}},
			LicenseType:      "CC-BY-4.0",
			CommercialRights: true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.FundingGoal != 5000 || a.IPTerms == nil || len(a.IPTerms.OwnershipSplit) != 2 {
		t.Fatalf("unexpected agreement: %+v", a)
	}
}

func TestInitializeAgreementReusedId(t *testing.T) {
	f := newFixture(t)
	in := CreateAgreementInput{Id: "research-1", Creator: alice, Title: "Joint Research"}
	if _, err := f.logic.InitializeAgreement(context.Background(), in); err != nil {
		t.Fatalf("first create: %v", err)
	}

	in.Creator = bob
	_, err := f.logic.InitializeAgreement(context.Background(), in)
	if !errors.Is(err, ErrAccountAlreadyInitialized) {
		t.Fatalf("expected ErrAccountAlreadyInitialized, got %v", err)
	}
	if got := f.get(t, "research-1"); got.Creator != alice {
		t.Fatalf("agreement was overwritten: creator %s", got.Creator.Hex())
	}
}

func TestAddMilestoneNonAdminUnauthorized(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)

	_, err := f.logic.AddMilestone(context.Background(), a.Id, bob, "Phase 1", f.now.Add(time.Hour), 500)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if n := len(f.get(t, a.Id).Milestones); n != 0 {
		t.Fatalf("expected milestone list unchanged, got %d", n)
	}
}

func TestAddMilestoneDefaultsAndIndices(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)

	first := f.addMilestone(t, a.Id, 100)
	second := f.addMilestone(t, a.Id, 200)
	if first != 0 || second != 1 {
		t.Fatalf("expected indices 0 and 1, got %d and %d", first, second)
	}

	m := f.get(t, a.Id).Milestones[1]
	if m.Recipient != alice || m.IsCompleted || m.IsPaid || m.Amount != 200 {
		t.Fatalf("unexpected milestone: %+v", m)
	}
}

func TestAddMilestoneValidation(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)

	_, err := f.logic.AddMilestone(context.Background(), a.Id, alice, strings.Repeat("d", model.MaxDescriptionLength+1), f.now, 1)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for long description, got %v", err)
	}
	_, err = f.logic.AddMilestone(context.Background(), a.Id, alice, "no date", time.Time{}, 1)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero due date, got %v", err)
	}
}

func TestAddMilestoneCapacity(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)
	for i := 0; i < model.MaxMilestones; i++ {
		f.addMilestone(t, a.Id, 1)
	}

	_, err := f.logic.AddMilestone(context.Background(), a.Id, alice, "one too many", f.now.Add(time.Hour), 1)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if n := len(f.get(t, a.Id).Milestones); n != model.MaxMilestones {
		t.Fatalf("expected %d milestones, got %d", model.MaxMilestones, n)
	}
}

func TestJointResearchScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)

	index, err := f.logic.AddMilestone(ctx, a.Id, alice, "Phase 1", f.now.Add(30*24*time.Hour), 500)
	if err != nil || index != 0 {
		t.Fatalf("add milestone: index %d, err %v", index, err)
	}
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 500); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete milestone: %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release payment: %v", err)
	}

	got := f.get(t, a.Id)
	if got.VaultBalance != 0 {
		t.Fatalf("expected vault balance 0, got %d", got.VaultBalance)
	}
	if !got.Milestones[0].IsPaid || !got.Milestones[0].IsCompleted {
		t.Fatalf("expected milestone paid and completed: %+v", got.Milestones[0])
	}
	if b := f.balance(t, alice); b != 10_000 {
		t.Fatalf("expected recipient to get 500 back to 10000, got %d", b)
	}
	if b := f.balance(t, got.VaultAccount); b != 0 {
		t.Fatalf("expected vault account empty, got %d", b)
	}

	err = f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0)
	if !errors.Is(err, ErrInvalidMilestoneStatus) {
		t.Fatalf("expected ErrInvalidMilestoneStatus on second release, got %v", err)
	}

	want := []model.EventType{
		model.EventAgreementCreated,
		model.EventMilestoneAdded,
		model.EventVaultFunded,
		model.EventMilestoneCompleted,
		model.EventPaymentReleased,
	}
	gotTypes := eventTypes(f.sink.Events())
	if len(gotTypes) != len(want) {
		t.Fatalf("expected events %v, got %v", want, gotTypes)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, gotTypes)
		}
	}

	released := f.sink.Events()[4]
	if released.Amount != 500 || released.MilestoneIndex == nil || *released.MilestoneIndex != 0 ||
		released.Principal == nil || *released.Principal != alice {
		t.Fatalf("unexpected PaymentReleased event: %+v", released)
	}
}

func TestNonAdminCannotCompleteMilestone(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 500)

	err := f.logic.CompleteMilestone(context.Background(), a.Id, bob, 0)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.get(t, a.Id).Milestones[0].IsCompleted {
		t.Fatalf("milestone must remain incomplete")
	}
}

func TestFundThenReleaseRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 1000)

	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	balance, err := f.logic.VaultBalance(ctx, a.Id)
	if err != nil || balance != 1000 {
		t.Fatalf("expected balance 1000, got %d (%v)", balance, err)
	}

	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	balance, err = f.logic.VaultBalance(ctx, a.Id)
	if err != nil || balance != 0 {
		t.Fatalf("expected balance 0, got %d (%v)", balance, err)
	}
}

func TestReleasePaymentIndexOutOfRangeRegardlessOfAuthorization(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 10)

	for _, caller := range []common.Address{alice, bob} {
		err := f.logic.ReleasePayment(context.Background(), a.Id, caller, caller, 1)
		if !errors.Is(err, ErrInvalidMilestoneIndex) {
			t.Fatalf("caller %s: expected ErrInvalidMilestoneIndex, got %v", caller.Hex(), err)
		}
	}
	err := f.logic.ReleasePayment(context.Background(), a.Id, alice, alice, -1)
	if !errors.Is(err, ErrInvalidMilestoneIndex) {
		t.Fatalf("expected ErrInvalidMilestoneIndex for negative index, got %v", err)
	}
}

func TestReleasePaymentRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 300)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 300); err != nil {
		t.Fatalf("fund: %v", err)
	}

	err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0)
	if !errors.Is(err, ErrInvalidMilestoneStatus) {
		t.Fatalf("expected ErrInvalidMilestoneStatus, got %v", err)
	}
	if got := f.get(t, a.Id); got.VaultBalance != 300 || got.Milestones[0].IsPaid {
		t.Fatalf("state changed after rejected release: %+v", got)
	}
}

func TestReleasePaymentInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 300)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := f.get(t, a.Id); got.VaultBalance != 100 || got.Milestones[0].IsPaid {
		t.Fatalf("state changed after rejected release: %+v", got)
	}
}

func TestReleasePaymentTransferFailureLeavesMilestoneUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	if err := f.logic.AddParticipant(ctx, a.Id, alice, bob, true); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	f.addMilestone(t, a.Id, 200)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 200); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// bob 是管理员，但不是金库账户的所有者
	err := f.logic.ReleasePayment(ctx, a.Id, bob, bob, 0)
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, ledger.ErrNotAuthorized) {
		t.Fatalf("expected ErrTransferFailed wrapping ErrNotAuthorized, got %v", err)
	}

	got := f.get(t, a.Id)
	if got.Milestones[0].IsPaid || got.VaultBalance != 200 || got.TotalReleased != 0 {
		t.Fatalf("state changed after failed transfer: %+v", got)
	}
	if b := f.balance(t, got.VaultAccount); b != 200 {
		t.Fatalf("expected vault account to keep 200, got %d", b)
	}
}

func TestZeroAmountMilestoneReleasesWithoutTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 0)
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !f.get(t, a.Id).Milestones[0].IsPaid {
		t.Fatalf("expected zero amount milestone to be paid")
	}
}

func TestCompleteMilestoneIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 10)

	for i := 0; i < 2; i++ {
		if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
			t.Fatalf("complete #%d: %v", i+1, err)
		}
	}

	completed := 0
	for _, e := range f.sink.Events() {
		if e.Type == model.EventMilestoneCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected one MilestoneCompleted event, got %d", completed)
	}

	err := f.logic.CompleteMilestone(ctx, a.Id, alice, 3)
	if !errors.Is(err, ErrInvalidMilestoneIndex) {
		t.Fatalf("expected ErrInvalidMilestoneIndex, got %v", err)
	}
}

func TestDisputeFreezesMilestonesUntilResumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 100)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := f.logic.FileDispute(ctx, a.Id, bob, "not a member"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin dispute, got %v", err)
	}
	if err := f.logic.FileDispute(ctx, a.Id, alice, "scope disagreement"); err != nil {
		t.Fatalf("file dispute: %v", err)
	}

	got := f.get(t, a.Id)
	if got.Status != model.AgreementStatusDisputed || got.Dispute == nil || got.Dispute.PriorStatus != model.AgreementStatusActive {
		t.Fatalf("unexpected dispute state: %+v", got)
	}

	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); !errors.Is(err, ErrAgreementDisputed) {
		t.Fatalf("expected ErrAgreementDisputed on complete, got %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); !errors.Is(err, ErrAgreementDisputed) {
		t.Fatalf("expected ErrAgreementDisputed on release, got %v", err)
	}
	if _, err := f.logic.AddMilestone(ctx, a.Id, alice, "x", f.now.Add(time.Hour), 1); !errors.Is(err, ErrAgreementDisputed) {
		t.Fatalf("expected ErrAgreementDisputed on add milestone, got %v", err)
	}
	if err := f.logic.FileDispute(ctx, a.Id, alice, "again"); !errors.Is(err, ErrAgreementDisputed) {
		t.Fatalf("expected ErrAgreementDisputed on second dispute, got %v", err)
	}
	if err := f.logic.FundVault(ctx, a.Id, bob, bob, 50); err != nil {
		t.Fatalf("funding must stay open during dispute: %v", err)
	}

	if err := f.logic.ResolveDispute(ctx, a.Id, alice, ResolutionResume, "resolved offline"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got = f.get(t, a.Id)
	if got.Status != model.AgreementStatusActive || got.Dispute.ResolvedAt == nil || got.Dispute.Resolution != "resume" {
		t.Fatalf("unexpected resolved state: %+v", got.Dispute)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete after resume: %v", err)
	}
}

func TestResolveDisputeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)

	if err := f.logic.ResolveDispute(ctx, a.Id, alice, Resolution("split"), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := f.logic.ResolveDispute(ctx, a.Id, alice, ResolutionResume, ""); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus for active agreement, got %v", err)
	}
	if err := f.logic.FileDispute(ctx, a.Id, alice, "late"); err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	if err := f.logic.ResolveDispute(ctx, a.Id, bob, ResolutionSettle, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSettleDisputeThenReclaimRemainingFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 300)
	f.addMilestone(t, a.Id, 500)
	if err := f.logic.FundVault(ctx, a.Id, carol, carol, 800); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := f.logic.ReclaimFunds(ctx, a.Id, alice, alice, carol); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus before completion, got %v", err)
	}

	if err := f.logic.FileDispute(ctx, a.Id, alice, "funder withdrew"); err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	if _, err := f.logic.ReclaimFunds(ctx, a.Id, alice, alice, carol); !errors.Is(err, ErrAgreementDisputed) {
		t.Fatalf("expected ErrAgreementDisputed while disputed, got %v", err)
	}
	if err := f.logic.ResolveDispute(ctx, a.Id, alice, ResolutionSettle, "refund the rest"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := f.logic.AddMilestone(ctx, a.Id, alice, "late", f.now.Add(time.Hour), 1); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus after completion, got %v", err)
	}
	if err := f.logic.FundVault(ctx, a.Id, carol, carol, 1); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus for funding a completed agreement, got %v", err)
	}
	if _, err := f.logic.ReclaimFunds(ctx, a.Id, bob, bob, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	amount, err := f.logic.ReclaimFunds(ctx, a.Id, alice, alice, carol)
	if err != nil || amount != 500 {
		t.Fatalf("expected to reclaim 500, got %d (%v)", amount, err)
	}
	if b := f.balance(t, carol); b != 10_000-800+500 {
		t.Fatalf("unexpected funder balance %d", b)
	}

	got := f.get(t, a.Id)
	if got.VaultBalance != 0 || got.TotalReclaimed != 500 || got.TotalReleased != 300 {
		t.Fatalf("unexpected vault state: %+v", got)
	}
	if v := VaultViolations(got); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}

	if _, err := f.logic.ReclaimFunds(ctx, a.Id, alice, alice, carol); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on empty vault, got %v", err)
	}
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.logic.InitializeAgreement(ctx, CreateAgreementInput{Creator: alice, Title: "Draft", Draft: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Status != model.AgreementStatusDraft {
		t.Fatalf("expected draft, got %s", a.Status)
	}

	if _, err := f.logic.AddMilestone(ctx, a.Id, alice, "early", f.now.Add(time.Hour), 1); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus on draft, got %v", err)
	}
	if err := f.logic.AddParticipant(ctx, a.Id, alice, bob, false); err != nil {
		t.Fatalf("add participant on draft: %v", err)
	}
	if err := f.logic.Activate(ctx, a.Id, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin activate, got %v", err)
	}
	if err := f.logic.Activate(ctx, a.Id, alice); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.logic.Activate(ctx, a.Id, alice); !errors.Is(err, ErrInvalidAgreementStatus) {
		t.Fatalf("expected ErrInvalidAgreementStatus on second activate, got %v", err)
	}

	f.addMilestone(t, a.Id, 10)
	if err := f.logic.SubmitForReview(ctx, a.Id, alice); err != nil {
		t.Fatalf("submit for review: %v", err)
	}
	f.addMilestone(t, a.Id, 20)
	if err := f.logic.ResolveDispute(ctx, a.Id, alice, ResolutionSettle, "approved"); err != nil {
		t.Fatalf("settle review: %v", err)
	}
	got := f.get(t, a.Id)
	if got.Status != model.AgreementStatusCompleted || got.Dispute != nil {
		t.Fatalf("unexpected final state: status %s dispute %+v", got.Status, got.Dispute)
	}

	var statuses []model.AgreementStatus
	for _, e := range f.sink.Events() {
		if e.Type == model.EventStatusChanged || e.Type == model.EventDisputeResolved {
			statuses = append(statuses, e.Status)
		}
	}
	want := []model.AgreementStatus{model.AgreementStatusActive, model.AgreementStatusPendingReview, model.AgreementStatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("expected status events %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected status events %v, got %v", want, statuses)
		}
	}
}

func TestAddParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)

	if err := f.logic.AddParticipant(ctx, a.Id, bob, carol, false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.logic.AddParticipant(ctx, a.Id, alice, bob, true); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	if err := f.logic.AddParticipant(ctx, a.Id, alice, bob, false); !errors.Is(err, ErrParticipantExists) {
		t.Fatalf("expected ErrParticipantExists, got %v", err)
	}
	if err := f.logic.AddParticipant(ctx, a.Id, alice, common.Address{}, false); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	// 新管理员可以添加里程碑，收款人为自己
	index, err := f.logic.AddMilestone(ctx, a.Id, bob, "bob's part", f.now.Add(time.Hour), 5)
	if err != nil {
		t.Fatalf("admin bob add milestone: %v", err)
	}
	if r := f.get(t, a.Id).Milestones[index].Recipient; r != bob {
		t.Fatalf("expected recipient bob, got %s", r.Hex())
	}

	for i := len(f.get(t, a.Id).Participants); i < model.MaxParticipants; i++ {
		p := common.BytesToAddress([]byte{0xee, byte(i)})
		if err := f.logic.AddParticipant(ctx, a.Id, alice, p, false); err != nil {
			t.Fatalf("add participant %d: %v", i, err)
		}
	}
	if err := f.logic.AddParticipant(ctx, a.Id, alice, carol, false); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestSetRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 400)

	if err := f.logic.SetRecipient(ctx, a.Id, bob, 0, bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.logic.SetRecipient(ctx, a.Id, alice, 4, bob); !errors.Is(err, ErrInvalidMilestoneIndex) {
		t.Fatalf("expected ErrInvalidMilestoneIndex, got %v", err)
	}
	if err := f.logic.SetRecipient(ctx, a.Id, alice, 0, bob); err != nil {
		t.Fatalf("set recipient: %v", err)
	}

	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 400); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.logic.SetRecipient(ctx, a.Id, alice, 0, carol); !errors.Is(err, ErrInvalidMilestoneStatus) {
		t.Fatalf("expected ErrInvalidMilestoneStatus after completion, got %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if b := f.balance(t, bob); b != 10_400 {
		t.Fatalf("expected bob to receive 400, balance %d", b)
	}
}

func TestFundVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)

	// 非成员也可以出资
	if err := f.logic.FundVault(ctx, a.Id, carol, carol, 250); err != nil {
		t.Fatalf("fund by outsider: %v", err)
	}
	if err := f.logic.FundVault(ctx, a.Id, carol, carol, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if err := f.logic.FundVault(ctx, a.Id, carol, bob, 10); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed for foreign authority, got %v", err)
	}
	if err := f.logic.FundVault(ctx, a.Id, carol, carol, 1_000_000); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed for overdraft, got %v", err)
	}

	got := f.get(t, a.Id)
	if got.VaultBalance != 250 || got.FundsRaised != 250 {
		t.Fatalf("unexpected vault state: balance %d raised %d", got.VaultBalance, got.FundsRaised)
	}
	if b := f.balance(t, got.VaultAccount); b != 250 {
		t.Fatalf("expected ledger vault balance 250, got %d", b)
	}
}

func TestUnknownAgreement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.logic.GetAgreement(ctx, "missing"); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, "missing", alice, 0); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected ErrAgreementNotFound, got %v", err)
	}
}

func TestConcurrentReleasePaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, alice)
	f.addMilestone(t, a.Id, 100)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidMilestoneStatus) {
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful release, got %d", succeeded)
	}
	if got := f.get(t, a.Id); got.VaultBalance != 900 || got.TotalReleased != 100 {
		t.Fatalf("unexpected vault state: %+v", got)
	}
}

type failingSink struct{}

func (failingSink) Emit(context.Context, model.AuditEvent) error {
	return errors.New("sink down")
}

func TestEmitFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, WithEventSink(failingSink{}))
	ctx := context.Background()
	a := f.create(t, alice)

	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 70); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if got := f.get(t, a.Id); got.VaultBalance != 70 {
		t.Fatalf("expected committed balance 70, got %d", got.VaultBalance)
	}
}

func TestCustomVaultAccountAndIDs(t *testing.T) {
	shared := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	f := newFixture(t,
		WithVaultAccount(func(string) common.Address { return shared }),
		WithIDGenerator(func() string { return "fixed-id" }),
	)
	a := f.create(t, alice)
	if a.Id != "fixed-id" || a.VaultAccount != shared {
		t.Fatalf("unexpected agreement id %s vault %s", a.Id, a.VaultAccount.Hex())
	}
}

func TestInitializeAgreementOnReservedVaultAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 目标协议尚未创建时，金库地址被自动开成空账户
	if err := f.ledger.Mint(DeriveVaultAccount("future"), 0); err != nil {
		t.Fatalf("mint: %v", err)
	}
	a, err := f.logic.InitializeAgreement(ctx, CreateAgreementInput{Id: "future", Creator: alice, Title: "Future"})
	if err != nil {
		t.Fatalf("expected vault takeover, got %v", err)
	}
	f.addMilestone(t, a.Id, 100)
	if err := f.logic.FundVault(ctx, a.Id, alice, alice, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := f.logic.CompleteMilestone(ctx, a.Id, alice, 0); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.logic.ReleasePayment(ctx, a.Id, alice, alice, 0); err != nil {
		t.Fatalf("release: %v", err)
	}

	// 已有资金的派生地址不能再作为金库
	if err := f.ledger.Transfer(ctx, bob, DeriveVaultAccount("funded"), 5, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_, err = f.logic.InitializeAgreement(ctx, CreateAgreementInput{Id: "funded", Creator: alice, Title: "Funded"})
	if !errors.Is(err, ledger.ErrAccountOwned) {
		t.Fatalf("expected ErrAccountOwned, got %v", err)
	}
}
