package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okello/airlift/internal/eligibility"
	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/notify"
	"github.com/okello/airlift/internal/repository"
	"github.com/okello/airlift/internal/settings"
)

// ─── In-memory store ────────────────────────────────────────
//
// memStore mirrors the repository's guard semantics so lifecycle scenarios
// run without a database. Guards that fail report no-ops, exactly like the
// SQL transitions.

type memStore struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	jobs     map[string]*model.Job
	bids     map[string]*model.Bid
}

func newMemStore() *memStore {
	return &memStore{
		bookings: make(map[string]*model.Booking),
		jobs:     make(map[string]*model.Job),
		bids:     make(map[string]*model.Bid),
	}
}

func (m *memStore) CreateJob(_ context.Context, booking *model.Booking, job *model.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.BookingID == booking.ID {
			return false, nil
		}
	}
	b := *booking
	m.bookings[b.ID] = &b
	j := *job
	j.Status = model.JobOpenForBidding
	j.CreatedAt = job.BiddingOpensAt
	j.UpdatedAt = job.BiddingOpensAt
	m.jobs[j.ID] = &j
	return true, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetJobByBookingID(_ context.Context, bookingID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.BookingID == bookingID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// lowestPending returns the best pending bid in tie-break order.
func (m *memStore) lowestPending(jobID string) *model.Bid {
	var pending []*model.Bid
	for _, b := range m.bids {
		if b.JobID == jobID && b.Status == model.BidPending {
			pending = append(pending, b)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if c := pending[i].Amount.Cmp(pending[j].Amount); c != 0 {
			return c < 0
		}
		if !pending[i].SubmittedAt.Equal(pending[j].SubmittedAt) {
			return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	return pending[0]
}

func (m *memStore) extendOffer(job *model.Job, bid *model.Bid, now time.Time, window time.Duration, attempt int) {
	bid.Status = model.BidOffered
	t := now
	bid.OfferedAt = &t
	closes := now.Add(window)
	job.Status = model.JobPendingAcceptance
	job.CurrentOfferedBidID = &bid.ID
	job.AcceptanceOpensAt = &t
	job.AcceptanceClosesAt = &closes
	job.AcceptanceAttempts = attempt
	job.UpdatedAt = now
}

func (m *memStore) CloseBidding(_ context.Context, jobID string, now time.Time, window time.Duration) (repository.CloseOutcome, *model.Bid, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return repository.CloseNoop, nil, 0, repository.ErrNotFound
	}
	if job.Status != model.JobOpenForBidding {
		return repository.CloseNoop, nil, 0, nil
	}
	next := m.lowestPending(jobID)
	if next == nil {
		job.Status = model.JobNoBidsReceived
		job.UpdatedAt = now
		return repository.ClosedNoBids, nil, 0, nil
	}
	attempt := job.AcceptanceAttempts + 1
	m.extendOffer(job, next, now, window, attempt)
	cp := *next
	return repository.ClosedOffered, &cp, attempt, nil
}

func (m *memStore) AdvanceCascade(_ context.Context, jobID, expectBidID, operatorID string, guard repository.DeadlineGuard, now time.Time, window time.Duration) (repository.CascadeOutcome, *model.Bid, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return repository.CascadeNoop, nil, 0, repository.ErrNotFound
	}
	if job.Status != model.JobPendingAcceptance ||
		job.CurrentOfferedBidID == nil || *job.CurrentOfferedBidID != expectBidID ||
		job.AcceptanceClosesAt == nil {
		return repository.CascadeNoop, nil, 0, nil
	}
	switch guard {
	case repository.BeforeDeadline:
		if now.After(*job.AcceptanceClosesAt) {
			return repository.CascadeNoop, nil, 0, nil
		}
	case repository.AfterDeadline:
		if now.Before(*job.AcceptanceClosesAt) {
			return repository.CascadeNoop, nil, 0, nil
		}
	}
	bid := m.bids[expectBidID]
	if operatorID != "" && bid.OperatorID != operatorID {
		return repository.CascadeNoop, nil, 0, repository.ErrNotBidOwner
	}

	bid.Status = model.BidDeclined
	t := now
	bid.RespondedAt = &t

	next := m.lowestPending(jobID)
	if next == nil {
		job.Status = model.JobNoBidsReceived
		job.CurrentOfferedBidID = nil
		job.AcceptanceOpensAt = nil
		job.AcceptanceClosesAt = nil
		job.UpdatedAt = now
		return repository.CascadeExhausted, nil, 0, nil
	}
	attempt := job.AcceptanceAttempts + 1
	m.extendOffer(job, next, now, window, attempt)
	cp := *next
	return repository.CascadeOffered, &cp, attempt, nil
}

func (m *memStore) commitAssignment(job *model.Job, winner *model.Bid, now time.Time) *repository.AssignResult {
	winner.Status = model.BidWon
	t := now
	winner.RespondedAt = &t
	for _, b := range m.bids {
		if b.JobID == job.ID && b.ID != winner.ID &&
			(b.Status == model.BidPending || b.Status == model.BidOffered) {
			b.Status = model.BidLost
		}
	}
	margin := m.bookings[job.BookingID].CustomerPrice.Sub(winner.Amount)
	job.Status = model.JobAssigned
	job.AssignedOperatorID = &winner.OperatorID
	job.WinningBidID = &winner.ID
	job.PlatformMargin = &margin
	job.CurrentOfferedBidID = nil
	job.AcceptanceOpensAt = nil
	job.AcceptanceClosesAt = nil
	job.UpdatedAt = now
	m.bookings[job.BookingID].Assigned = true
	return &repository.AssignResult{Job: *job, WinningBid: *winner, Margin: margin}
}

func (m *memStore) AcceptOffer(_ context.Context, jobID, bidID, operatorID string, now time.Time) (*repository.AssignResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if job.Status != model.JobPendingAcceptance ||
		job.CurrentOfferedBidID == nil || *job.CurrentOfferedBidID != bidID ||
		job.AcceptanceClosesAt == nil || now.After(*job.AcceptanceClosesAt) {
		return nil, false, nil
	}
	bid := m.bids[bidID]
	if bid.OperatorID != operatorID {
		return nil, false, repository.ErrNotBidOwner
	}
	return m.commitAssignment(job, bid, now), true, nil
}

func (m *memStore) ManualAssign(_ context.Context, jobID, operatorID string, amount decimal.Decimal, now time.Time) (*repository.AssignResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	switch job.Status {
	case model.JobAssigned, model.JobCancelled, model.JobCompleted:
		return nil, false, nil
	}
	var bid *model.Bid
	for _, b := range m.bids {
		if b.JobID == jobID && b.OperatorID == operatorID && b.Status != model.BidWithdrawn {
			bid = b
			break
		}
	}
	if bid == nil {
		notes := "manual assignment"
		bid = &model.Bid{
			ID:          uuid.NewString(),
			JobID:       jobID,
			OperatorID:  operatorID,
			Amount:      amount,
			Notes:       &notes,
			Status:      model.BidPending,
			SubmittedAt: now,
		}
		m.bids[bid.ID] = bid
	} else {
		bid.Amount = amount
	}
	return m.commitAssignment(job, bid, now), true, nil
}

func (m *memStore) ReopenBidding(_ context.Context, jobID string, hours int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != model.JobNoBidsReceived {
		return false, nil
	}
	job.Status = model.JobOpenForBidding
	job.BiddingOpensAt = now
	job.BiddingClosesAt = now.Add(time.Duration(hours) * time.Hour)
	job.BiddingDurationHrs = hours
	job.UpdatedAt = now
	return true, nil
}

func (m *memStore) CancelJob(_ context.Context, jobID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.Status != model.JobOpenForBidding && job.Status != model.JobPendingAcceptance {
		return false, nil
	}
	job.Status = model.JobCancelled
	job.CurrentOfferedBidID = nil
	job.AcceptanceOpensAt = nil
	job.AcceptanceClosesAt = nil
	job.UpdatedAt = now
	for _, b := range m.bids {
		if b.JobID == jobID && (b.Status == model.BidPending || b.Status == model.BidOffered) {
			b.Status = model.BidLost
		}
	}
	return true, nil
}

func (m *memStore) CompleteJob(_ context.Context, jobID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != model.JobAssigned {
		return false, nil
	}
	job.Status = model.JobCompleted
	t := now
	job.CompletedAt = &t
	job.UpdatedAt = now
	return true, nil
}

func (m *memStore) UpsertBid(_ context.Context, jobID, operatorID string, amount decimal.Decimal, notes *string, now time.Time) (*model.Bid, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if job.Status != model.JobOpenForBidding || !now.Before(job.BiddingClosesAt) {
		return nil, false, repository.ErrJobClosed
	}
	for _, b := range m.bids {
		if b.JobID == jobID && b.OperatorID == operatorID && b.Status != model.BidWithdrawn {
			switch b.Status {
			case model.BidPending:
				b.Amount = amount
				b.Notes = notes
				cp := *b
				return &cp, false, nil
			case model.BidDeclined, model.BidLost:
				b.Amount = amount
				b.Notes = notes
				b.Status = model.BidPending
				b.SubmittedAt = now
				b.OfferedAt = nil
				b.RespondedAt = nil
				cp := *b
				return &cp, true, nil
			default:
				return nil, false, repository.ErrBidNotPending
			}
		}
	}
	b := &model.Bid{
		ID:          uuid.NewString(),
		JobID:       jobID,
		OperatorID:  operatorID,
		Amount:      amount,
		Notes:       notes,
		Status:      model.BidPending,
		SubmittedAt: now,
	}
	m.bids[b.ID] = b
	cp := *b
	return &cp, true, nil
}

func (m *memStore) WithdrawBid(_ context.Context, bidID, operatorID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[bidID]
	if !ok {
		return repository.ErrNotFound
	}
	if b.OperatorID != operatorID {
		return repository.ErrNotBidOwner
	}
	job := m.jobs[b.JobID]
	if job.Status != model.JobOpenForBidding {
		return repository.ErrJobClosed
	}
	if b.Status != model.BidPending {
		return repository.ErrBidNotPending
	}
	b.Status = model.BidWithdrawn
	t := now
	b.RespondedAt = &t
	return nil
}

func (m *memStore) GetBid(_ context.Context, id string) (*model.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListOffersByOperator(_ context.Context, operatorID string) ([]repository.OfferRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.OfferRow
	for _, j := range m.jobs {
		if j.Status != model.JobPendingAcceptance || j.CurrentOfferedBidID == nil {
			continue
		}
		b := m.bids[*j.CurrentOfferedBidID]
		if b.OperatorID != operatorID {
			continue
		}
		bk := m.bookings[j.BookingID]
		out = append(out, repository.OfferRow{
			Bid:                *b,
			JobID:              j.ID,
			BookingID:          bk.ID,
			AcceptanceClosesAt: *j.AcceptanceClosesAt,
			PickupAddress:      bk.PickupAddress,
			DropoffAddress:     bk.DropoffAddress,
			PickupDatetime:     bk.PickupDatetime,
			VehicleType:        bk.VehicleType,
		})
	}
	return out, nil
}

func (m *memStore) ListBidsByOperator(_ context.Context, operatorID string, limit int) ([]model.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Bid
	for _, b := range m.bids {
		if b.OperatorID == operatorID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListBidsForJob(_ context.Context, jobID string) ([]model.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Bid
	for _, b := range m.bids {
		if b.JobID == jobID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c < 0
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// ─── Fake scheduler and notifier ────────────────────────────

type schedCall struct {
	ExternalID string
	Kind       model.TimerKind
	Payload    []byte
	FireAt     time.Time
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []schedCall
	cancelled []string
}

func (f *fakeScheduler) Schedule(_ context.Context, externalID string, kind model.TimerKind, payload []byte, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, schedCall{externalID, kind, payload, fireAt})
	return nil
}

func (f *fakeScheduler) Cancel(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, externalID)
	return nil
}

func (f *fakeScheduler) scheduleCount(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.scheduled {
		if c.ExternalID == externalID {
			n++
		}
	}
	return n
}

func (f *fakeScheduler) wasCancelled(externalID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.cancelled {
		if id == externalID {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (f *fakeNotifier) Publish(intent notify.Intent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
}

func (f *fakeNotifier) ofKind(kind notify.Kind) []notify.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Intent
	for _, i := range f.intents {
		if i.Kind == kind {
			out = append(out, i)
		}
	}
	return out
}

// ─── Settings and operator fakes ────────────────────────────

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

type fakeOps struct {
	operators map[string]*model.Operator
}

func (f *fakeOps) GetOperator(_ context.Context, id string) (*model.Operator, error) {
	op, ok := f.operators[id]
	if !ok {
		return nil, eligibility.ErrOperatorNotFound
	}
	return op, nil
}

func (f *fakeOps) ListApprovedByVehicleType(_ context.Context, vehicleType string) ([]model.Operator, error) {
	var ids []string
	for id := range f.operators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []model.Operator
	for _, id := range ids {
		op := f.operators[id]
		if op.Approval == model.OperatorApproved && op.HasVehicleType(vehicleType) {
			out = append(out, *op)
		}
	}
	return out, nil
}

// ─── Harness ────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) SetTo(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type engineHarness struct {
	svc   *AuctionService
	store *memStore
	sched *fakeScheduler
	notif *fakeNotifier
	sets  *memSettings
	ops   *fakeOps
	clock *fakeClock
}

func approvedOperator(id string) *model.Operator {
	never := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Operator{
		ID:           id,
		Name:         "Operator " + id,
		Approval:     model.OperatorApproved,
		ServiceAreas: []string{"TW6", "UB3"},
		VehicleTypes: []string{"SALOON", "MPV"},
		Documents: []model.OperatorDocument{
			{Type: model.DocOperatingLicense, ExpiresAt: &never},
			{Type: model.DocInsurance, ExpiresAt: &never},
		},
	}
}

func newHarness() *engineHarness {
	store := newMemStore()
	sched := &fakeScheduler{}
	notif := &fakeNotifier{}
	sets := &memSettings{}
	ops := &fakeOps{operators: map[string]*model.Operator{
		"op-a": approvedOperator("op-a"),
		"op-b": approvedOperator("op-b"),
		"op-c": approvedOperator("op-c"),
	}}
	provider := settings.New(sets, nil)
	filter := eligibility.New(ops, provider)
	clock := &fakeClock{t: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}

	svc := New(store, sched, notif, filter, provider, Config{})
	svc.now = clock.Now
	return &engineHarness{svc: svc, store: store, sched: sched, notif: notif, sets: sets, ops: ops, clock: clock}
}

func paidEvent(bookingID, price string) model.BookingPaid {
	postcode := "TW6 1EW"
	amount, _ := decimal.NewFromString(price)
	return model.BookingPaid{
		BookingID:      bookingID,
		CustomerID:     "cust-1",
		CustomerPrice:  amount,
		PickupAddress:  "Heathrow Terminal 5",
		PickupPostcode: &postcode,
		DropoffAddress: "12 King Street, Richmond",
		VehicleType:    "SALOON",
		PickupDatetime: time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC),
		JourneyType:    model.JourneyOneWay,
	}
}
