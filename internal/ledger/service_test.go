package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jwfreed/inventory-manager-sub012/internal/balances"
	"github.com/jwfreed/inventory-manager-sub012/internal/costing"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	movements  map[int64]*Movement
	lines      map[int64][]MovementLine
	nextMoveID int64
	nextLineID int64

	balanceRows map[string]balances.Balance

	layers      map[int64]costing.CostLayer
	nextLayerID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		movements:   make(map[int64]*Movement),
		lines:       make(map[int64][]MovementLine),
		balanceRows: make(map[string]balances.Balance),
		layers:      make(map[int64]costing.CostLayer),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	cp := newMemoryRepo()
	cp.nextMoveID, cp.nextLineID, cp.nextLayerID = r.nextMoveID, r.nextLineID, r.nextLayerID
	for id, mv := range r.movements {
		c := *mv
		cp.movements[id] = &c
	}
	for id, ls := range r.lines {
		cp.lines[id] = append([]MovementLine(nil), ls...)
	}
	for k, v := range r.balanceRows {
		cp.balanceRows[k] = v
	}
	for id, l := range r.layers {
		cp.layers[id] = l
	}
	return cp
}

func (r *memoryRepo) restore(snap *memoryRepo) {
	r.movements = snap.movements
	r.lines = snap.lines
	r.balanceRows = snap.balanceRows
	r.layers = snap.layers
	r.nextMoveID, r.nextLineID, r.nextLayerID = snap.nextMoveID, snap.nextLineID, snap.nextLayerID
}

// WithTx mimics transactional behavior: any error rolls the whole state back.
// The lock serializes transactions the way conflicting row locks would.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mv, ok := r.movements[movementID]
	if !ok || mv.TenantID != tenantID {
		return Movement{}, ErrMovementNotFound
	}
	out := *mv
	out.Lines = append([]MovementLine(nil), r.lines[movementID]...)
	return out, nil
}

func (r *memoryRepo) List(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for id, mv := range r.movements {
		if mv.TenantID != filter.TenantID {
			continue
		}
		if filter.SourceType != "" && mv.SourceType != filter.SourceType {
			continue
		}
		c := *mv
		c.Lines = append([]MovementLine(nil), r.lines[id]...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, mv := range r.movements {
		if mv.TenantID == tenantID && mv.SourceType == sourceType && mv.SourceID == sourceID {
			out := *mv
			out.Lines = append([]MovementLine(nil), r.lines[id]...)
			return out, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	tx.repo.nextMoveID++
	mv.ID = tx.repo.nextMoveID
	tx.repo.movements[mv.ID] = &mv
	return mv.ID, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, movementID int64, lines []MovementLine) ([]MovementLine, error) {
	out := make([]MovementLine, 0, len(lines))
	for _, l := range lines {
		tx.repo.nextLineID++
		l.ID = tx.repo.nextLineID
		l.MovementID = movementID
		out = append(out, l)
	}
	tx.repo.lines[movementID] = append(tx.repo.lines[movementID], out...)
	return append([]MovementLine(nil), out...), nil
}

func (tx *memoryTx) SetLineCost(ctx context.Context, lineID int64, unitCost decimal.Decimal, snapshot *costing.Consumption) error {
	for movementID, ls := range tx.repo.lines {
		for i := range ls {
			if ls[i].ID == lineID {
				cost := unitCost
				ls[i].UnitCost = &cost
				ls[i].CostSnapshot = snapshot
				tx.repo.lines[movementID] = ls
				return nil
			}
		}
	}
	return ErrMovementNotFound
}

func (tx *memoryTx) GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	mv, ok := tx.repo.movements[movementID]
	if !ok || mv.TenantID != tenantID {
		return Movement{}, ErrMovementNotFound
	}
	return *mv, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, movementID int64) ([]MovementLine, error) {
	return append([]MovementLine(nil), tx.repo.lines[movementID]...), nil
}

func (tx *memoryTx) MarkPosted(ctx context.Context, tenantID, movementID int64, at time.Time) error {
	mv, ok := tx.repo.movements[movementID]
	if !ok || mv.TenantID != tenantID {
		return ErrMovementNotFound
	}
	mv.Status = StatusPosted
	mv.PostedAt = &at
	return nil
}

func (tx *memoryTx) SetReversedBy(ctx context.Context, tenantID, originalID, reversalID int64) error {
	mv, ok := tx.repo.movements[originalID]
	if !ok || mv.TenantID != tenantID {
		return ErrMovementNotFound
	}
	if mv.ReversedByID != nil {
		return ErrDuplicateReversal
	}
	mv.ReversedByID = &reversalID
	return nil
}

func (tx *memoryTx) DeleteMovement(ctx context.Context, tenantID, movementID int64) error {
	mv, ok := tx.repo.movements[movementID]
	if !ok || mv.TenantID != tenantID {
		return ErrMovementNotFound
	}
	delete(tx.repo.movements, movementID)
	delete(tx.repo.lines, movementID)
	return nil
}

func (tx *memoryTx) Balances() balances.TxStore {
	return &memoryBalanceStore{repo: tx.repo}
}

func (tx *memoryTx) Layers() costing.TxStore {
	return &memoryLayerStore{repo: tx.repo}
}

type memoryBalanceStore struct {
	repo *memoryRepo
}

func (s *memoryBalanceStore) add(key shared.StockKey, onHand, reserved decimal.Decimal) balances.Balance {
	bal := s.repo.balanceRows[key.String()]
	bal.Key = key
	bal.OnHand = bal.OnHand.Add(onHand)
	bal.Reserved = bal.Reserved.Add(reserved)
	s.repo.balanceRows[key.String()] = bal
	return bal
}

func (s *memoryBalanceStore) AddOnHand(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (balances.Balance, error) {
	return s.add(key, delta, decimal.Zero), nil
}

func (s *memoryBalanceStore) AddReserved(ctx context.Context, key shared.StockKey, delta decimal.Decimal) (balances.Balance, error) {
	return s.add(key, decimal.Zero, delta), nil
}

func (s *memoryBalanceStore) GetForUpdate(ctx context.Context, key shared.StockKey) (balances.Balance, error) {
	return s.Get(ctx, key)
}

func (s *memoryBalanceStore) Get(ctx context.Context, key shared.StockKey) (balances.Balance, error) {
	if bal, ok := s.repo.balanceRows[key.String()]; ok {
		return bal, nil
	}
	return balances.Balance{Key: key}, balances.ErrBalanceNotFound
}

type memoryLayerStore struct {
	repo *memoryRepo
}

func (s *memoryLayerStore) InsertLayer(ctx context.Context, layer costing.CostLayer) (int64, error) {
	s.repo.nextLayerID++
	layer.ID = s.repo.nextLayerID
	s.repo.layers[layer.ID] = layer
	return layer.ID, nil
}

func (s *memoryLayerStore) LayersForConsume(ctx context.Context, key shared.StockKey) ([]costing.CostLayer, error) {
	var out []costing.CostLayer
	for _, l := range s.repo.layers {
		if l.Key == key && l.Eligible() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LayerDate.Equal(out[j].LayerDate) {
			return out[i].LayerDate.Before(out[j].LayerDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryLayerStore) UpdateRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	l, ok := s.repo.layers[layerID]
	if !ok {
		return costing.ErrLayerNotFound
	}
	l.RemainingQty = remaining
	s.repo.layers[layerID] = l
	return nil
}

func (s *memoryLayerStore) GetLayerForUpdate(ctx context.Context, tenantID, layerID int64) (costing.CostLayer, error) {
	l, ok := s.repo.layers[layerID]
	if !ok || l.Key.TenantID != tenantID {
		return costing.CostLayer{}, costing.ErrLayerNotFound
	}
	return l, nil
}

func (s *memoryLayerStore) LayersBySourceLine(ctx context.Context, tenantID, lineID int64) ([]costing.CostLayer, error) {
	var out []costing.CostLayer
	for _, l := range s.repo.layers {
		if l.Key.TenantID == tenantID && l.SourceLineID == lineID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memoryLayerStore) MarkVoided(ctx context.Context, layerID int64, reason string, at time.Time) error {
	l, ok := s.repo.layers[layerID]
	if !ok {
		return costing.ErrLayerNotFound
	}
	l.VoidedAt = &at
	l.VoidReason = reason
	s.repo.layers[layerID] = l
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, scope string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type eventRecorder struct {
	events []SupplyIncreasedEvent
}

func (r *eventRecorder) HandleSupplyIncreased(ctx context.Context, evt SupplyIncreasedEvent) error {
	r.events = append(r.events, evt)
	return nil
}

type bumpCounter struct {
	bumps int
}

func (b *bumpCounter) Bump(ctx context.Context) error {
	b.bumps++
	return nil
}

func moveKey() shared.StockKey {
	return shared.StockKey{TenantID: 1, ItemID: 50, LocationID: 3, UOM: "EA"}
}

func occurred() time.Time {
	return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
}

func costPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func receiptReq(qty, cost string) MovementRequest {
	return MovementRequest{
		TenantID:   1,
		Type:       TypeReceipt,
		OccurredAt: occurred(),
		Lines: []LineRequest{
			{ItemID: 50, LocationID: 3, UOM: "EA", Qty: decimal.RequireFromString(qty), UnitCost: costPtr(cost)},
		},
	}
}

func issueReq(qty string) MovementRequest {
	return MovementRequest{
		TenantID:   1,
		Type:       TypeIssue,
		OccurredAt: occurred(),
		Lines: []LineRequest{
			{ItemID: 50, LocationID: 3, UOM: "EA", Qty: decimal.RequireFromString(qty).Neg(), ReasonCode: "SHIP"},
		},
	}
}

func (r *memoryRepo) onHand(key shared.StockKey) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceRows[key.String()].OnHand
}

func TestPostReceiptProjectsBalanceAndLayer(t *testing.T) {
	repo := newMemoryRepo()
	recorder := &eventRecorder{}
	bumps := &bumpCounter{}
	svc := NewService(repo, ServiceConfig{Integration: recorder, Valuation: bumps})
	ctx := context.Background()

	mv, err := svc.Post(ctx, receiptReq("10", "2.50"))
	require.NoError(t, err)
	require.Equal(t, StatusPosted, mv.Status)
	require.NotNil(t, mv.PostedAt)
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(10)))

	require.Len(t, repo.layers, 1)
	for _, layer := range repo.layers {
		require.True(t, layer.RemainingQty.Equal(decimal.NewFromInt(10)))
		require.True(t, layer.UnitCost.Equal(decimal.RequireFromString("2.50")))
		require.Equal(t, mv.Lines[0].ID, layer.SourceLineID)
	}

	require.Len(t, recorder.events, 1)
	require.True(t, recorder.events[0].Qty.Equal(decimal.NewFromInt(10)))
	require.Equal(t, mv.ID, recorder.events[0].MovementID)
	require.Equal(t, 1, bumps.bumps)
}

func TestPostIssueConsumesFIFOAndSnapshotsCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Post(ctx, receiptReq("100", "2.00"))
	require.NoError(t, err)
	later := receiptReq("50", "3.00")
	later.OccurredAt = occurred().Add(24 * time.Hour)
	_, err = svc.Post(ctx, later)
	require.NoError(t, err)

	mv, err := svc.Post(ctx, issueReq("120"))
	require.NoError(t, err)
	line := mv.Lines[0]
	require.NotNil(t, line.UnitCost)
	require.True(t, line.UnitCost.Equal(decimal.RequireFromString("2.1667")), "weighted = %s", line.UnitCost)
	require.NotNil(t, line.CostSnapshot)
	require.Len(t, line.CostSnapshot.Layers, 2)
	require.True(t, line.CostSnapshot.TotalCost.Equal(decimal.RequireFromString("260")))

	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(30)))
}

func TestPostInsufficientStockRollsBackEverything(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Post(ctx, receiptReq("5", "1.00"))
	require.NoError(t, err)

	_, err = svc.Post(ctx, issueReq("6"))
	require.ErrorIs(t, err, costing.ErrInsufficientCostedStock)

	// Nothing may partially apply: balance and movement count are untouched.
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(5)))
	require.Len(t, repo.movements, 1)
}

func TestPostBestEffortCostingPostsUncosted(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{CostingPolicy: CostingBestEffort})
	ctx := context.Background()

	// No layers at all; the issue still posts with a zero-cost snapshot.
	mv, err := svc.Post(ctx, issueReq("4"))
	require.NoError(t, err)
	line := mv.Lines[0]
	require.NotNil(t, line.UnitCost)
	require.True(t, line.UnitCost.IsZero())
	require.NotNil(t, line.CostSnapshot)
	require.True(t, line.CostSnapshot.TotalCost.IsZero())
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(-4)))
}

func TestPostIdempotentReplayReturnsOriginal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{Idempotency: newMemoryIdempotency()})
	ctx := context.Background()

	req := receiptReq("10", "2.00")
	req.SourceType = "purchase_order"
	req.SourceID = uuid.NewString()

	first, err := svc.Post(ctx, req)
	require.NoError(t, err)

	second, err := svc.Post(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "replay must return the original movement")

	require.Len(t, repo.movements, 1)
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(10)), "replay must not double-apply")
}

func TestPostReleasesIdempotencyKeyOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{Idempotency: newMemoryIdempotency()})
	ctx := context.Background()

	req := issueReq("5")
	req.SourceType = "sales_order"
	req.SourceID = uuid.NewString()

	_, err := svc.Post(ctx, req)
	require.ErrorIs(t, err, costing.ErrInsufficientCostedStock)

	// After supply arrives the same source reference must be postable.
	_, err = svc.Post(ctx, receiptReq("10", "1.00"))
	require.NoError(t, err)
	mv, err := svc.Post(ctx, req)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, mv.Status)
}

func TestPostNetsMultipleLinesPerKey(t *testing.T) {
	repo := newMemoryRepo()
	recorder := &eventRecorder{}
	svc := NewService(repo, ServiceConfig{Integration: recorder})
	ctx := context.Background()

	req := MovementRequest{
		TenantID:   1,
		Type:       TypeAdjustment,
		OccurredAt: occurred(),
		Lines: []LineRequest{
			{ItemID: 50, LocationID: 3, UOM: "EA", Qty: decimal.NewFromInt(10), ReasonCode: "COUNT"},
			{ItemID: 50, LocationID: 3, UOM: "EA", Qty: decimal.NewFromInt(-3), ReasonCode: "COUNT"},
		},
	}
	_, err := svc.Post(ctx, req)
	require.NoError(t, err)
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(7)))

	require.Len(t, recorder.events, 1)
	require.True(t, recorder.events[0].Qty.Equal(decimal.NewFromInt(7)), "event carries the net, not the gross")
}

func TestPostTransferMovesBetweenLocations(t *testing.T) {
	repo := newMemoryRepo()
	recorder := &eventRecorder{}
	svc := NewService(repo, ServiceConfig{Integration: recorder})
	ctx := context.Background()

	_, err := svc.Post(ctx, receiptReq("10", "1.00"))
	require.NoError(t, err)
	recorder.events = nil

	req := MovementRequest{
		TenantID:   1,
		Type:       TypeTransfer,
		OccurredAt: occurred(),
		Lines: []LineRequest{
			{ItemID: 50, LocationID: 3, UOM: "EA", Qty: decimal.NewFromInt(-4)},
			{ItemID: 50, LocationID: 8, UOM: "EA", Qty: decimal.NewFromInt(4)},
		},
	}
	_, err = svc.Post(ctx, req)
	require.NoError(t, err)

	dest := shared.StockKey{TenantID: 1, ItemID: 50, LocationID: 8, UOM: "EA"}
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(6)))
	require.True(t, repo.onHand(dest).Equal(decimal.NewFromInt(4)))

	// Only the receiving side raises supply.
	require.Len(t, recorder.events, 1)
	require.Equal(t, dest, recorder.events[0].Key)
}

func TestPostValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	ctx := context.Background()

	req := receiptReq("10", "1.00")
	req.Type = MovementType("teleport")
	_, err := svc.Post(ctx, req)
	require.ErrorIs(t, err, ErrInvalidMovementLines)

	req = receiptReq("10", "1.00")
	req.Lines[0].Qty = decimal.Zero
	_, err = svc.Post(ctx, req)
	require.ErrorIs(t, err, ErrInvalidMovementLines)

	req = receiptReq("10", "1.00")
	req.SourceType = "purchase_order"
	_, err = svc.Post(ctx, req)
	require.ErrorIs(t, err, ErrInvalidMovementLines, "source type without id must fail")

	req = receiptReq("10", "1.00")
	req.Lines = nil
	_, err = svc.Post(ctx, req)
	require.ErrorIs(t, err, ErrInvalidMovementLines)

	req = receiptReq("10", "1.00")
	req.ReversalOfID = 7
	_, err = svc.Post(ctx, req)
	require.ErrorIs(t, err, ErrInvalidMovementLines, "only reversals may carry a reversal link")
}

func TestReverseReceiptRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	orig, err := svc.Post(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)

	rev, err := svc.Reverse(ctx, 1, orig.ID, 0, "duplicate receipt")
	require.NoError(t, err)
	require.Equal(t, TypeReceiptReversal, rev.Type)
	require.NotNil(t, rev.ReversalOfID)
	require.Equal(t, orig.ID, *rev.ReversalOfID)
	require.True(t, rev.Lines[0].Qty.Equal(decimal.NewFromInt(-10)))

	// Balance is back to zero and the original layer is voided.
	require.True(t, repo.onHand(moveKey()).IsZero())
	for _, layer := range repo.layers {
		require.NotNil(t, layer.VoidedAt)
		require.Equal(t, "duplicate receipt", layer.VoidReason)
	}

	stored, err := svc.Get(ctx, 1, orig.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReversedByID)
	require.Equal(t, rev.ID, *stored.ReversedByID)
}

func TestReverseTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	orig, err := svc.Post(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, 1, orig.ID, 0, "dup")
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, 1, orig.ID, 0, "dup again")
	require.ErrorIs(t, err, ErrDuplicateReversal)
}

func TestReverseIssueRestoresStockAtSnapshotCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Post(ctx, receiptReq("100", "2.00"))
	require.NoError(t, err)
	issue, err := svc.Post(ctx, issueReq("40"))
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, 1, issue.ID, 0, "ship canceled")
	require.NoError(t, err)

	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(100)))

	// A fresh layer carries the issue's weighted cost back in.
	total := decimal.Zero
	for _, layer := range repo.layers {
		if layer.Eligible() {
			total = total.Add(layer.RemainingQty)
			require.True(t, layer.UnitCost.Equal(decimal.RequireFromString("2")), "restored at %s", layer.UnitCost)
		}
	}
	require.True(t, total.Equal(decimal.NewFromInt(100)))
}

func TestReverseGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Reverse(ctx, 1, 99, 0, "missing")
	require.ErrorIs(t, err, ErrMovementNotFound)

	orig, err := svc.Post(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, 1, orig.ID, 0, "")
	require.ErrorIs(t, err, ErrReversalReasonRequired)

	rev, err := svc.Reverse(ctx, 1, orig.ID, 0, "dup")
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, 1, rev.ID, 0, "undo the undo")
	require.ErrorIs(t, err, ErrNotReversible)

	draft, err := svc.SaveDraft(ctx, receiptReq("5", "1.00"))
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, 1, draft.ID, 0, "not posted")
	require.ErrorIs(t, err, ErrNotReversible)
}

func TestDraftLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	draft, err := svc.SaveDraft(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, draft.Status)
	require.True(t, repo.onHand(moveKey()).IsZero(), "drafts must not touch projections")
	require.Empty(t, repo.layers)

	posted, err := svc.PostDraft(ctx, 1, draft.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(10)))
	require.Len(t, repo.layers, 1)

	_, err = svc.PostDraft(ctx, 1, draft.ID, 0)
	require.ErrorIs(t, err, ErrMovementNotDraft)
	require.ErrorIs(t, svc.Cancel(ctx, 1, draft.ID), ErrMovementNotDraft)
}

func TestCancelDraftDeletes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	draft, err := svc.SaveDraft(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 1, draft.ID))

	_, err = svc.Get(ctx, 1, draft.ID)
	require.ErrorIs(t, err, ErrMovementNotFound)
}

func TestSaveDraftRejectsReversal(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})

	req := receiptReq("10", "2.00")
	req.Type = TypeReceiptReversal
	req.ReversalOfID = 1
	req.ReversalReason = "no drafting"
	_, err := svc.SaveDraft(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidMovementLines)
}

func TestTenantIsolation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	orig, err := svc.Post(ctx, receiptReq("10", "2.00"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, orig.ID)
	require.ErrorIs(t, err, ErrMovementNotFound)
	_, err = svc.Reverse(ctx, 2, orig.ID, 0, "wrong tenant")
	require.ErrorIs(t, err, ErrMovementNotFound)
}

func TestConcurrentPostingsConverge(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Post(ctx, receiptReq("20", "1.00"))
	require.NoError(t, err)

	// A receipt and an issue race against the same stock key; whichever
	// order they commit in, neither update may be lost.
	var g errgroup.Group
	g.Go(func() error {
		_, err := svc.Post(ctx, receiptReq("10", "1.00"))
		return err
	})
	g.Go(func() error {
		_, err := svc.Post(ctx, issueReq("3"))
		return err
	})
	require.NoError(t, g.Wait())

	require.True(t, repo.onHand(moveKey()).Equal(decimal.NewFromInt(27)), "on-hand = %s", repo.onHand(moveKey()))
	movements, err := svc.List(ctx, MovementFilter{TenantID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 3)
}

type auditRecorder struct {
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestAuditTrailNamesActor(t *testing.T) {
	repo := newMemoryRepo()
	audit := &auditRecorder{}
	svc := NewService(repo, ServiceConfig{Audit: audit})
	ctx := context.Background()

	req := receiptReq("10", "2.00")
	req.ActorID = 42
	orig, err := svc.Post(ctx, req)
	require.NoError(t, err)

	draft, err := svc.SaveDraft(ctx, receiptReq("5", "1.00"))
	require.NoError(t, err)
	_, err = svc.PostDraft(ctx, 1, draft.ID, 43)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, 1, orig.ID, 44, "duplicate receipt")
	require.NoError(t, err)

	require.Len(t, audit.logs, 3)
	require.Equal(t, int64(42), audit.logs[0].ActorID)
	require.Equal(t, int64(43), audit.logs[1].ActorID)
	require.Equal(t, int64(44), audit.logs[2].ActorID)
}
