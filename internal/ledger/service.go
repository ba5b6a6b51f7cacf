package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/balances"
	"github.com/jwfreed/inventory-manager-sub012/internal/costing"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, movementID int64) (Movement, error)
	List(ctx context.Context, filter MovementFilter) ([]Movement, error)
	FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (Movement, error)
}

// TxRepository exposes transactional operations used by the service. The
// Balances and Layers stores participate in the same transaction, so a
// posting either applies everywhere or nowhere.
type TxRepository interface {
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	InsertLines(ctx context.Context, movementID int64, lines []MovementLine) ([]MovementLine, error)
	SetLineCost(ctx context.Context, lineID int64, unitCost decimal.Decimal, snapshot *costing.Consumption) error
	GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (Movement, error)
	GetLines(ctx context.Context, movementID int64) ([]MovementLine, error)
	MarkPosted(ctx context.Context, tenantID, movementID int64, at time.Time) error
	SetReversedBy(ctx context.Context, tenantID, originalID, reversalID int64) error
	DeleteMovement(ctx context.Context, tenantID, movementID int64) error
	Balances() balances.TxStore
	Layers() costing.TxStore
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims and releases source-reference keys. Satisfied by
// shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// ReferenceResolver checks that item/location/uom references exist in the
// surrounding application's master data. Nil skips the check.
type ReferenceResolver interface {
	ResolveLines(ctx context.Context, tenantID int64, lines []LineRequest) error
}

// ValuationInvalidator is bumped after any posting that touched cost layers.
type ValuationInvalidator interface {
	Bump(ctx context.Context) error
}

// CostingPolicy decides what a FIFO shortfall does to an outbound posting.
type CostingPolicy string

const (
	// CostingRequired rejects the posting on shortfall.
	CostingRequired CostingPolicy = "required"
	// CostingBestEffort posts the line with a zero-cost snapshot.
	CostingBestEffort CostingPolicy = "best_effort"
)

// ServiceConfig groups the service collaborators. Audit, Resolver,
// Integration, Valuation, Idempotency and Logger are optional.
type ServiceConfig struct {
	Projector     *balances.Projector
	Engine        *costing.Engine
	Idempotency   IdempotencyPort
	Audit         AuditPort
	Resolver      ReferenceResolver
	Integration   IntegrationHandler
	Valuation     ValuationInvalidator
	Logger        *slog.Logger
	CostingPolicy CostingPolicy
}

// Service coordinates the movement ledger: validation, posting, drafts,
// reversal, and the audit trail.
type Service struct {
	repo        RepositoryPort
	projector   *balances.Projector
	engine      *costing.Engine
	idempotency IdempotencyPort
	audit       AuditPort
	resolver    ReferenceResolver
	integration IntegrationHandler
	valuation   ValuationInvalidator
	validate    *validator.Validate
	logger      *slog.Logger
	policy      CostingPolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Projector == nil {
		cfg.Projector = balances.NewProjector()
	}
	if cfg.Engine == nil {
		cfg.Engine = costing.NewEngine()
	}
	if cfg.CostingPolicy == "" {
		cfg.CostingPolicy = CostingRequired
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		projector:   cfg.Projector,
		engine:      cfg.Engine,
		idempotency: cfg.Idempotency,
		audit:       cfg.Audit,
		resolver:    cfg.Resolver,
		integration: cfg.Integration,
		valuation:   cfg.Valuation,
		validate:    validator.New(),
		logger:      cfg.Logger,
		policy:      cfg.CostingPolicy,
	}
}

type postResult struct {
	movement      Movement
	increases     []SupplyIncreasedEvent
	layersTouched bool
	actorID       int64
}

// Post validates and posts a movement atomically: header and lines are
// inserted, balance deltas applied, and cost layers received or consumed in
// one transaction. When the request carries a source reference the posting
// is idempotent: a retried request returns the originally posted movement.
func (s *Service) Post(ctx context.Context, req MovementRequest) (Movement, error) {
	if err := s.validateRequest(ctx, req); err != nil {
		return Movement{}, err
	}
	var idemKey string
	insertedKey := false
	if s.idempotency != nil && req.SourceType != "" && req.SourceID != "" {
		idemKey = shared.SourceKey(req.TenantID, req.SourceType, req.SourceID)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "ledger"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return s.repo.FindBySource(ctx, req.TenantID, req.SourceType, req.SourceID)
			}
			return Movement{}, err
		}
		insertedKey = true
	}
	var result postResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.postInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Movement{}, err
	}
	result.actorID = req.ActorID
	s.afterPost(ctx, result)
	return result.movement, nil
}

// SaveDraft stores a movement without touching any projection. Drafts may
// later be posted or canceled; reversals cannot be drafted.
func (s *Service) SaveDraft(ctx context.Context, req MovementRequest) (Movement, error) {
	if err := s.validateRequest(ctx, req); err != nil {
		return Movement{}, err
	}
	if req.Type == TypeReceiptReversal {
		return Movement{}, fmt.Errorf("%w: reversals post immediately", ErrInvalidMovementLines)
	}
	var mv Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, err = s.insertMovement(ctx, tx, req, StatusDraft)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// PostDraft promotes a draft to posted, applying balance and cost effects
// exactly as a direct posting would. The actor lands on the audit entry.
func (s *Service) PostDraft(ctx context.Context, tenantID, movementID, actorID int64) (Movement, error) {
	var result postResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := tx.GetMovementForUpdate(ctx, tenantID, movementID)
		if err != nil {
			return err
		}
		if mv.Status != StatusDraft {
			return ErrMovementNotDraft
		}
		now := time.Now().UTC()
		if err := tx.MarkPosted(ctx, tenantID, movementID, now); err != nil {
			return err
		}
		mv.Status = StatusPosted
		mv.PostedAt = &now
		lines, err := tx.GetLines(ctx, movementID)
		if err != nil {
			return err
		}
		mv.Lines = lines
		result, err = s.applyPosting(ctx, tx, mv)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	result.actorID = actorID
	s.afterPost(ctx, result)
	return result.movement, nil
}

// Cancel removes a draft movement and its lines. Posted movements are
// immutable; use Reverse instead.
func (s *Service) Cancel(ctx context.Context, tenantID, movementID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		mv, err := tx.GetMovementForUpdate(ctx, tenantID, movementID)
		if err != nil {
			return err
		}
		if mv.Status != StatusDraft {
			return ErrMovementNotDraft
		}
		return tx.DeleteMovement(ctx, tenantID, movementID)
	})
}

// Reverse emits a compensating movement that negates every line of the
// original, links both directions, and posts through the normal path. A
// movement can be reversed at most once.
func (s *Service) Reverse(ctx context.Context, tenantID, movementID, actorID int64, reason string) (Movement, error) {
	if reason == "" {
		return Movement{}, ErrReversalReasonRequired
	}
	var result postResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetMovementForUpdate(ctx, tenantID, movementID); err != nil {
			return err
		}
		origLines, err := tx.GetLines(ctx, movementID)
		if err != nil {
			return err
		}
		req := MovementRequest{
			TenantID:       tenantID,
			ActorID:        actorID,
			Type:           TypeReceiptReversal,
			OccurredAt:     time.Now().UTC(),
			ReversalOfID:   movementID,
			ReversalReason: reason,
			Lines:          negateLines(origLines),
		}
		result, err = s.postInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	result.actorID = actorID
	s.afterPost(ctx, result)
	return result.movement, nil
}

// Get returns one movement with its lines.
func (s *Service) Get(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	return s.repo.Get(ctx, tenantID, movementID)
}

// List queries the immutable audit trail.
func (s *Service) List(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.TenantID == 0 {
		return nil, fmt.Errorf("%w: tenant required", ErrInvalidMovementLines)
	}
	return s.repo.List(ctx, filter)
}

// FindBySource resolves a movement by its external source reference.
func (s *Service) FindBySource(ctx context.Context, tenantID int64, sourceType, sourceID string) (Movement, error) {
	return s.repo.FindBySource(ctx, tenantID, sourceType, sourceID)
}

func (s *Service) postInTx(ctx context.Context, tx TxRepository, req MovementRequest) (postResult, error) {
	var origLines []MovementLine
	if req.Type == TypeReceiptReversal {
		if req.ReversalOfID == 0 {
			return postResult{}, fmt.Errorf("%w: reversal link required", ErrInvalidMovementLines)
		}
		if req.ReversalReason == "" {
			return postResult{}, ErrReversalReasonRequired
		}
		orig, err := tx.GetMovementForUpdate(ctx, req.TenantID, req.ReversalOfID)
		if err != nil {
			if errors.Is(err, ErrMovementNotFound) {
				return postResult{}, fmt.Errorf("%w: original movement %d", ErrReferenceNotFound, req.ReversalOfID)
			}
			return postResult{}, err
		}
		if orig.Status != StatusPosted {
			return postResult{}, fmt.Errorf("%w: original not posted", ErrNotReversible)
		}
		if orig.Type == TypeReceiptReversal {
			return postResult{}, fmt.Errorf("%w: cannot reverse a reversal", ErrNotReversible)
		}
		if orig.ReversedByID != nil {
			return postResult{}, ErrDuplicateReversal
		}
		origLines, err = tx.GetLines(ctx, req.ReversalOfID)
		if err != nil {
			return postResult{}, err
		}
		if err := checkNegation(origLines, req.Lines); err != nil {
			return postResult{}, err
		}
	} else if req.ReversalOfID != 0 {
		return postResult{}, fmt.Errorf("%w: only reversals may carry a reversal link", ErrInvalidMovementLines)
	}

	mv, err := s.insertMovement(ctx, tx, req, StatusPosted)
	if err != nil {
		return postResult{}, err
	}
	if req.Type == TypeReceiptReversal {
		if err := tx.SetReversedBy(ctx, req.TenantID, req.ReversalOfID, mv.ID); err != nil {
			return postResult{}, err
		}
	}

	if req.Type == TypeReceiptReversal {
		increases, err := s.applyBalances(ctx, tx, mv)
		if err != nil {
			return postResult{}, err
		}
		touched, err := s.applyReversalCosting(ctx, tx, mv, origLines)
		if err != nil {
			return postResult{}, err
		}
		return postResult{movement: mv, increases: increases, layersTouched: touched}, nil
	}
	return s.applyPosting(ctx, tx, mv)
}

// applyPosting applies projections and costing for an already-inserted,
// non-reversal movement.
func (s *Service) applyPosting(ctx context.Context, tx TxRepository, mv Movement) (postResult, error) {
	increases, err := s.applyBalances(ctx, tx, mv)
	if err != nil {
		return postResult{}, err
	}
	layersTouched := false
	for i, line := range mv.Lines {
		key := line.Key(mv.TenantID)
		switch {
		case line.Qty.IsPositive() && line.UnitCost != nil:
			_, err := s.engine.Receive(ctx, tx.Layers(), costing.ReceiveInput{
				Key:          key,
				Qty:          line.Qty,
				UnitCost:     *line.UnitCost,
				LayerDate:    mv.OccurredAt,
				SourceLineID: line.ID,
			})
			if err != nil {
				return postResult{}, err
			}
			layersTouched = true
		case line.Qty.IsNegative():
			cons, err := s.engine.ConsumeFIFO(ctx, tx.Layers(), key, line.Qty.Neg())
			if err != nil {
				if errors.Is(err, costing.ErrInsufficientCostedStock) && s.policy == CostingBestEffort {
					snap := costing.Consumption{Qty: line.Qty.Neg(), TotalCost: decimal.Zero}
					if err := tx.SetLineCost(ctx, line.ID, decimal.Zero, &snap); err != nil {
						return postResult{}, err
					}
					zero := decimal.Zero
					mv.Lines[i].UnitCost = &zero
					mv.Lines[i].CostSnapshot = &snap
					continue
				}
				return postResult{}, err
			}
			unit := cons.WeightedUnitCost()
			if err := tx.SetLineCost(ctx, line.ID, unit, &cons); err != nil {
				return postResult{}, err
			}
			mv.Lines[i].UnitCost = &unit
			mv.Lines[i].CostSnapshot = &cons
			layersTouched = true
		}
	}
	return postResult{movement: mv, increases: increases, layersTouched: layersTouched}, nil
}

func (s *Service) applyBalances(ctx context.Context, tx TxRepository, mv Movement) ([]SupplyIncreasedEvent, error) {
	deltas := make([]balances.Delta, 0, len(mv.Lines))
	net := make(map[shared.StockKey]decimal.Decimal)
	for _, line := range mv.Lines {
		key := line.Key(mv.TenantID)
		deltas = append(deltas, balances.Delta{Key: key, Qty: line.Qty})
		net[key] = net[key].Add(line.Qty)
	}
	if err := s.projector.ApplyLines(ctx, tx.Balances(), deltas); err != nil {
		return nil, err
	}
	postedAt := mv.OccurredAt
	if mv.PostedAt != nil {
		postedAt = *mv.PostedAt
	}
	var increases []SupplyIncreasedEvent
	for _, line := range mv.Lines {
		key := line.Key(mv.TenantID)
		qty, ok := net[key]
		if !ok || !qty.IsPositive() {
			continue
		}
		delete(net, key)
		increases = append(increases, SupplyIncreasedEvent{Key: key, Qty: qty, MovementID: mv.ID, PostedAt: postedAt})
	}
	return increases, nil
}

// applyReversalCosting undoes the cost effects of the original lines: layers
// created by a receipt line are voided (only while fully unconsumed), and
// stock consumed by an issue line is re-received at its snapshotted cost.
func (s *Service) applyReversalCosting(ctx context.Context, tx TxRepository, mv Movement, origLines []MovementLine) (bool, error) {
	touched := false
	for i, orig := range origLines {
		switch {
		case orig.Qty.IsPositive():
			layers, err := tx.Layers().LayersBySourceLine(ctx, mv.TenantID, orig.ID)
			if err != nil {
				return false, err
			}
			for _, layer := range layers {
				if err := s.engine.Void(ctx, tx.Layers(), mv.TenantID, layer.ID, mv.ReversalReason); err != nil {
					return false, err
				}
				touched = true
			}
		case orig.Qty.IsNegative() && orig.UnitCost != nil && orig.UnitCost.IsPositive():
			sourceLineID := int64(0)
			if i < len(mv.Lines) {
				sourceLineID = mv.Lines[i].ID
			}
			_, err := s.engine.Receive(ctx, tx.Layers(), costing.ReceiveInput{
				Key:          orig.Key(mv.TenantID),
				Qty:          orig.Qty.Neg(),
				UnitCost:     *orig.UnitCost,
				LayerDate:    mv.OccurredAt,
				SourceLineID: sourceLineID,
			})
			if err != nil {
				return false, err
			}
			touched = true
		}
	}
	return touched, nil
}

func (s *Service) insertMovement(ctx context.Context, tx TxRepository, req MovementRequest, status MovementStatus) (Movement, error) {
	now := time.Now().UTC()
	mv := Movement{
		TenantID:       req.TenantID,
		Type:           req.Type,
		Status:         status,
		OccurredAt:     req.OccurredAt,
		SourceType:     req.SourceType,
		SourceID:       req.SourceID,
		ReversalReason: req.ReversalReason,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}
	if req.Type == TypeReceiptReversal {
		id := req.ReversalOfID
		mv.ReversalOfID = &id
	}
	if status == StatusPosted {
		mv.PostedAt = &now
	}
	id, err := tx.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id
	lines := make([]MovementLine, 0, len(req.Lines))
	for _, lr := range req.Lines {
		lines = append(lines, MovementLine{
			MovementID: id,
			ItemID:     lr.ItemID,
			LocationID: lr.LocationID,
			UOM:        lr.UOM,
			Qty:        lr.Qty,
			ReasonCode: lr.ReasonCode,
			Note:       lr.Note,
			UnitCost:   lr.UnitCost,
		})
	}
	inserted, err := tx.InsertLines(ctx, id, lines)
	if err != nil {
		return Movement{}, err
	}
	mv.Lines = inserted
	return mv, nil
}

func (s *Service) afterPost(ctx context.Context, result postResult) {
	mv := result.movement
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: mv.TenantID,
			ActorID:  result.actorID,
			Action:   fmt.Sprintf("ledger:post:%s", mv.Type),
			Entity:   "inventory_movement",
			EntityID: fmt.Sprintf("%d", mv.ID),
			Meta: map[string]any{
				"movement_type": string(mv.Type),
				"line_count":    len(mv.Lines),
				"source_type":   mv.SourceType,
				"source_id":     mv.SourceID,
			},
		})
		if err != nil {
			s.logger.Warn("ledger audit record", slog.Int64("movement_id", mv.ID), slog.Any("error", err))
		}
	}
	if result.layersTouched && s.valuation != nil {
		if err := s.valuation.Bump(ctx); err != nil {
			s.logger.Warn("ledger valuation bump", slog.Any("error", err))
		}
	}
	if s.integration != nil {
		for _, evt := range result.increases {
			if err := s.integration.HandleSupplyIncreased(ctx, evt); err != nil {
				s.logger.Warn("ledger supply increased hook",
					slog.String("key", evt.Key.String()), slog.Any("error", err))
			}
		}
	}
}

func (s *Service) validateRequest(ctx context.Context, req MovementRequest) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown movement type %q", ErrInvalidMovementLines, req.Type)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMovementLines, err)
	}
	if (req.SourceType == "") != (req.SourceID == "") {
		return fmt.Errorf("%w: source type and id go together", ErrInvalidMovementLines)
	}
	for _, lr := range req.Lines {
		if lr.Qty.IsZero() {
			return fmt.Errorf("%w: zero quantity delta", ErrInvalidMovementLines)
		}
		if lr.UnitCost != nil && lr.UnitCost.IsNegative() {
			return fmt.Errorf("%w: negative unit cost", ErrInvalidMovementLines)
		}
		key := shared.StockKey{TenantID: req.TenantID, ItemID: lr.ItemID, LocationID: lr.LocationID, UOM: lr.UOM}
		if err := key.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMovementLines, err)
		}
	}
	if s.resolver != nil {
		if err := s.resolver.ResolveLines(ctx, req.TenantID, req.Lines); err != nil {
			return err
		}
	}
	return nil
}

func negateLines(origLines []MovementLine) []LineRequest {
	lines := make([]LineRequest, 0, len(origLines))
	for _, l := range origLines {
		lines = append(lines, LineRequest{
			ItemID:     l.ItemID,
			LocationID: l.LocationID,
			UOM:        l.UOM,
			Qty:        l.Qty.Neg(),
			ReasonCode: l.ReasonCode,
		})
	}
	return lines
}

// checkNegation verifies that a reversal's lines exactly negate the
// original's, line for line.
func checkNegation(origLines []MovementLine, revLines []LineRequest) error {
	if len(origLines) != len(revLines) {
		return fmt.Errorf("%w: reversal must negate every original line", ErrInvalidMovementLines)
	}
	for i, orig := range origLines {
		rev := revLines[i]
		if rev.ItemID != orig.ItemID || rev.LocationID != orig.LocationID || rev.UOM != orig.UOM || !rev.Qty.Equal(orig.Qty.Neg()) {
			return fmt.Errorf("%w: reversal line %d does not negate original", ErrInvalidMovementLines, i)
		}
	}
	return nil
}
