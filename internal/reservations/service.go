package reservations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jwfreed/inventory-manager-sub012/internal/backorders"
	"github.com/jwfreed/inventory-manager-sub012/internal/balances"
	"github.com/jwfreed/inventory-manager-sub012/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Reservation, error)
}

// TxRepository exposes transactional operations used by the service. The
// balance and backorder stores ride on the same transaction so a transition
// and its reserved-total adjustment commit or roll back together.
type TxRepository interface {
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	GetForUpdate(ctx context.Context, tenantID, reservationID int64) (Reservation, error)
	SetStatus(ctx context.Context, reservationID int64, status Status, fulfilledBy *int64) error
	// SumAllocated returns the total quantity of ALLOCATED reservations for
	// a stocking point.
	SumAllocated(ctx context.Context, key shared.StockKey) (decimal.Decimal, error)
	Balances() balances.TxStore
	Backorders() backorders.TxStore
}

// ServiceConfig groups optional collaborators and the default policy.
type ServiceConfig struct {
	Projector *balances.Projector
	Manager   *backorders.Manager
	Logger    *slog.Logger
	Policy    ReservePolicy
}

// Service governs the reservation lifecycle against projected balances.
type Service struct {
	repo      RepositoryPort
	projector *balances.Projector
	manager   *backorders.Manager
	validate  *validator.Validate
	logger    *slog.Logger
	policy    ReservePolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	if cfg.Projector == nil {
		cfg.Projector = balances.NewProjector()
	}
	if cfg.Manager == nil {
		cfg.Manager = backorders.NewManager()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPartial
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		projector: cfg.Projector,
		manager:   cfg.Manager,
		validate:  validator.New(),
		logger:    cfg.Logger,
		policy:    cfg.Policy,
	}
}

// Reserve claims stock for a demand line. When available supply falls short
// the split follows the request's policy (or the service default): partial
// reserves what it can and backorders the rest, all-or-nothing backorders
// the full quantity. Available is on-hand minus reserved and may already be
// negative; nothing is clamped.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return ReserveResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !req.Qty.IsPositive() {
		return ReserveResult{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}
	policy := req.Policy
	if policy == "" {
		policy = s.policy
	}
	key := req.Key()
	demand := shared.DemandRef{Type: req.DemandType, ID: req.DemandID}
	var result ReserveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.Balances().GetForUpdate(ctx, key)
		if err != nil && !errors.Is(err, balances.ErrBalanceNotFound) {
			return err
		}
		available := bal.Available()
		reserveQty := req.Qty
		if available.LessThan(req.Qty) {
			switch policy {
			case PolicyAllOrNothing:
				reserveQty = decimal.Zero
			default:
				reserveQty = decimal.Max(decimal.Min(available, req.Qty), decimal.Zero)
			}
		}
		shortfall := req.Qty.Sub(reserveQty)
		if reserveQty.IsPositive() {
			res := Reservation{
				Key:       key,
				Demand:    demand,
				Qty:       reserveQty,
				Status:    StatusReserved,
				ExpiresAt: req.ExpiresAt,
			}
			id, err := tx.InsertReservation(ctx, res)
			if err != nil {
				return err
			}
			res.ID = id
			if err := s.projector.AdjustReserved(ctx, tx.Balances(), key, reserveQty); err != nil {
				return err
			}
			result.Reservation = &res
			result.ReservedQty = reserveQty
		}
		if shortfall.IsPositive() {
			if _, err := s.manager.Open(ctx, tx.Backorders(), key, demand, shortfall); err != nil {
				return err
			}
			result.BackorderedQty = shortfall
		}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}
	return result, nil
}

// Allocate marks intent to pick. The reserved total is untouched, but the
// hard invariant applies here: total allocated quantity for the stocking
// point must never exceed on-hand.
func (s *Service) Allocate(ctx context.Context, tenantID, reservationID int64) (Reservation, error) {
	return s.transition(ctx, tenantID, reservationID, StatusAllocated, func(ctx context.Context, tx TxRepository, res Reservation) error {
		bal, err := tx.Balances().GetForUpdate(ctx, res.Key)
		if err != nil && !errors.Is(err, balances.ErrBalanceNotFound) {
			return err
		}
		allocated, err := tx.SumAllocated(ctx, res.Key)
		if err != nil {
			return err
		}
		if allocated.Add(res.Qty).GreaterThan(bal.OnHand) {
			return ErrAllocationExceedsOnHand
		}
		return nil
	})
}

// Fulfill closes an allocated reservation once the outbound movement that
// consumed the stock has posted, releasing the reserved quantity.
func (s *Service) Fulfill(ctx context.Context, tenantID, reservationID, movementID int64) (Reservation, error) {
	if movementID == 0 {
		return Reservation{}, ErrMovementRequired
	}
	var out Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetForUpdate(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(res.Status, StatusFulfilled); err != nil {
			return err
		}
		if err := s.projector.AdjustReserved(ctx, tx.Balances(), res.Key, res.Qty.Neg()); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, res.ID, StatusFulfilled, &movementID); err != nil {
			return err
		}
		res.Status = StatusFulfilled
		res.FulfilledByMovementID = &movementID
		out = res
		return nil
	})
	return out, err
}

// Cancel withdraws a reservation that has not been allocated, releasing the
// reserved quantity and canceling any matching open backorder.
func (s *Service) Cancel(ctx context.Context, tenantID, reservationID int64) (Reservation, error) {
	return s.release(ctx, tenantID, reservationID, StatusCancelled)
}

// Expire releases a reservation whose hold deadline passed. Invoked by the
// caller; there is no background sweep.
func (s *Service) Expire(ctx context.Context, tenantID, reservationID int64) (Reservation, error) {
	return s.release(ctx, tenantID, reservationID, StatusExpired)
}

// RetryBackorders converts open backorders for a stocking point into
// reservations, oldest first, while available supply lasts. Triggered by
// supply-increasing postings through the integration hooks.
func (s *Service) RetryBackorders(ctx context.Context, key shared.StockKey) ([]Reservation, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var created []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.Balances().GetForUpdate(ctx, key)
		if err != nil {
			if errors.Is(err, balances.ErrBalanceNotFound) {
				return nil
			}
			return err
		}
		available := bal.Available()
		if !available.IsPositive() {
			return nil
		}
		open, err := tx.Backorders().ListOpenOldestFirst(ctx, key)
		if err != nil {
			return err
		}
		for _, bo := range open {
			take := decimal.Min(bo.Qty, available)
			if !take.IsPositive() {
				break
			}
			res := Reservation{Key: key, Demand: bo.Demand, Qty: take, Status: StatusReserved}
			id, err := tx.InsertReservation(ctx, res)
			if err != nil {
				return err
			}
			res.ID = id
			if err := s.projector.AdjustReserved(ctx, tx.Balances(), key, take); err != nil {
				return err
			}
			if err := s.manager.Reduce(ctx, tx.Backorders(), bo, take); err != nil {
				return err
			}
			created = append(created, res)
			available = available.Sub(take)
			if !available.IsPositive() {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		s.logger.Info("backorders converted",
			slog.String("key", key.String()), slog.Int("count", len(created)))
	}
	return created, nil
}

// StatusByDemand returns every reservation owned by a demand reference.
func (s *Service) StatusByDemand(ctx context.Context, tenantID int64, demand shared.DemandRef) ([]Reservation, error) {
	if err := demand.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.repo.ListByDemand(ctx, tenantID, demand)
}

func (s *Service) release(ctx context.Context, tenantID, reservationID int64, to Status) (Reservation, error) {
	var out Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetForUpdate(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(res.Status, to); err != nil {
			return err
		}
		if err := s.projector.AdjustReserved(ctx, tx.Balances(), res.Key, res.Qty.Neg()); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, res.ID, to, nil); err != nil {
			return err
		}
		if err := s.manager.CancelForDemand(ctx, tx.Backorders(), res.Key, res.Demand); err != nil {
			return err
		}
		res.Status = to
		out = res
		return nil
	})
	return out, err
}

func (s *Service) transition(ctx context.Context, tenantID, reservationID int64, to Status, guard func(context.Context, TxRepository, Reservation) error) (Reservation, error) {
	var out Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetForUpdate(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if err := Transition(res.Status, to); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(ctx, tx, res); err != nil {
				return err
			}
		}
		if err := tx.SetStatus(ctx, res.ID, to, nil); err != nil {
			return err
		}
		res.Status = to
		res.UpdatedAt = time.Now().UTC()
		out = res
		return nil
	})
	return out, err
}
