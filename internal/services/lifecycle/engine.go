package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/broker/messages"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/services/audit"
	"github.com/BarnabyWild/logistack-sub000/internal/storage"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Repository interface {
	storage.TxRunner
	audit.Reader
	GetLoad(ctx context.Context, id string) (*models.Load, error)
	ListLoads(ctx context.Context, f models.LoadFilter) ([]*models.Load, int, error)
}

// Engine owns every mutation of a load. State, history and the outgoing
// event for one operation are written in a single transaction.
type Engine struct {
	repo     Repository
	recorder *audit.Recorder
	trail    *audit.Trail
	rules    []TransitionRule

	eventsTopic     string
	defaultPageSize int
	maxPageSize     int

	now   func() time.Time
	newID func() string
}

func New(repo Repository, recorder *audit.Recorder, eventsTopic string) *Engine {
	return &Engine{
		repo:            repo,
		recorder:        recorder,
		trail:           audit.NewTrail(repo),
		rules:           Transitions,
		eventsTopic:     eventsTopic,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.recorder.WithClock(now)
	return e
}

func (e *Engine) WithPageSizes(def, max int) *Engine {
	if def > 0 {
		e.defaultPageSize = def
	}
	if max > 0 {
		e.maxPageSize = max
	}
	if e.maxPageSize < e.defaultPageSize {
		e.maxPageSize = e.defaultPageSize
	}
	return e
}

func (e *Engine) Create(ctx context.Context, actor models.Actor, in models.LoadCreateInput) (*models.Load, error) {
	if actor.Role != models.RoleShipper {
		return nil, apperr.Forbidden("only shippers can create loads")
	}
	now := e.now().UTC()
	in, err := validateCreate(in, now)
	if err != nil {
		return nil, err
	}

	load := &models.Load{
		ID:           e.newID(),
		ShipperID:    actor.ID,
		Origin:       in.Origin,
		Destination:  in.Destination,
		Weight:       in.Weight,
		Price:        in.Price,
		PickupDate:   in.PickupDate,
		DeliveryDate: *in.DeliveryDate,
		Status:       models.LoadStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.repo.InTx(ctx, func(ctx context.Context, tx storage.LoadTx) error {
		if err := tx.InsertLoad(ctx, load); err != nil {
			return errors.Wrap(err, "insert load")
		}
		entry, err := e.recorder.Created(ctx, tx, load, actor.ID, "load created")
		if err != nil {
			return errors.Wrap(err, "append history")
		}
		return e.enqueue(ctx, tx, load, entry)
	})
	if err != nil {
		return nil, e.fail(err, "create load")
	}
	slog.Info("load created", "load_id", load.ID, "shipper_id", actor.ID)
	return load, nil
}

func (e *Engine) Assign(ctx context.Context, actor models.Actor, loadID, carrierID, note string) (*models.Load, error) {
	if actor.Role != models.RoleShipper {
		return nil, apperr.Forbidden("only shippers can assign loads")
	}
	carrierID = strings.TrimSpace(carrierID)
	if carrierID == "" {
		return nil, apperr.Validation("carrierId", "is required")
	}

	var out *models.Load
	err := e.repo.InTx(ctx, func(ctx context.Context, tx storage.LoadTx) error {
		load, err := tx.GetLoadForUpdate(ctx, loadID)
		if err != nil {
			return notFound(err, "load %s not found", loadID)
		}
		if load.ShipperID != actor.ID {
			return apperr.Forbidden("only the load's shipper can assign it")
		}
		if err := checkAssignable(load); err != nil {
			return err
		}

		// Locking the carrier serializes concurrent assignments to it, so
		// the conflict check below sees every committed assignment.
		carrier, err := tx.LockUser(ctx, carrierID)
		if err != nil {
			return notFound(err, "carrier %s not found", carrierID)
		}
		if carrier.Role != models.RoleCarrier {
			return apperr.Validation("carrierId", "user %s is not a carrier", carrierID)
		}

		clash, err := tx.FindScheduleConflict(ctx, carrierID, load.PickupDate, load.DeliveryDate, load.ID)
		if err != nil {
			return errors.Wrap(err, "find schedule conflict")
		}
		if clash != nil {
			return apperr.Conflict("carrier %s already holds load %s from %s to %s",
				carrierID, clash.ID, clash.PickupDate.Format(time.DateOnly), clash.DeliveryDate.Format(time.DateOnly))
		}

		if note == "" {
			note = "assigned to carrier " + carrierID
		}
		out, err = e.apply(ctx, tx, load, models.LoadStatusAssigned, &carrierID, actor.ID, note)
		return err
	})
	if err != nil {
		return nil, e.fail(err, "assign load")
	}
	slog.Info("load assigned", "load_id", out.ID, "carrier_id", carrierID)
	return out, nil
}

func checkAssignable(l *models.Load) error {
	switch l.Status {
	case models.LoadStatusPending:
		return nil
	case models.LoadStatusAssigned:
		return apperr.Conflict("load %s is already assigned", l.ID)
	default:
		return apperr.InvalidTransition("load must be pending to be assigned (current: %s)", l.Status)
	}
}

func (e *Engine) Transition(ctx context.Context, actor models.Actor, loadID string, to models.LoadStatus, note string) (*models.Load, error) {
	var out *models.Load
	err := e.repo.InTx(ctx, func(ctx context.Context, tx storage.LoadTx) error {
		load, err := tx.GetLoadForUpdate(ctx, loadID)
		if err != nil {
			return notFound(err, "load %s not found", loadID)
		}
		if err := CheckTransition(e.rules, load, actor, to); err != nil {
			return err
		}
		out, err = e.apply(ctx, tx, load, to, nil, actor.ID, note)
		return err
	})
	if err != nil {
		return nil, e.fail(err, "transition load")
	}
	slog.Info("load transitioned", "load_id", out.ID, "status", out.Status, "actor_id", actor.ID)
	return out, nil
}

func (e *Engine) Cancel(ctx context.Context, actor models.Actor, loadID, note string) (*models.Load, error) {
	return e.Transition(ctx, actor, loadID, models.LoadStatusCancelled, note)
}

// apply performs the conditional status write and its history entry.
func (e *Engine) apply(ctx context.Context, tx storage.LoadTx, load *models.Load, to models.LoadStatus, carrierID *string, actorID, note string) (*models.Load, error) {
	now := e.now().UTC()
	from := load.Status

	ok, err := tx.UpdateLoadStatus(ctx, load.ID, from, to, carrierID, now)
	if err != nil {
		return nil, errors.Wrap(err, "update load status")
	}
	if !ok {
		current, err := tx.GetLoadForUpdate(ctx, load.ID)
		if err != nil {
			return nil, notFound(err, "load %s not found", load.ID)
		}
		if to == models.LoadStatusAssigned && current.Status == models.LoadStatusAssigned {
			return nil, apperr.Conflict("load %s is already assigned", load.ID)
		}
		return nil, apperr.InvalidTransition("load %s changed to %s concurrently", load.ID, current.Status)
	}

	updated := *load
	updated.Status = to
	updated.UpdatedAt = now
	if carrierID != nil {
		c := *carrierID
		updated.CarrierID = &c
	}

	entry, err := e.recorder.Transitioned(ctx, tx, load.ID, from, to, &actorID, note)
	if err != nil {
		return nil, errors.Wrap(err, "append history")
	}
	if err := e.enqueue(ctx, tx, &updated, entry); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (e *Engine) enqueue(ctx context.Context, tx storage.LoadTx, load *models.Load, entry models.LoadHistoryEntry) error {
	if e.eventsTopic == "" {
		return nil
	}
	msg := messages.LoadStatusChanged{
		EventID:    entry.ID,
		LoadID:     load.ID,
		ShipperID:  load.ShipperID,
		CarrierID:  load.CarrierID,
		NewStatus:  string(entry.NewStatus),
		ActorID:    entry.ActorID,
		Note:       entry.Note,
		OccurredAt: entry.CreatedAt,
	}
	if entry.OldStatus != nil {
		s := string(*entry.OldStatus)
		msg.OldStatus = &s
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal load event")
	}
	err = tx.EnqueueEvent(ctx, models.OutboxEvent{
		ID:            entry.ID,
		Topic:         e.eventsTopic,
		Key:           load.ID,
		Payload:       b,
		NextAttemptAt: entry.CreatedAt,
		CreatedAt:     entry.CreatedAt,
	})
	return errors.Wrap(err, "enqueue load event")
}

func (e *Engine) Get(ctx context.Context, actor models.Actor, loadID string) (*models.Load, error) {
	load, err := e.repo.GetLoad(ctx, loadID)
	if err != nil {
		return nil, e.fail(notFound(err, "load %s not found", loadID), "get load")
	}
	if !visible(load, actor) {
		return nil, apperr.NotFound("load %s not found", loadID)
	}
	return load, nil
}

func (e *Engine) History(ctx context.Context, actor models.Actor, loadID string, limit, offset int) ([]*models.LoadHistoryEntry, error) {
	if _, err := e.Get(ctx, actor, loadID); err != nil {
		return nil, err
	}
	entries, err := e.trail.History(ctx, loadID, limit, offset)
	if err != nil {
		return nil, e.fail(err, "list history")
	}
	return entries, nil
}

// visible hides loads of other carriers from a carrier.
func visible(l *models.Load, a models.Actor) bool {
	if a.Role == models.RoleCarrier {
		return l.AssignedTo(a.ID)
	}
	return true
}

type ListQuery struct {
	Statuses     []models.LoadStatus
	Origin       string
	Destination  string
	PickupFrom   *time.Time
	PickupTo     *time.Time
	DeliveryFrom *time.Time
	DeliveryTo   *time.Time
	CarrierID    string
	ShipperID    string
	Page         int
	PageSize     int
}

func (e *Engine) List(ctx context.Context, actor models.Actor, q ListQuery) (*models.LoadPage, error) {
	page := q.Page
	if page <= 0 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 {
		size = e.defaultPageSize
	}
	if size > e.maxPageSize {
		size = e.maxPageSize
	}

	f := models.LoadFilter{
		Statuses:     q.Statuses,
		Origin:       strings.TrimSpace(q.Origin),
		Destination:  strings.TrimSpace(q.Destination),
		PickupFrom:   q.PickupFrom,
		PickupTo:     q.PickupTo,
		DeliveryFrom: q.DeliveryFrom,
		DeliveryTo:   q.DeliveryTo,
		CarrierID:    q.CarrierID,
		ShipperID:    q.ShipperID,
		Limit:        size,
		Offset:       (page - 1) * size,
	}
	switch actor.Role {
	case models.RoleCarrier:
		f.CarrierID = actor.ID
		f.ShipperID = ""
	case models.RoleShipper:
	default:
		return nil, apperr.Forbidden("role %q cannot list loads", actor.Role)
	}

	items, total, err := e.repo.ListLoads(ctx, f)
	if err != nil {
		return nil, e.fail(err, "list loads")
	}
	if items == nil {
		items = []*models.Load{}
	}
	return &models.LoadPage{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

// fail passes typed errors through and turns anything else into an
// internal error. The caller's transport logs it.
func (e *Engine) fail(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Internal(err, op)
}
