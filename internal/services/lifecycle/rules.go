package lifecycle

import (
	"math"
	"strings"
	"time"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

// Owner selects which party of a load an actor must be to apply a rule.
type Owner int

const (
	OwnerShipper Owner = iota + 1
	OwnerCarrier
)

type TransitionRule struct {
	Role  models.Role
	To    models.LoadStatus
	From  []models.LoadStatus
	Owner Owner
}

// Transitions lists every status change reachable through Transition.
// Assignment (pending -> assigned) has its own operation and is not here.
var Transitions = []TransitionRule{
	{Role: models.RoleCarrier, To: models.LoadStatusInTransit, From: []models.LoadStatus{models.LoadStatusAssigned}, Owner: OwnerCarrier},
	{Role: models.RoleCarrier, To: models.LoadStatusDelivered, From: []models.LoadStatus{models.LoadStatusInTransit}, Owner: OwnerCarrier},
	{Role: models.RoleShipper, To: models.LoadStatusCancelled, From: []models.LoadStatus{models.LoadStatusPending, models.LoadStatusAssigned, models.LoadStatusInTransit}, Owner: OwnerShipper},
}

func (r TransitionRule) allowsFrom(s models.LoadStatus) bool {
	for _, f := range r.From {
		if f == s {
			return true
		}
	}
	return false
}

func (r TransitionRule) ownedBy(l *models.Load, a models.Actor) bool {
	switch r.Owner {
	case OwnerShipper:
		return l.ShipperID == a.ID
	case OwnerCarrier:
		return l.AssignedTo(a.ID)
	default:
		return false
	}
}

// CheckTransition applies the rule table to a requested status change.
// The current status is checked before the actor, so a request that no
// actor could make from this status is an invalid transition for everyone.
func CheckTransition(rules []TransitionRule, l *models.Load, a models.Actor, to models.LoadStatus) error {
	var forTarget []TransitionRule
	for _, r := range rules {
		if r.To == to {
			forTarget = append(forTarget, r)
		}
	}
	if len(forTarget) == 0 {
		return apperr.InvalidTransition("status %q cannot be requested through a transition", to)
	}

	var fromOK []TransitionRule
	var required []string
	for _, r := range forTarget {
		if r.allowsFrom(l.Status) {
			fromOK = append(fromOK, r)
		}
		for _, f := range r.From {
			required = append(required, string(f))
		}
	}
	if len(fromOK) == 0 {
		return apperr.InvalidTransition("load must be %s to move to %s (current: %s)",
			strings.Join(required, " or "), to, l.Status)
	}

	for _, r := range fromOK {
		if r.Role != a.Role {
			continue
		}
		if !r.ownedBy(l, a) {
			return apperr.Forbidden("only the load's %s can move it to %s", r.Role, to)
		}
		return nil
	}
	return apperr.Forbidden("role %s cannot move a load to %s", a.Role, to)
}

// Overlaps is the closed-interval intersection test; touching ends overlap.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return !start1.After(end2) && !start2.After(end1)
}

const defaultDeliveryWindow = 48 * time.Hour

// DateOnly normalizes t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// validateCreate normalizes in and reports every violated field at once.
func validateCreate(in models.LoadCreateInput, now time.Time) (models.LoadCreateInput, error) {
	var vs []apperr.Violation
	add := func(field, msg string) { vs = append(vs, apperr.Violation{Field: field, Message: msg}) }

	in.Origin = strings.TrimSpace(in.Origin)
	in.Destination = strings.TrimSpace(in.Destination)
	if in.Origin == "" {
		add("origin", "is required")
	}
	if in.Destination == "" {
		add("destination", "is required")
	}
	if math.IsNaN(in.Weight) || math.IsInf(in.Weight, 0) || in.Weight <= 0 {
		add("weight", "must be greater than 0")
	}
	if math.IsNaN(in.Price) || math.IsInf(in.Price, 0) || in.Price < 0 {
		add("price", "must not be negative")
	}

	if in.PickupDate.IsZero() {
		add("pickupDate", "is required")
	} else {
		in.PickupDate = DateOnly(in.PickupDate)
		if in.PickupDate.Before(DateOnly(now)) {
			add("pickupDate", "must not be in the past")
		}
		if in.DeliveryDate == nil {
			d := in.PickupDate.Add(defaultDeliveryWindow)
			in.DeliveryDate = &d
		} else {
			d := DateOnly(*in.DeliveryDate)
			in.DeliveryDate = &d
			if d.Before(in.PickupDate) {
				add("deliveryDate", "must not be before pickupDate")
			}
		}
	}

	return in, apperr.Violations(vs)
}
