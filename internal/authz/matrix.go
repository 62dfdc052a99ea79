// Package authz holds the role and party rules of the booking lifecycle.
package authz

import "github.com/Domenick1991/stagebook/internal/domain"

type edge struct {
	from domain.BookingStatus
	to   domain.BookingStatus
}

// rule decides whether an actor may drive an edge. isClient and isPerformer
// are true when the actor is that party of the booking.
type rule func(role domain.Role, isClient, isPerformer bool) bool

func performerParty(_ domain.Role, _, isPerformer bool) bool { return isPerformer }

func eitherParty(_ domain.Role, isClient, isPerformer bool) bool { return isClient || isPerformer }

func partyOrAdmin(role domain.Role, isClient, isPerformer bool) bool {
	return isClient || isPerformer || role == domain.RoleAdmin
}

func performerOrSystem(role domain.Role, _, isPerformer bool) bool {
	return isPerformer || role == domain.RoleSystem
}

func adminOnly(role domain.Role, _, _ bool) bool { return role == domain.RoleAdmin }

var transitions = map[edge]rule{
	{domain.BookingStatusPending, domain.BookingStatusAccepted}:   performerParty,
	{domain.BookingStatusPending, domain.BookingStatusDeclined}:   eitherParty,
	{domain.BookingStatusPending, domain.BookingStatusCancelled}:  partyOrAdmin,
	{domain.BookingStatusAccepted, domain.BookingStatusCancelled}: partyOrAdmin,
	{domain.BookingStatusAccepted, domain.BookingStatusCompleted}: performerOrSystem,
	{domain.BookingStatusPending, domain.BookingStatusDisputed}:   adminOnly,
	{domain.BookingStatusAccepted, domain.BookingStatusDisputed}:  adminOnly,
	{domain.BookingStatusDisputed, domain.BookingStatusCompleted}: adminOnly,
	{domain.BookingStatusDisputed, domain.BookingStatusCancelled}: adminOnly,
}

func privileged(role domain.Role) bool {
	return role == domain.RoleAdmin || role == domain.RoleSystem
}

// CanTransition checks an UpdateStatus request. Non-parties are rejected before
// the edge is looked up so that outsiders learn nothing about the booking state.
func CanTransition(actor domain.Actor, b *domain.Booking, to domain.BookingStatus) error {
	if !to.Valid() {
		return domain.NewValidationError("unknown status %q", to)
	}
	if !b.IsParty(actor.ID) && !privileged(actor.Role) {
		return domain.NewAuthorizationError("not a party to this booking")
	}

	allow, ok := transitions[edge{b.Status, to}]
	if !ok {
		return domain.NewConflictError("cannot move booking from %s to %s", b.Status, to)
	}

	isClient := actor.ID == b.ClientID && actor.Role == domain.RoleClient
	isPerformer := actor.ID == b.PerformerID && actor.Role == domain.RolePerformer
	if !allow(actor.Role, isClient, isPerformer) {
		return domain.NewAuthorizationError("%s may not move booking from %s to %s", actor.Role, b.Status, to)
	}
	return nil
}

// CanView allows the parties and admins.
func CanView(actor domain.Actor, b *domain.Booking) error {
	if b.IsParty(actor.ID) || privileged(actor.Role) {
		return nil
	}
	return domain.NewAuthorizationError("not a party to this booking")
}

func CanDelete(actor domain.Actor, b *domain.Booking) error {
	if actor.Role == domain.RoleAdmin || (actor.Role == domain.RoleClient && actor.ID == b.ClientID) {
		return nil
	}
	return domain.NewAuthorizationError("only the client or an admin can delete a booking")
}

func CanCreateIntent(actor domain.Actor, b *domain.Booking) error {
	if actor.Role == domain.RoleClient && actor.ID == b.ClientID {
		return nil
	}
	return domain.NewAuthorizationError("only the booking client can pay")
}

func CanRefund(actor domain.Actor, b *domain.Booking) error {
	if actor.Role == domain.RoleAdmin || (actor.Role == domain.RoleClient && actor.ID == b.ClientID) {
		return nil
	}
	return domain.NewAuthorizationError("only the client or an admin can refund a booking")
}

func CanCreateBooking(actor domain.Actor) error {
	if actor.Role != domain.RoleClient || actor.ID == "" {
		return domain.NewAuthorizationError("only clients can create bookings")
	}
	return nil
}

func CanManagePerformers(actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return domain.NewAuthorizationError("admin role required")
	}
	return nil
}

// ListScope narrows a listing to what the actor may see.
func ListScope(actor domain.Actor, f domain.BookingFilter) (domain.BookingFilter, error) {
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleSystem:
	case domain.RoleClient:
		f.ClientID = actor.ID
	case domain.RolePerformer:
		f.PerformerID = actor.ID
	default:
		return f, domain.NewAuthorizationError("unknown role %q", actor.Role)
	}
	return f, nil
}
