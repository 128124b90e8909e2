package auth

import (
	"context"
	"errors"
	"slices"

	"github.com/tasklock/engine/internal/domain"
)

type contextKey string

const actorContextKey contextKey = "actor_context"

// ContextWithActor adds the acting user to the context.
func ContextWithActor(ctx context.Context, actor *domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext extracts the acting user from the context.
func ActorFromContext(ctx context.Context) (*domain.Actor, error) {
	actor, ok := ctx.Value(actorContextKey).(*domain.Actor)
	if !ok {
		return nil, errors.New("actor not found in context")
	}
	return actor, nil
}

// Authorizer is the role-based authorization oracle consumed by the mutation
// engine. Admins may do anything; creators may mutate their own tasks;
// assignees may only move status. A nil actor is a system action and is
// always allowed.
type Authorizer struct{}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

func (a *Authorizer) CanMutate(actor *domain.Actor, action domain.ActionKind, task *domain.Task) bool {
	if actor == nil {
		return true
	}
	if hasRole(actor, "admin") {
		return true
	}
	if task.CreatorID == actor.UserID {
		return true
	}
	if action == domain.ActionUpdateStatus {
		return task.AssigneeID != nil && *task.AssigneeID == actor.UserID
	}
	return false
}

func hasRole(actor *domain.Actor, role string) bool {
	return slices.Contains(actor.Roles, role)
}
