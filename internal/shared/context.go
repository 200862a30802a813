package shared

import "context"

// Actor identifies who issues a command and for which shop.
type Actor struct {
	EmployeeID int64 `json:"employee_id"`
	ShopID     int64 `json:"shop_id"`
}

// System is the actor used by background jobs.
var System = Actor{}

// IsSystem reports whether the actor carries no employee identity.
func (a Actor) IsSystem() bool {
	return a.EmployeeID == 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
