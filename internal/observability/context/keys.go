package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	actorRoleKey contextKey = "observability_actor_role"
	actorIDKey   contextKey = "observability_actor_id"
	clientIDKey  contextKey = "observability_client_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor records who is calling. Role is "admin" or "client".
func WithActor(ctx context.Context, role, actorID string) context.Context {
	if ctx == nil {
		return ctx
	}
	if role != "" {
		ctx = context.WithValue(ctx, actorRoleKey, role)
	}
	if actorID != "" {
		ctx = context.WithValue(ctx, actorIDKey, actorID)
	}
	return ctx
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	role, _ := ctx.Value(actorRoleKey).(string)
	actorID, _ := ctx.Value(actorIDKey).(string)
	return role, actorID
}

func WithClientID(ctx context.Context, clientID string) context.Context {
	if ctx == nil || clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIDKey, clientID)
}

func ClientIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(clientIDKey).(string)
	return value
}
