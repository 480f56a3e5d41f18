package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserUUID ctxKey = iota
	ctxTenantUUID
	ctxRole
)

func WithIdentity(ctx context.Context, userUUID, tenantUUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserUUID, userUUID)
	ctx = context.WithValue(ctx, ctxTenantUUID, tenantUUID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserUUID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserUUID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_uuid not in context")
}

func TenantUUID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxTenantUUID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("tenant_uuid not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
