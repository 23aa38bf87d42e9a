package utils

import (
	"context"

	"github.com/snapart79-maker/vietnam-mes-simple-sub001/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyPlantId       = appctx.ContextKeyPlantId
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyStationCode   = appctx.ContextKeyStationCode
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetPlantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyPlantId)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetStationCodeFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyStationCode)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetPlantIdInContext(ctx context.Context, plantId string) context.Context {
	return appctx.Set(ctx, ContextKeyPlantId, plantId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetStationCodeInContext(ctx context.Context, stationCode string) context.Context {
	return appctx.Set(ctx, ContextKeyStationCode, stationCode)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
