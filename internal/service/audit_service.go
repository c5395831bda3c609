package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/maisonluxe/storefront/internal/events"
)

// AuditService records security events and forwards them to an external sink.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sink       events.EventHandler
}

// NewAuditService creates the service. sink may be nil.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger, sink events.EventHandler) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger,
		sink:       sink,
	}
}

// RegisterHandlers subscribes to every security event.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.SubscribeAll(a.handle)
}

func (a *AuditService) handle(ctx context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject_id", event.Actor.SubjectID),
		zap.String("role", string(event.Actor.Role)),
		zap.String("ip", event.Actor.ClientIP),
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}

	switch event.Type {
	case events.EventAccessDenied, events.EventLoginFailed:
		a.logger.Warn("security event", fields...)
	default:
		a.logger.Info("security event", fields...)
	}

	if a.sink == nil {
		return nil
	}
	if err := a.sink(ctx, event); err != nil {
		a.logger.Warn("forward security event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return nil
}
