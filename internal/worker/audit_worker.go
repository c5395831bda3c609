package worker

import (
	"context"

	"github.com/maisonluxe/storefront/internal/events"
	"github.com/maisonluxe/storefront/internal/service"
)

// StartAuditWorker registers audit handlers and, when a sink is configured,
// starts the goroutine forwarding queued events to it. The returned channel
// closes once the sink has drained after ctx is cancelled.
func StartAuditWorker(ctx context.Context, auditService *service.AuditService, sink *events.AsyncSink) <-chan struct{} {
	done := make(chan struct{})
	if auditService != nil {
		auditService.RegisterHandlers()
	}
	if sink == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		sink.Run(ctx)
	}()
	return done
}
