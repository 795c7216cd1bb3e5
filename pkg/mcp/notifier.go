package mcp

import (
	"context"

	"github.com/rendis/sopflow/internal/streaming"
	"github.com/rendis/sopflow/pkg/schema"
)

// EventSource is where run events come from. Satisfied by
// *streaming.MemoryHub.
type EventSource interface {
	Subscribe(ctx context.Context, filter streaming.EventFilter) (<-chan streaming.RunEvent, func(), error)
}

// ForwardEvents pushes run events to every connected client as
// notifications/message until ctx is done. Clients that are not connected
// simply miss them.
func (s *SOPServer) ForwardEvents(ctx context.Context, src EventSource, filter streaming.EventFilter) error {
	events, cancel, err := src.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.mcpServer.SendNotificationToAllClients("notifications/message", eventNotification(e))
		}
	}
}

func eventNotification(e streaming.RunEvent) map[string]any {
	level := "info"
	switch e.Type {
	case schema.EventRunFailed, schema.EventStepFailed:
		level = "error"
	case schema.EventRunSuspended:
		level = "warning"
	}
	return map[string]any{
		"level":  level,
		"logger": "sopflow",
		"data":   e,
	}
}
