package model

import "context"

// Notifier delivers an operator notification with an HTML body.
type Notifier interface {
	Send(ctx context.Context, subject, htmlBody string) error
}
