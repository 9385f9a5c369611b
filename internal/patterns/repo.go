package patterns

import (
	"context"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// AlertSourceFunc adapts a function to the AlertSource interface.
type AlertSourceFunc func(ctx context.Context, limit int) ([]models.Alert, error)

// ListAlerts implements AlertSource.
func (f AlertSourceFunc) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return f(ctx, limit)
}
