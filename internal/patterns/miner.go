package patterns

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// DefaultAlertWindow is how many recent alerts Mine reads when no limit is given.
const DefaultAlertWindow = 500

// AlertSource lists recent alerts, newest first.
type AlertSource interface {
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
}

// Miner ranks services by the change impact alerts recorded against them.
type Miner struct {
	source AlertSource
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger, source AlertSource) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{source: source, logger: logger}
}

// Mine reads up to limit recent alerts and aggregates them into hotspots.
func (m *Miner) Mine(ctx context.Context, limit int) ([]models.ServiceHotspot, error) {
	if limit <= 0 {
		limit = DefaultAlertWindow
	}
	alerts, err := m.source.ListAlerts(ctx, limit)
	if err != nil {
		return nil, err
	}
	hotspots := Hotspots(alerts)
	m.logger.Debug("mined alert hotspots", "alerts", len(alerts), "services", len(hotspots))
	return hotspots, nil
}

// Hotspots aggregates impact alerts per service. Services are ordered by impact alert
// count, then HIGH count, then name. Alerts without impact are ignored.
func Hotspots(alerts []models.Alert) []models.ServiceHotspot {
	stats := make(map[string]*serviceAggregate)
	for _, alert := range alerts {
		if alert.Type != models.AlertChangeImpactDetected {
			continue
		}
		agg := ensureAggregate(stats, alert.Service)
		agg.count++
		switch alert.Severity {
		case models.SeverityHigh:
			agg.high++
		case models.SeverityImproved:
			agg.improved++
		}
		if alert.Impact != nil {
			agg.deltaSum += alert.Impact.LatencyDeltaPercent
			agg.maxConfidence = max(agg.maxConfidence, alert.Impact.CausalConfidence)
		}
		if alert.Timestamp.After(agg.hotspot.LastSeen) {
			agg.hotspot.LastSeen = alert.Timestamp
		}
		if alert.ChangeID != "" && !slices.Contains(agg.hotspot.Changes, alert.ChangeID) {
			agg.hotspot.Changes = append(agg.hotspot.Changes, alert.ChangeID)
		}
	}

	out := make([]models.ServiceHotspot, 0, len(stats))
	for _, agg := range stats {
		h := agg.hotspot
		h.ImpactAlerts = agg.count
		h.HighSeverity = agg.high
		h.Improvements = agg.improved
		h.MeanLatencyDeltaPct = agg.deltaSum / float64(agg.count)
		h.MaxCausalConfidence = agg.maxConfidence
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ImpactAlerts != out[j].ImpactAlerts {
			return out[i].ImpactAlerts > out[j].ImpactAlerts
		}
		if out[i].HighSeverity != out[j].HighSeverity {
			return out[i].HighSeverity > out[j].HighSeverity
		}
		return out[i].Service < out[j].Service
	})
	return out
}

type serviceAggregate struct {
	hotspot       models.ServiceHotspot
	count         int
	high          int
	improved      int
	deltaSum      float64
	maxConfidence float64
}

func ensureAggregate(m map[string]*serviceAggregate, service string) *serviceAggregate {
	if service == "" {
		service = "unknown"
	}
	agg, ok := m[service]
	if !ok {
		agg = &serviceAggregate{hotspot: models.ServiceHotspot{Service: service, Changes: []string{}}}
		m[service] = agg
	}
	return agg
}
