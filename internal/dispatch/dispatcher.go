package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Maaku050/Sentrilock/internal/config"
	"github.com/Maaku050/Sentrilock/internal/devices"
	"github.com/Maaku050/Sentrilock/internal/incidents"
	"github.com/Maaku050/Sentrilock/internal/metrics"
	"github.com/Maaku050/Sentrilock/internal/model"
	"github.com/Maaku050/Sentrilock/internal/storage"
)

// Sink is one outbound alert channel. Sinks fail independently: an
// unreachable broker never stops delivery to the others.
type Sink interface {
	Name() string
	Publish(ctx context.Context, inc model.SecurityIncident) error
	Close() error
}

// Deps carries everything the dispatcher fans out to. Storage, Devices,
// Push and Sinks may be nil or empty when the matching feature is off.
type Deps struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Notices      *NoticeCenter
	Incidents    *incidents.Store
	Storage      storage.Store
	Devices      *devices.Registry
	Push         *PushClient
	Sinks        []Sink
	Notification config.NotificationConfig
}

// Dispatcher turns a confirmed detection into everything the outside world
// sees: the operator notice, the incident record, device pushes and broker
// fan-out. It does not second-guess the detector, every result it receives
// is treated as a fresh alert.
type Dispatcher struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notices   *NoticeCenter
	incidents *incidents.Store
	store     storage.Store
	devices   *devices.Registry
	push      *PushClient
	sinks     []Sink
	notif     config.NotificationConfig
}

func NewDispatcher(d Deps) *Dispatcher {
	return &Dispatcher{
		logger:    d.Logger,
		metrics:   d.Metrics,
		notices:   d.Notices,
		incidents: d.Incidents,
		store:     d.Storage,
		devices:   d.Devices,
		push:      d.Push,
		sinks:     d.Sinks,
		notif:     d.Notification,
	}
}

// Dispatch publishes the detection. The local notice lands first so the
// console shows the alert even if every remote leg fails, then the incident
// is recorded, then pushes and broker sinks run in parallel.
func (d *Dispatcher) Dispatch(ctx context.Context, res *model.DetectionResult) {
	if res == nil {
		return
	}

	notice := d.buildNotification(res)
	if d.notices != nil {
		d.notices.Publish(notice)
	}

	inc := incidents.New(res)
	if d.incidents != nil {
		d.incidents.Add(inc)
	}
	if d.store != nil {
		if err := d.store.SaveIncident(ctx, inc); err != nil && d.logger != nil {
			d.logger.Error("persisting incident", "incident", inc.ID, "error", err)
		}
	}

	var wg sync.WaitGroup

	if d.push != nil && d.devices != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.pushToDevices(ctx, notice, inc)
		}()
	}

	for _, sink := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Publish(ctx, inc); err != nil {
				if d.logger != nil {
					d.logger.Warn("alert sink publish failed", "sink", s.Name(), "incident", inc.ID, "error", err)
				}
				if d.metrics != nil {
					d.metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
				}
			}
		}(sink)
	}

	wg.Wait()
}

func (d *Dispatcher) pushToDevices(ctx context.Context, notice model.Notification, inc model.SecurityIncident) {
	tokens := d.devices.Tokens(true)
	if len(tokens) == 0 {
		return
	}

	out := d.push.Send(ctx, tokens, notice, inc)

	for _, token := range out.Delivered {
		d.devices.Touch(token)
	}
	if len(out.Stale) > 0 {
		pruned := d.devices.Prune(out.Stale)
		if d.metrics != nil {
			d.metrics.TokensPrunedTotal.Add(float64(pruned))
		}
	}
	if d.metrics != nil {
		d.metrics.PushDeliveredTotal.Add(float64(len(out.Delivered)))
		d.metrics.PushFailedTotal.Add(float64(len(out.Failed) + len(out.Stale)))
	}
	if d.logger != nil {
		d.logger.Info("push round finished",
			"incident", inc.ID,
			"delivered", len(out.Delivered),
			"failed", len(out.Failed),
			"pruned", len(out.Stale))
	}

	if len(out.Delivered) > 0 {
		if d.incidents != nil {
			d.incidents.MarkNotified(inc.ID)
		}
		if d.store != nil {
			_ = d.store.SetIncidentNotified(ctx, inc.ID)
		}
	}
}

func (d *Dispatcher) buildNotification(res *model.DetectionResult) model.Notification {
	return model.Notification{
		Tag:                res.Key,
		Title:              "Security alert",
		Body:               fmt.Sprintf("%d consecutive unauthorized attempts at %s", len(res.Attempts), res.RoomID),
		Icon:               d.notif.Icon,
		RequireInteraction: true,
		Vibration:          d.notif.Vibration,
		ClickURL:           d.notif.ClickURL,
		CreatedAt:          res.DetectedAt,
	}
}

// Close shuts down the broker sinks. The push client holds no connection
// state of its own.
func (d *Dispatcher) Close() error {
	var first error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
