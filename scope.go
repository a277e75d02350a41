package beacon

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/api"
	"github.com/beaconlabs/beacon/internal/storage"
)

// featureScope is the write scope of one registered remote feature.
type featureScope struct {
	core    *Core
	feature string
	storage *storage.Storage
}

// EventWriteContext schedules block on the context lane with a consistent
// snapshot and a writer bound to the effective consent. A panic inside block
// is recovered and reported as telemetry; the batch is not invalidated beyond
// the failing event.
func (s *featureScope) EventWriteContext(opts api.WriteOptions, block func(ctx api.Context, w api.EventWriter)) {
	s.core.provider.Read(func(ctx api.Context) {
		consent := ctx.TrackingConsent
		if opts.BypassConsent {
			consent = api.ConsentGranted
		}
		w := s.storage.Writer(consent, opts.ForceNewBatch)

		defer func() {
			if r := recover(); r != nil {
				s.core.logger.Error("event write block panicked",
					zap.String("feature", s.feature),
					zap.Any("panic", r),
				)
				s.core.sendTelemetry(api.Telemetry{
					Kind:       api.TelemetryError,
					Message:    "event write block panicked",
					Attributes: map[string]any{"feature": s.feature, "panic": fmt.Sprint(r)},
				})
			}
		}()
		block(ctx, w)
	})
}

// Context schedules block with the current context snapshot.
func (s *featureScope) Context(block func(ctx api.Context)) {
	s.core.provider.Read(block)
}

// nopScope is handed out for unregistered or storage-less features so callers
// never receive a nil scope.
type nopScope struct{}

func (nopScope) EventWriteContext(opts api.WriteOptions, block func(ctx api.Context, w api.EventWriter)) {
}
func (nopScope) Context(block func(ctx api.Context)) {}
