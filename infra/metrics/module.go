package metrics

import (
	"net/http"

	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/service"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		New,
		func(m *Metrics) registry.Recorder { return m },
		func(m *Metrics) service.Recorder { return m },
		func(m *Metrics) worker.DropRecorder { return m },
		fx.Annotate(
			func(m *Metrics) http.Handler { return m.Handler() },
			fx.ResultTags(`name:"metrics"`),
		),
	),
)
