package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/regwatch/app"
	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib"
	"github.com/fiffu/regwatch/lib/dispatch"
	"github.com/fiffu/regwatch/lib/match"
	"github.com/fiffu/regwatch/lib/registry"
	"github.com/fiffu/regwatch/lib/snapshotter"
	"github.com/fiffu/regwatch/lib/store"
	"github.com/fiffu/regwatch/senders"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func NewRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),
		fx.Provide(NewRegisterer),

		fx.Provide(senders.NewSenderRegistry),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(store.NewStore),
		fx.Provide(registry.NewClient),
		fx.Provide(match.NewMatcher),

		fx.Provide(dispatch.NewMetricVecs),
		fx.Provide(dispatch.NewDispatcher),
		fx.Provide(func(d *dispatch.Dispatcher) dispatch.BatchDispatcher { return d }),
		fx.Provide(dispatch.NewBatcher),

		fx.Provide(snapshotter.NewMetricVecs),
		fx.Provide(snapshotter.NewSnapshotter),

		fx.Provide(lib.NewService),
		fx.Provide(app.NewScheduler),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*app.Scheduler) {}),
		fx.Invoke(func(*http.Server) {}),
	).Run()
}
