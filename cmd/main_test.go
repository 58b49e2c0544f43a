package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/mireles/canonry/internal/adapters/http/api"
	"github.com/mireles/canonry/internal/adapters/http/swagger"
	app "github.com/mireles/canonry/internal/app"
	"github.com/mireles/canonry/internal/config"
	"github.com/mireles/canonry/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given configuration supplied through the environment", t, func() {
		_ = os.Setenv("CANONRY_ADDR", ":8080")
		_ = os.Setenv("CANONRY_QUEUE_SIZE", "1000")
		_ = os.Setenv("CANONRY_WORKER_COUNT", "4")
		defer func() {
			_ = os.Unsetenv("CANONRY_ADDR")
			_ = os.Unsetenv("CANONRY_QUEUE_SIZE")
			_ = os.Unsetenv("CANONRY_WORKER_COUNT")
		}()

		convey.Convey("When loading it the way main does", func() {
			cfg, err := config.Load(context.Background())

			convey.Convey("Then the values reach the service options", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the listen address is emptied out", func() {
			_ = os.Setenv("CANONRY_ADDR", "")

			cfg, err := config.Load(context.Background())

			convey.Convey("Then loading fails before any component is built", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestMainRouteWiring(t *testing.T) {
	convey.Convey("Given the mux main assembles", t, func() {
		ctx := context.Background()

		svc := app.New(
			app.WithWorkerCount(2),
			app.WithQueueSize(100),
			app.WithMemoryMaxEntries(512),
		)
		defer svc.Stop()

		mux := http.NewServeMux()
		swagger.Register(ctx, mux)
		api.NewServer(svc, svc).Register(ctx, mux)

		get := func(target string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, http.NoBody))
			return w
		}

		convey.Convey("Then the liveness route doubles as the scrape target", func() {
			w := get("/healthz")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the stats route answers without the service started", func() {
			w := get("/stats")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, "started")
		})

		convey.Convey("Then the documentation routes are served", func() {
			convey.So(get("/api-docs").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(get("/openapi.yaml").Code, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metrics updaters", t, func() {
		convey.Convey("When the context expires", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			convey.Convey("Then the system updater returns", func() {
				convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			})

			convey.Convey("Then the service updater returns", func() {
				svc := app.New()
				defer svc.Stop()
				convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When pushing a single update", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)

			svc := app.New()
			defer svc.Stop()
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})
	})
}

func TestMetricsManagerIsolation(t *testing.T) {
	convey.Convey("Given a dedicated registry", t, func() {
		registry := prometheus.NewRegistry()

		convey.Convey("When building a manager on it", func() {
			manager := metrics.NewManager(metrics.WithPrometheusRegistry(registry))

			convey.Convey("Then construction does not collide with the global set", func() {
				convey.So(manager, convey.ShouldNotBeNil)
				families, err := registry.Gather()
				convey.So(err, convey.ShouldBeNil)
				convey.So(families, convey.ShouldNotBeNil)
			})
		})
	})
}
