package cli

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/binarymachines/mercury/pkg/errors"
	"github.com/binarymachines/mercury/pkg/json"
)

// Server exposes the metrics, liveness and run status of a tool.
type Server struct {
	app    *fiber.App
	addr   string
	logger *zap.Logger
}

// NewServer creates the status server. Routes:
//
//	GET /metrics  Prometheus exposition of gatherer
//	GET /healthz  liveness
//	GET /status   the Status snapshot as JSON
func NewServer(addr string, gatherer prometheus.Gatherer, status *Status, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":  "OK",
			"name":    status.tool,
			"version": Version,
		})
	})
	app.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(status.Snapshot())
	})

	return &Server{app: app, addr: addr, logger: logger}
}

// App returns the fiber application, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Start listens until Stop is called.
func (s *Server) Start() error {
	if err := s.app.Listen(s.addr); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "status server listen on %s", s.addr)
	}
	return nil
}

// StartAsync runs Start in the background and logs its failure.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("status server listening", zap.String("addr", s.addr))
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if err := s.app.Shutdown(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "status server shutdown")
	}
	return nil
}
