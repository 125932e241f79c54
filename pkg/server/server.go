// Package server exposes the firewall over HTTP. On DENY the API returns
// only the action, the denying policy id, a generic message, and the request
// id when a verdict was produced — the offending spans never leave the
// process.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/TryMightyAI/aegis/pkg/firewall"
)

// Server wraps the fiber app around one Firewall.
type Server struct {
	app    *fiber.App
	fw     *firewall.Firewall
	logger *zap.Logger
}

// New builds the HTTP API for the given firewall.
func New(fw *firewall.Firewall, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:    fiber.New(fiber.Config{AppName: "aegis"}),
		fw:     fw,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Post("/v1/evaluate", s.handleEvaluate)
}

// App returns the underlying fiber app, used by tests via app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves the API on addr until shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type evaluateRequest struct {
	Text        string `json:"text"`
	TokenFormat string `json:"tokenFormat,omitempty"`
}

type denyResponse struct {
	RequestID       string `json:"requestId,omitempty"`
	Action          string `json:"action"`
	DenyingPolicyID string `json:"denyingPolicyId,omitempty"`
	Error           string `json:"error"`
}

func (s *Server) handleEvaluate(c fiber.Ctx) error {
	var req evaluateRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	verdict, err := s.fw.Evaluate(c.Context(), firewall.Request{
		Text:        req.Text,
		TokenFormat: firewall.TokenFormat(req.TokenFormat),
	})
	if err != nil {
		var denied *firewall.DeniedError
		if errors.As(err, &denied) {
			return c.Status(fiber.StatusForbidden).JSON(denyResponse{
				Action:          string(firewall.ActionDeny),
				DenyingPolicyID: denied.PolicyID,
				Error:           "content policy violation",
			})
		}
		s.logger.Error("evaluate failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	if verdict.Action == firewall.ActionDeny {
		return c.Status(fiber.StatusForbidden).JSON(denyResponse{
			RequestID:       verdict.RequestID,
			Action:          string(verdict.Action),
			DenyingPolicyID: verdict.DenyingPolicyID,
			Error:           "content policy violation",
		})
	}
	return c.JSON(verdict)
}
