// Package control is the local HTTP surface a UI shell drives the daemon
// through. It exposes the store's lists and buffers read-only and forwards
// user intents (open, send, seen, typing, accept/decline) to the owning
// component. It binds to loopback; it carries no auth of its own.
package control

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/apperr"
	"github.com/sociora/sociora-go/internal/model"
	"github.com/sociora/sociora-go/internal/rest"
	"github.com/sociora/sociora-go/internal/store"
	"github.com/sociora/sociora-go/internal/typing"
)

// Engine is the slice of the sync engine the control surface forwards to.
type Engine interface {
	OpenConversation(ctx context.Context, conversationID string) error
	CloseConversation(ctx context.Context)
	SendMessage(ctx context.Context, in rest.SendMessageInput) (*model.Message, error)
}

// Requests drives the accept/decline workflow.
type Requests interface {
	Accept(ctx context.Context, conversationID string) error
	Decline(ctx context.Context, conversationID string) error
}

// Receipts reports visible messages as seen.
type Receipts interface {
	MarkSeen(ctx context.Context, conversationID string, visible []*model.Message) error
}

// Typist relays local keystroke activity.
type Typist interface {
	OnLocalKeystroke(ctx context.Context, conversationID string)
	OnLocalIdle(ctx context.Context, conversationID string)
	Typing(conversationID string) []typing.User
}

type Server struct {
	app      *fiber.App
	store    *store.Store
	engine   Engine
	requests Requests
	receipts Receipts
	typist   Typist
	log      *zap.SugaredLogger
}

func New(st *store.Store, eng Engine, req Requests, rc Receipts, ty Typist, log *zap.SugaredLogger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "chatsyncd",
		}),
		store:    st,
		engine:   eng,
		requests: req,
		receipts: rc,
		typist:   ty,
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := s.app.Group("/v1")
	v1.Get("/lists", s.getLists)
	v1.Post("/conversations/close", s.closeConversation)
	v1.Get("/conversations/:id/messages", s.getMessages)
	v1.Post("/conversations/:id/open", s.openConversation)
	v1.Post("/conversations/:id/messages", s.sendMessage)
	v1.Post("/conversations/:id/seen", s.markSeen)
	v1.Post("/conversations/:id/typing", s.startTyping)
	v1.Post("/conversations/:id/typing/stop", s.stopTyping)
	v1.Post("/requests/:id/accept", s.acceptRequest)
	v1.Post("/requests/:id/decline", s.declineRequest)
}

func (s *Server) getLists(c *fiber.Ctx) error {
	snap := s.store.Snapshot()
	return c.JSON(fiber.Map{
		"direct":   snap.Direct,
		"groups":   snap.Groups,
		"requests": snap.Requests,
	})
}

func (s *Server) getMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	return c.JSON(fiber.Map{
		"messages": s.store.Messages(id),
		"typing":   s.typist.Typing(id),
	})
}

func (s *Server) openConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.engine.OpenConversation(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"open": id})
}

func (s *Server) closeConversation(c *fiber.Ctx) error {
	s.engine.CloseConversation(c.Context())
	return c.JSON(fiber.Map{"open": ""})
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Type      model.MessageType `json:"type"`
		Body      string            `json:"body"`
		Media     *model.MediaRef   `json:"media"`
		ReplyToID string            `json:"reply_to_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	msg, err := s.engine.SendMessage(c.Context(), rest.SendMessageInput{
		ConversationID: c.Params("id"),
		Type:           req.Type,
		Body:           req.Body,
		Media:          req.Media,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"message": msg})
}

func (s *Server) markSeen(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.receipts.MarkSeen(c.Context(), id, s.store.Messages(id)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"seen": id})
}

func (s *Server) startTyping(c *fiber.Ctx) error {
	s.typist.OnLocalKeystroke(c.Context(), c.Params("id"))
	return c.SendStatus(http.StatusAccepted)
}

func (s *Server) stopTyping(c *fiber.Ctx) error {
	s.typist.OnLocalIdle(c.Context(), c.Params("id"))
	return c.SendStatus(http.StatusAccepted)
}

func (s *Server) acceptRequest(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.requests.Accept(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"accepted": id})
}

func (s *Server) declineRequest(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.requests.Decline(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"declined": id})
}

// fail maps error kinds back onto HTTP statuses for the shell.
func fail(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrAuthExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNetwork):
		status = http.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// Listen serves until Shutdown or a listener error.
func (s *Server) Listen(addr string) error {
	s.log.Infow("control api listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
