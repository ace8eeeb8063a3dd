package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pondem87/thuso-monorepo-sub000/internal/api/dto"
	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
	"github.com/pondem87/thuso-monorepo-sub000/internal/service"
	apperrors "github.com/pondem87/thuso-monorepo-sub000/pkg/util/errorutil"
)

// Dispatcher runs an outbound request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.OutboundRequest) (*service.DispatchResult, error)
}

// OutboundQueue accepts outbound requests for background delivery.
type OutboundQueue interface {
	Submit(ctx context.Context, req domain.OutboundRequest) error
}

// DispatchHandler exposes the outbound pipeline to internal producers.
type DispatchHandler struct {
	dispatcher Dispatcher
	queue      OutboundQueue
}

// NewDispatchHandler constructs handler. queue may be nil, in which case
// async requests are rejected.
func NewDispatchHandler(dispatcher Dispatcher, queue OutboundQueue) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, queue: queue}
}

// Dispatch POST /api/v1/dispatch.
func (h *DispatchHandler) Dispatch(c *fiber.Ctx) error {
	var req dto.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ChannelNumberID == "" || req.UserID == "" {
		return apperrors.NewValidationError("channel_number_id, user_id required", nil)
	}
	if !req.Descriptor.Kind.Valid() {
		return apperrors.NewValidationError("unsupported descriptor kind", map[string]any{"kind": req.Descriptor.Kind})
	}
	if k := req.Descriptor.ConversationKind; k != "" && !k.Valid() {
		return apperrors.NewValidationError("unsupported conversation kind", map[string]any{"conversation_kind": k})
	}

	outbound := domain.NewOutboundRequest(req.ChannelNumberID, req.UserID, req.Descriptor)
	if req.Async {
		if h.queue == nil {
			return apperrors.NewValidationError("async dispatch not available", nil)
		}
		if err := h.queue.Submit(c.UserContext(), outbound); err != nil {
			return apperrors.NewUnavailable("dispatch queue unavailable", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.DispatchResponse{RequestID: outbound.ID}})
	}

	result, err := h.dispatcher.Dispatch(c.UserContext(), outbound)
	if err != nil {
		var kindErr *service.UnknownKindError
		if errors.As(err, &kindErr) {
			return apperrors.NewValidationError(kindErr.Error(), nil)
		}
		return apperrors.NewUnavailable("dispatch failed", err)
	}
	return c.JSON(fiber.Map{"data": dto.DispatchResponse{
		RequestID:  outbound.ID,
		Outcome:    string(result.Outcome),
		WindowID:   result.WindowID,
		MessageIDs: result.MessageIDs,
	}})
}
