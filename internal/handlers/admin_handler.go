package handlers

import (
	"log/slog"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/dto"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/plans"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	users      *services.UserService
	subs       *services.SubscriptionService
	admin      *services.AdminService
	reconciler *services.Reconciler
}

func NewAdminHandler(users *services.UserService, subs *services.SubscriptionService, admin *services.AdminService, reconciler *services.Reconciler) *AdminHandler {
	return &AdminHandler{users: users, subs: subs, admin: admin, reconciler: reconciler}
}

func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	summaries, err := h.admin.ListUsersWithSubscriptionSummary(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": summaries, "count": len(summaries)})
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	st, err := h.admin.Stats(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(st)
}

func (h *AdminHandler) GetSubscription(c *fiber.Ctx) error {
	user, err := h.userParam(c)
	if err != nil {
		return respondError(c, err)
	}
	status, err := h.subs.GetStatus(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	history, err := h.subs.History(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"user": user, "status": status, "history": history})
}

func (h *AdminHandler) GrantSubscription(c *fiber.Ctx) error {
	user, err := h.userParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req dto.GrantSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := services.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}
	days := req.Days
	if days == 0 {
		days = req.Months * plans.DaysPerMonth
	}

	var sub *models.Subscription
	if req.Extend {
		sub, err = h.subs.Extend(c.UserContext(), user.ID, days)
	} else {
		sub, err = h.subs.Grant(c.UserContext(), services.GrantRequest{
			UserID:      user.ID,
			Days:        days,
			StartAt:     req.StartDate,
			AutoRenewal: req.AutoRenewal,
		})
	}
	if err != nil {
		return respondError(c, err)
	}
	slog.Info("subscription granted via admin api", "op", "admin.grant", "platform_id", user.PlatformID, "days", days, "extend", req.Extend)
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (h *AdminHandler) RevokeSubscription(c *fiber.Ctx) error {
	user, err := h.userParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.subs.Revoke(c.UserContext(), user.ID); err != nil {
		return respondError(c, err)
	}
	slog.Info("subscription revoked via admin api", "op", "admin.revoke", "platform_id", user.PlatformID)
	return c.JSON(fiber.Map{"revoked": true})
}

func (h *AdminHandler) Broadcast(c *fiber.Ctx) error {
	var req dto.BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := services.ValidateStruct(req); err != nil {
		return respondError(c, err)
	}
	result, err := h.admin.Broadcast(c.UserContext(), req.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// RunSweep runs one reconciler pass synchronously.
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	expired, expiring, err := h.reconciler.RunOnce(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"expired": expired, "expiring": expiring})
}

func (h *AdminHandler) userParam(c *fiber.Ctx) (*models.User, error) {
	pid, err := strconv.ParseInt(c.Params("platform_id"), 10, 64)
	if err != nil {
		return nil, &services.ConstraintError{Field: "platform_id", Reason: "must be an integer"}
	}
	return h.users.GetByPlatformID(c.UserContext(), pid)
}
