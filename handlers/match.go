// handlers/match.go
package handlers

import (
	"errors"
	"time"

	"match-wager-system/middleware"
	"match-wager-system/models"
	"match-wager-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
)

// SetupMatchRoutes registers the matchmaking and lifecycle surface. The
// gateway forwards user context headers; UserContextMiddleware enforces them
// on the /s/ group. Settle and void verdicts come from the verification
// collaborator and operators, forwarded under /s/admin/.
func SetupMatchRoutes(app *fiber.App, queue *services.SeekQueue, matches *services.MatchService, trust *services.TrustService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Post("/seek", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req services.SeekRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}

		lane, err := services.ClassifySeek(req)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid seek request", "cause": err.Error()})
		}

		ticket := models.SeekTicket{
			ID:             ulid.Make().String(),
			ExternalUserID: userID,
			Game:           req.Game,
			Mode:           req.Mode,
			Region:         req.Region,
			StakeAmount:    req.StakeAmount,
			StakeBucket:    lane.StakeBucket,
			SkillBand:      req.SkillBand,
			LatencyHintMs:  req.LatencyHintMs,
			EnqueuedAt:     time.Now().UTC(),
		}
		if err := queue.Enqueue(c.Context(), ticket); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to enqueue seek ticket", "cause": err.Error()})
		}

		return c.Status(201).JSON(fiber.Map{
			"ticket_id":      ticket.ID,
			"lane":           lane.Key(),
			"expires_in_sec": int(queue.TTL.Seconds()),
		})
	})

	secured.Delete("/seek/:ticket_id", func(c *fiber.Ctx) error {
		removed, err := queue.Cancel(c.Context(), c.Params("ticket_id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to cancel seek ticket", "cause": err.Error()})
		}
		if !removed {
			return c.Status(404).JSON(fiber.Map{"error": "ticket not found or already paired"})
		}
		return c.JSON(fiber.Map{"canceled": true})
	})

	secured.Get("/matches/:id", func(c *fiber.Ctx) error {
		m, err := matches.GetMatch(c.Params("id"))
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/matches/:id/stream-ready", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var body struct {
			StreamURL string `json:"stream_url"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		m, err := matches.ReportStreamReady(c.Context(), c.Params("id"), userID, body.StreamURL)
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/matches/:id/result", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		var body struct {
			Score int64 `json:"score"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		m, err := matches.ReportResult(c.Context(), c.Params("id"), userID, body.Score)
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/admin/matches/:id/settle", func(c *fiber.Ctx) error {
		var body struct {
			WinnerUserID string `json:"winner_user_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		m, err := matches.SettleFromExternalVerdict(c.Context(), c.Params("id"), body.WinnerUserID)
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/admin/matches/:id/void-no-show", func(c *fiber.Ctx) error {
		var body struct {
			OffenderUserID string `json:"offender_user_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		m, err := matches.VoidForNoShow(c.Context(), c.Params("id"), body.OffenderUserID)
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Post("/admin/matches/:id/void", func(c *fiber.Ctx) error {
		m, err := matches.VoidByAdmin(c.Context(), c.Params("id"))
		if err != nil {
			return matchError(c, err)
		}
		return c.JSON(m)
	})

	secured.Get("/user/trust", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		score, err := trust.GetScore(userID)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to load trust score", "cause": err.Error()})
		}
		return c.JSON(fiber.Map{"user_id": userID, "score": score})
	})

	secured.Get("/user/trust/history", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		entries, err := trust.History(userID, c.QueryInt("limit", 20))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to load trust history", "cause": err.Error()})
		}
		return c.JSON(fiber.Map{"user_id": userID, "entries": entries, "count": len(entries)})
	})
}

// matchError maps the lifecycle error taxonomy onto HTTP statuses.
func matchError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrMatchNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "match not found"})
	case errors.Is(err, services.ErrNotParticipant):
		return c.Status(403).JSON(fiber.Map{"error": "user is not a participant of this match"})
	case errors.Is(err, services.ErrMatchConcluded):
		return c.Status(409).JSON(fiber.Map{"error": "match already settled or voided"})
	case errors.Is(err, services.ErrStateConflict):
		return c.Status(409).JSON(fiber.Map{"error": "match is not in a valid state for this transition"})
	case errors.Is(err, services.ErrEscrowReservation):
		return c.Status(502).JSON(fiber.Map{"error": "escrow reservation failed", "cause": err.Error()})
	default:
		return c.Status(500).JSON(fiber.Map{"error": "internal error", "cause": err.Error()})
	}
}
