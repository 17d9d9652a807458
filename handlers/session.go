// handlers/session.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noelys215/arbiter-api/middleware"
	"github.com/noelys215/arbiter-api/services"
)

func SetupSessionRoutes(app *fiber.App, sessionService *services.SessionService) {
	// 🔐 Every session route acts on behalf of a member — user context required
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/groups/:group_id/sessions", sessionService.CreateSession)
	secured.Get("/sessions/:id", sessionService.GetSessionState)
	secured.Post("/sessions/:id/vote", sessionService.CastVote)
	secured.Post("/sessions/:id/shuffle", sessionService.ShuffleAndComplete)
	secured.Post("/sessions/:id/revote", sessionService.StartRevote)
	secured.Post("/sessions/:id/end", sessionService.EndSession)
	secured.Patch("/sessions/:id/watch-party", sessionService.SetWatchParty)
}
