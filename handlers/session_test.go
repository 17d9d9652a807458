package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noelys215/arbiter-api/models"
	"github.com/noelys215/arbiter-api/services"
)

type routesFixture struct {
	app     *fiber.App
	db      *gorm.DB
	groupID string
	ownerID string
}

func newRoutesFixture(t *testing.T) *routesFixture {
	t.Helper()
	// A file-backed database: ":memory:" gives every pool connection its own
	// empty database, and requests query through more than one connection.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Group{},
		&models.GroupMembership{},
		&models.MemberUser{},
		&models.Title{},
		&models.WatchlistItem{},
		&models.TonightSession{},
		&models.TonightSessionCandidate{},
		&models.TonightVote{},
	))

	ownerID := uuid.NewString()
	groupID := uuid.NewString()
	require.NoError(t, db.Create(&models.Group{
		ID:      groupID,
		Name:    "movie night",
		OwnerID: ownerID,
	}).Error)
	require.NoError(t, db.Create(&models.GroupMembership{
		ID:      uuid.NewString(),
		GroupID: groupID,
		UserID:  ownerID,
	}).Error)

	for i := 0; i < 4; i++ {
		title := models.Title{
			ID:        uuid.NewString(),
			Source:    "manual",
			MediaType: "movie",
			Name:      "title " + uuid.NewString()[:8],
		}
		require.NoError(t, db.Create(&title).Error)
		require.NoError(t, db.Create(&models.WatchlistItem{
			ID:      uuid.NewString(),
			GroupID: groupID,
			TitleID: title.ID,
			Status:  "watchlist",
		}).Error)
	}

	app := fiber.New()
	SetupSessionRoutes(app, services.NewSessionService(db, nil, nil))
	return &routesFixture{app: app, db: db, groupID: groupID, ownerID: ownerID}
}

func (f *routesFixture) request(t *testing.T, method, path, userID string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRoutesRequireUserContext(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "POST", "/groups/"+f.groupID+"/sessions", "", fiber.Map{})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Contains(t, body["error"], "X-User-ID")
}

func TestCreateSessionOverHTTP(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "POST", "/groups/"+f.groupID+"/sessions", f.ownerID, fiber.Map{
		"constraints": fiber.Map{"format": "any"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, f.groupID, body["group_id"])
	assert.Equal(t, "swiping", body["phase"])
	assert.NotEmpty(t, body["personal_deck_item_ids"])

	sessionID, ok := body["id"].(string)
	require.True(t, ok)

	resp = f.request(t, "GET", "/sessions/"+sessionID, f.ownerID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	state := decodeBody(t, resp)
	assert.Equal(t, sessionID, state["id"])
	assert.Equal(t, "active", state["status"])
}

func TestCreateSessionRejectsNonMember(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "POST", "/groups/"+f.groupID+"/sessions", uuid.NewString(), fiber.Map{})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestGetUnknownSessionReturns404(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "GET", "/sessions/"+uuid.NewString(), f.ownerID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestVoteValidationOverHTTP(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "POST", "/groups/"+f.groupID+"/sessions", f.ownerID, fiber.Map{
		"constraints": fiber.Map{"format": "any"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	sessionID := created["id"].(string)

	// invalid vote value fails validation
	resp = f.request(t, "POST", "/sessions/"+sessionID+"/vote", f.ownerID, fiber.Map{
		"watchlist_item_id": uuid.NewString(),
		"vote":              "maybe",
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// well-formed vote on a deck item succeeds
	deck := created["personal_deck_item_ids"].([]interface{})
	require.NotEmpty(t, deck)
	resp = f.request(t, "POST", "/sessions/"+sessionID+"/vote", f.ownerID, fiber.Map{
		"watchlist_item_id": deck[0].(string),
		"vote":              "yes",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWatchPartyOverHTTP(t *testing.T) {
	f := newRoutesFixture(t)

	resp := f.request(t, "POST", "/groups/"+f.groupID+"/sessions", f.ownerID, fiber.Map{
		"constraints": fiber.Map{"format": "any"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	sessionID := decodeBody(t, resp)["id"].(string)

	resp = f.request(t, "PATCH", "/sessions/"+sessionID+"/watch-party", f.ownerID, fiber.Map{
		"url": "https://teleparty.example/room/abc",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var session models.TonightSession
	require.NoError(t, f.db.First(&session, "id = ?", sessionID).Error)
	require.NotNil(t, session.WatchPartyURL)
	assert.Equal(t, "https://teleparty.example/room/abc", *session.WatchPartyURL)
	require.NotNil(t, session.WatchPartySetByUserID)
	assert.Equal(t, f.ownerID, *session.WatchPartySetByUserID)
}
