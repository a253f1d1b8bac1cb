package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orthofab/printflow/internal/db"
)

func setupAuth(t *testing.T) (*AuthMiddleware, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	require.NoError(t, db.Init(db.Config{Path: ":memory:"}))
	t.Cleanup(func() { db.Close() })

	auth, err := NewAuthMiddleware(db.GetDB())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/setup", auth.SetupHandler)
	router.POST("/login", auth.LoginHandler)
	router.GET("/read", auth.RequireCapability(CapQueueRead), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"org": CallerOrg(c)})
	})
	router.GET("/admin", auth.RequireCapability(CapQueueAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return auth, router
}

func postJSON(router *gin.Engine, path string, body gin.H) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func runSetup(t *testing.T, router *gin.Engine) string {
	t.Helper()

	w := postJSON(router, "/setup", gin.H{"password": "hunter22", "org": "clinic-a"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AgentToken string `json:"agent_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AgentToken)
	return resp.AgentToken
}

func TestSetupRunsOnce(t *testing.T) {
	_, router := setupAuth(t)
	runSetup(t, router)

	w := postJSON(router, "/setup", gin.H{"password": "another1", "org": "clinic-b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetupRejectsShortPassword(t *testing.T) {
	_, router := setupAuth(t)

	w := postJSON(router, "/setup", gin.H{"password": "abc", "org": "clinic-a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginBeforeSetup(t *testing.T) {
	_, router := setupAuth(t)

	w := postJSON(router, "/login", gin.H{"password": "hunter22", "org": "clinic-a"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	_, router := setupAuth(t)
	runSetup(t, router)

	w := postJSON(router, "/login", gin.H{"password": "wrong123", "org": "clinic-a"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAgentTokenCapabilities(t *testing.T) {
	_, router := setupAuth(t)
	agentToken := runSetup(t, router)

	// The agent credential can read the queue.
	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+agentToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// It holds no admin capability.
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+agentToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOperatorTokenCarriesOrg(t *testing.T) {
	_, router := setupAuth(t)
	runSetup(t, router)

	w := postJSON(router, "/login", gin.H{"password": "hunter22", "org": "clinic-a"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic-a")

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingToken(t *testing.T) {
	_, router := setupAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGarbageToken(t *testing.T) {
	_, router := setupAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredToken(t *testing.T) {
	auth, router := setupAuth(t)

	token, err := auth.generateToken("clinic-a", []string{CapQueueRead}, -time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecretSurvivesRestart(t *testing.T) {
	_, router := setupAuth(t)
	agentToken := runSetup(t, router)

	// A second middleware over the same database must accept tokens minted
	// by the first.
	again, err := NewAuthMiddleware(db.GetDB())
	require.NoError(t, err)

	claims, err := again.validateToken(agentToken)
	require.NoError(t, err)
	assert.Contains(t, claims.Capabilities, CapQueueRead)
}
