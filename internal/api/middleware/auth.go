package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orthofab/printflow/internal/db"
)

// Capabilities carried by a token. Handlers consume the pre-validated set;
// the agent credential holds read+write only, operators additionally hold
// admin.
const (
	CapQueueRead  = "queue:read"
	CapQueueWrite = "queue:write"
	CapQueueAdmin = "queue:admin"
)

const (
	cookieName           = "printflow_auth"
	operatorTokenTTL     = 24 * time.Hour
	agentTokenTTL        = 365 * 24 * time.Hour
	settingsKeyPassword  = "operator_password"
	settingsKeyJWTSecret = "jwt_secret"

	ctxKeyOrg  = "org"
	ctxKeyCaps = "capabilities"
)

type Claims struct {
	jwt.RegisteredClaims
	Org          string   `json:"org,omitempty"`
	Capabilities []string `json:"caps"`
}

type AuthMiddleware struct {
	db     *sql.DB
	secret []byte
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
	Org      string `json:"org" binding:"required"`
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
	Org      string `json:"org" binding:"required"`
}

func NewAuthMiddleware(database *sql.DB) (*AuthMiddleware, error) {
	a := &AuthMiddleware{db: database}

	secret, err := a.getOrCreateSecret()
	if err != nil {
		return nil, err
	}
	a.secret = secret

	return a, nil
}

func (a *AuthMiddleware) getOrCreateSecret() ([]byte, error) {
	ctx := context.Background()
	setting, err := db.Settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return nil, err
			}
			secretHex := hex.EncodeToString(secret)
			if err := db.Settings.SetSetting(ctx, settingsKeyJWTSecret, secretHex, false); err != nil {
				return nil, err
			}
			return secret, nil
		}
		return nil, err
	}
	return hex.DecodeString(setting.Value)
}

func (a *AuthMiddleware) isSetupRequired() bool {
	_, err := db.Settings.GetSetting(context.Background(), settingsKeyPassword)
	return errors.Is(err, sql.ErrNoRows)
}

func (a *AuthMiddleware) generateToken(org string, capabilities []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "printflow",
		},
		Org:          org,
		Capabilities: capabilities,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

// SetupHandler runs once on a fresh install: it stores the operator
// credential and mints the long-lived agent token the processing agent will
// poll with.
func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	if !a.isSetupRequired() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request, password must be at least 6 characters"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	if err := db.Settings.SetSetting(c.Request.Context(), settingsKeyPassword, string(hashedPassword), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save password"})
		return
	}

	agentToken, err := a.generateToken("", []string{CapQueueRead, CapQueueWrite}, agentTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate agent token"})
		return
	}

	operatorToken, err := a.generateToken(req.Org,
		[]string{CapQueueRead, CapQueueWrite, CapQueueAdmin}, operatorTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	a.setAuthCookie(c, operatorToken)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"agent_token": agentToken,
	})
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if a.isSetupRequired() {
		c.JSON(http.StatusForbidden, gin.H{"error": "setup required"})
		return
	}

	setting, err := db.Settings.GetSetting(c.Request.Context(), settingsKeyPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, err := a.generateToken(req.Org,
		[]string{CapQueueRead, CapQueueWrite, CapQueueAdmin}, operatorTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	a.setAuthCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	a.clearAuthCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *AuthMiddleware) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(operatorTokenTTL.Seconds()), "/", "", true, true)
}

func (a *AuthMiddleware) clearAuthCookie(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
}

// RequireCapability validates the token and rejects callers whose capability
// set lacks the named capability. The caller org and full set are exposed to
// handlers through the context.
func (a *AuthMiddleware) RequireCapability(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		if !hasCapability(claims.Capabilities, capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing capability: " + capability})
			return
		}

		c.Set(ctxKeyOrg, claims.Org)
		c.Set(ctxKeyCaps, claims.Capabilities)
		c.Next()
	}
}

func hasCapability(capabilities []string, capability string) bool {
	for _, c := range capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CallerOrg returns the organization asserted by the validated token.
func CallerOrg(c *gin.Context) string {
	return c.GetString(ctxKeyOrg)
}
