package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/apiclient"
	"github.com/example/leaf-check/internal/auth"
)

type credentials struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	Username      string     `json:"username,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (h *handler) session() sessionView {
	view := sessionView{
		Authenticated: h.tokens.Authenticated(),
		Username:      h.tokens.Username(),
	}
	if expiresAt := h.tokens.ExpiresAt(); !expiresAt.IsZero() {
		view.ExpiresAt = &expiresAt
	}
	return view
}

func (h *handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session())
}

func (h *handler) login(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username and password are required"})
		return
	}

	token, err := h.api.Login(c.Request.Context(), creds.Username, creds.Password)
	if err != nil {
		h.remoteError(c, "login", err)
		return
	}

	h.tokens.Set(token.AccessToken, token.TokenType, creds.Username)
	h.logger.Info("session started", zap.String("username", creds.Username))
	c.JSON(http.StatusOK, h.session())
}

func (h *handler) register(c *gin.Context) {
	var reg apiclient.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "username, a valid email and password are required"})
		return
	}

	user, err := h.api.Register(c.Request.Context(), reg)
	if err != nil {
		h.remoteError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// installToken adopts a bearer token obtained elsewhere.
func (h *handler) installToken(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	h.tokens.Set(token, "bearer", "")
	if !h.tokens.Authenticated() {
		h.tokens.Clear()
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "token has expired"})
		return
	}
	c.JSON(http.StatusOK, h.session())
}

func (h *handler) logout(c *gin.Context) {
	h.tokens.Clear()
	c.Status(http.StatusNoContent)
}

func (h *handler) me(c *gin.Context) {
	user, err := h.api.Me(c.Request.Context(), auth.TokenFromContext(c))
	if err != nil {
		h.expireOnUnauthorized(err)
		h.remoteError(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *handler) diseases(c *gin.Context) {
	diseases, err := h.api.Diseases(c.Request.Context(), auth.TokenFromContext(c))
	if err != nil {
		h.expireOnUnauthorized(err)
		h.remoteError(c, "diseases", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diseases": diseases})
}

func (h *handler) history(c *gin.Context) {
	predictions, err := h.api.History(c.Request.Context(), auth.TokenFromContext(c))
	if err != nil {
		h.expireOnUnauthorized(err)
		h.remoteError(c, "history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

// expireOnUnauthorized drops a token the server no longer accepts.
func (h *handler) expireOnUnauthorized(err error) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		h.tokens.Clear()
	}
}
