package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/trackroom/backend/internal/accounts"
	"github.com/trackroom/backend/internal/library"
	"github.com/trackroom/backend/internal/storage"
	"github.com/trackroom/backend/internal/teams"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "trackroom_user_id"

	// Uploads are rejected beyond this size.
	maxRequestBytes = 16 << 20

	defaultCookieName = "trackroom_token"
)

var (
	errMissingAccountsService = errors.New("accounts service dependency required")
	errMissingLibraryService  = errors.New("library service dependency required")
	errMissingTeamsService    = errors.New("teams service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
)

// TokenManager issues and validates session tokens.
type TokenManager interface {
	Issue(userID uint) (string, int64, error)
	Validate(token string) (uint, error)
}

// Dependencies wires the domain services into the HTTP layer.
type Dependencies struct {
	Accounts   *accounts.Service
	Library    *library.Service
	Teams      *teams.Service
	Tokens     TokenManager
	CookieName string
	Logger     *zap.Logger
}

// NewHTTPHandler builds the Trackroom HTTP surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountsService
	}
	if deps.Library == nil {
		return nil, errMissingLibraryService
	}
	if deps.Teams == nil {
		return nil, errMissingTeamsService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := deps.CookieName
	if cookieName == "" {
		cookieName = defaultCookieName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.MaxMultipartMemory = maxRequestBytes

	handler := &httpHandler{
		accounts:   deps.Accounts,
		library:    deps.Library,
		teams:      deps.Teams,
		tokens:     deps.Tokens,
		cookieName: cookieName,
		logger:     logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/auth/logout", handler.handleLogout)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/library", handler.handleListLibrary)
	protected.POST("/library", handler.handleLibraryUpload)
	protected.GET("/library/:id", handler.handleLibraryDetail)
	protected.GET("/library/:id/download", handler.handleLibraryDownload)
	protected.DELETE("/library/:id", handler.handleLibraryDelete)
	protected.POST("/library/:id/loops", handler.handleAddLoop)
	protected.POST("/library/:id/notes", handler.handleAddNote)
	protected.DELETE("/library/:id/notes/:noteID", handler.handleDeleteNote)
	protected.PUT("/library/:id/speed", handler.handleSetSpeed)

	protected.GET("/teams", handler.handleListTeams)
	protected.POST("/teams", handler.handleCreateTeam)
	protected.POST("/teams/join", handler.handleJoinTeam)
	protected.GET("/teams/:id", handler.handleTeamDetail)
	protected.POST("/teams/:id/uploads", handler.handleTeamUpload)
	protected.GET("/teams/:id/uploads/:uploadID/download", handler.handleTeamDownload)
	protected.DELETE("/teams/:id/uploads/:uploadID", handler.handleTeamDeleteUpload)

	return router, nil
}

type httpHandler struct {
	accounts   *accounts.Service
	library    *library.Service
	teams      *teams.Service
	tokens     TokenManager
	cookieName string
	logger     *zap.Logger
}

// authorizeRequest resolves the session token from the Authorization header,
// falling back to the session cookie.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		if cookie, err := c.Cookie(h.cookieName); err == nil {
			token = cookie
		}
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) (uint, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	userID, ok := value.(uint)
	if !ok || userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

// uintParam parses a numeric path parameter. Non-numeric ids are
// indistinguishable from missing resources.
func uintParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return 0, false
	}
	return uint(value), true
}

func contentDisposition(kind, filename string) string {
	escaped := strings.ReplaceAll(filename, `"`, `\"`)
	return fmt.Sprintf(`%s; filename="%s"`, kind, escaped)
}

// respondError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors surface as a generic server failure, distinct from bad input.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials),
		errors.Is(err, teams.ErrInvalidTeamCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, accounts.ErrConflict), errors.Is(err, teams.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, teams.ErrNotMember), errors.Is(err, teams.ErrNotUploader):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, accounts.ErrNotFound),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, teams.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, library.ErrUnsupportedType), errors.Is(err, teams.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_type"})
	case errors.Is(err, library.ErrMissingFile), errors.Is(err, teams.ErrMissingFile),
		errors.Is(err, library.ErrInvalidRange),
		errors.Is(err, library.ErrMissingFields),
		errors.Is(err, accounts.ErrMissingFields),
		errors.Is(err, teams.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
