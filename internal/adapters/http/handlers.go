package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type TelegramAuthRequest struct {
	TelegramID int64  `json:"telegram_id" binding:"required,gt=0"`
	Username   string `json:"username" binding:"max=255"`
	FirstName  string `json:"first_name" binding:"required,max=255"`
	LastName   string `json:"last_name" binding:"max=255"`
	PhotoURL   string `json:"photo_url" binding:"max=512"`
	// InitData is accepted but not verified.
	InitData string `json:"init_data"`
}

type TelegramAuthResponse struct {
	UserID      domain.UserID `json:"user_id"`
	TelegramID  int64         `json:"telegram_id"`
	Username    *string       `json:"username"`
	FirstName   string        `json:"first_name"`
	DisplayName string        `json:"display_name"`
	IsNewUser   bool          `json:"is_new_user"`
}

type UserResponse struct {
	ID          domain.UserID `json:"id"`
	TelegramID  int64         `json:"telegram_id"`
	Username    *string       `json:"username"`
	FirstName   string        `json:"first_name"`
	LastName    *string       `json:"last_name"`
	PhotoURL    *string       `json:"photo_url"`
	IsOnline    bool          `json:"is_online"`
	DisplayName string        `json:"display_name"`
}

type UserListResponse struct {
	Users []UserResponse `json:"users"`
	Total int            `json:"total"`
}

type ConfigResponse struct {
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

func toUserResponse(u domain.User, _ int) UserResponse {
	return UserResponse{
		ID:          u.ID,
		TelegramID:  u.TelegramID,
		Username:    lo.EmptyableToPtr(u.Username),
		FirstName:   u.FirstName,
		LastName:    lo.EmptyableToPtr(u.LastName),
		PhotoURL:    lo.EmptyableToPtr(u.PhotoURL),
		IsOnline:    u.IsOnline,
		DisplayName: u.DisplayName(),
	}
}

func (h *handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to " + h.cfg.AppName,
		"docs":    "disabled",
		"health":  "/health",
		"api":     apiPrefix,
	})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "app": h.cfg.AppName, "debug": h.cfg.Debug()})
}

func (h *handler) iceConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ConfigResponse{ICEServers: h.cfg.ICE.Servers()})
}

func (h *handler) telegramAuth(c *gin.Context) {
	var req TelegramAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	u, created, err := h.deps.Users.Authenticate(c.Request.Context(), app.TelegramProfile{
		TelegramID: req.TelegramID,
		Username:   req.Username,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		PhotoURL:   req.PhotoURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionUserID, int64(u.ID))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Stringer("user_id", u.ID).Msg("session save")
	}

	log.Info().Str("module", "adapters.http").Stringer("user_id", u.ID).Int64("telegram_id", u.TelegramID).
		Bool("new", created).Msg("telegram auth")
	c.JSON(http.StatusOK, TelegramAuthResponse{
		UserID:      u.ID,
		TelegramID:  u.TelegramID,
		Username:    lo.EmptyableToPtr(u.Username),
		FirstName:   u.FirstName,
		DisplayName: u.DisplayName(),
		IsNewUser:   created,
	})
}

func (h *handler) listOnlineUsers(c *gin.Context) {
	users, err := h.deps.Users.ListOnline(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UserListResponse{Users: lo.Map(users, toUserResponse), Total: len(users)})
}

func (h *handler) getUser(c *gin.Context) {
	id, err := domain.ParseUserID(c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	u, err := h.deps.Users.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(*u, 0))
}

// signal authenticates the handshake and hands the request to the websocket
// controller. The id comes from ?user_id= or from the auth session.
func (h *handler) signal(c *gin.Context) {
	raw := c.Query("user_id")
	if raw == "" {
		if v, ok := sessions.Default(c).Get(sessionUserID).(int64); ok {
			raw = domain.UserID(v).String()
		}
	}
	uid, err := domain.ParseUserID(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws handshake rejected")
		writeError(c, err)
		return
	}
	h.deps.Signal.HandleSignal(c, uid)
}

func (h *handler) wsStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Registry.Stats())
}

var errBadRequest = errors.New("bad request")

// writeError maps domain failures onto status codes; anything unknown is a 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrParticipantNotInRoom):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUserAlreadyExists),
		errors.Is(err, domain.ErrParticipantAlreadyInRoom):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidRoomID),
		errors.Is(err, domain.ErrRoomAlreadyClosed),
		errors.As(err, &verrs):
		status = http.StatusBadRequest
	}

	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		detail = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
