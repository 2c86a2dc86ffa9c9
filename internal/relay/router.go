package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

const ctxUserKey = "relay.user"

// Server wires the lifecycle API and the signaling hub under one router.
type Server struct {
	reg    *Registry
	hub    *Hub
	secret string
	log    zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(reg *Registry, hub *Hub, secret string, log zerolog.Logger) *Server {
	return &Server{
		reg:    reg,
		hub:    hub,
		secret: secret,
		log:    log.With().Str("module", "relay").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/video", s.auth())
	api.POST("/create-room", s.createRoom)
	api.POST("/join-room/:room", s.joinRoom)
	api.POST("/end-room/:room", s.endRoom)
	api.GET("/check-room/:room", s.checkRoom)

	r.GET("/ws/signal", s.auth(), s.serveWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

// auth resolves the participant from a bearer token (header or, for
// websockets, query). With no secret configured the relay runs in dev
// mode and trusts the client-supplied identity.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		user, err := s.resolveUser(c, token)
		if err != nil {
			s.log.Warn().Err(err).Str("path", c.FullPath()).Msg("auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ctxUserKey, user)
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

func (s *Server) resolveUser(c *gin.Context, token string) (domain.Participant, error) {
	if s.secret != "" {
		return s.verifiedUser(token)
	}
	if token != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
			if user, err := userFromClaims(claims); err == nil {
				return user, nil
			}
		}
	}
	role, err := domain.ParseRole(c.DefaultQuery("role", string(domain.RolePatient)))
	if err != nil {
		return domain.Participant{}, err
	}
	return domain.NewParticipant(
		domain.UserID(c.Query("user_id")),
		c.DefaultQuery("user_name", "anonymous"),
		role,
	)
}

func (s *Server) verifiedUser(token string) (domain.Participant, error) {
	if token == "" {
		return domain.Participant{}, errors.New("missing token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Participant{}, errors.New("unexpected claims type")
	}
	return userFromClaims(claims)
}

func userFromClaims(claims jwt.MapClaims) (domain.Participant, error) {
	var id domain.UserID
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		id = domain.UserID(sub)
	} else if v, ok := claims["user_id"].(string); ok {
		id = domain.UserID(v)
	}
	if id == "" {
		return domain.Participant{}, errors.New("token carries no subject")
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = string(id)
	}
	role := domain.RolePatient
	if v, ok := claims["role"].(string); ok {
		if r, err := domain.ParseRole(v); err == nil {
			role = r
		}
	}
	return domain.NewParticipant(id, name, role)
}

func currentUser(c *gin.Context) domain.Participant {
	return c.MustGet(ctxUserKey).(domain.Participant)
}

type createRoomRequest struct {
	TargetID domain.UserID `json:"target_id"`
}

type endRoomRequest struct {
	Reason string `json:"reason"`
}

func roomInfo(room *domain.Room) core.RoomInfo {
	return core.RoomInfo{
		Room:         room.ID,
		Participants: room.Participants,
		CreatedAt:    room.CreatedAt,
	}
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	// Body is optional; target_id is informational for now.
	_ = c.ShouldBindJSON(&req)
	room, err := s.reg.CreateRoom(c.Request.Context(), currentUser(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, roomInfo(room))
}

func (s *Server) joinRoom(c *gin.Context) {
	user := currentUser(c)
	room, err := s.reg.JoinRoom(c.Request.Context(), domain.RoomID(c.Param("room")), user)
	if err != nil {
		s.roomError(c, err)
		return
	}
	s.hub.NotifyJoined(room.ID, user)
	c.JSON(http.StatusOK, roomInfo(room))
}

func (s *Server) endRoom(c *gin.Context) {
	var req endRoomRequest
	_ = c.ShouldBindJSON(&req)
	room, err := s.reg.EndRoom(c.Request.Context(), domain.RoomID(c.Param("room")), currentUser(c).ID, req.Reason)
	if err != nil {
		s.roomError(c, err)
		return
	}
	s.hub.NotifyRoomEnded(room)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) checkRoom(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.CheckRoom(c.Request.Context(), domain.RoomID(c.Param("room"))))
}

func (s *Server) roomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrRoomFull):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) serveWS(c *gin.Context) {
	user := currentUser(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	s.hub.ServeConn(conn, user)
}

// RunSweeper periodically ends stale rooms and notifies their members.
// Blocks until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, room := range s.reg.SweepStale(ctx) {
				s.hub.NotifyRoomEnded(room)
			}
		}
	}
}
