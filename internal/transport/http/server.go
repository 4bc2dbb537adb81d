package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/auth"
	"github.com/vovakirdan/meetrelay/internal/config"
	"github.com/vovakirdan/meetrelay/internal/core"
)

// MeetPath is where meeting signaling sockets are served.
const MeetPath = "/ws/meet"

// NewServer builds the HTTP server: health, meeting sockets and read-only
// room and ICE endpoints.
func NewServer(relay *core.Relay, cfg *config.Config, logger *zerolog.Logger) (*stdhttp.Server, error) {
	iceServers, err := cfg.WebRTCICEServers()
	if err != nil {
		return nil, fmt.Errorf("ice servers: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	jwtConfig := jwtConfigFrom(cfg)
	var protected []gin.HandlerFunc
	if jwtConfig.Enabled() {
		protected = append(protected, AuthMiddleware(jwtConfig, logger))
	}

	router.GET("/health", healthHandler(relay))

	rooms := NewRoomHandlers(relay, logger)
	api := router.Group("/api", protected...)
	api.GET("/rooms", rooms.ListRooms)
	api.GET("/rooms/:classroomId", rooms.GetRoom)
	api.GET("/ice-servers", iceServersHandler(iceServers))

	// The meeting socket bypasses gin: it needs the raw ResponseWriter to
	// hijack the connection.
	var ws stdhttp.Handler = NewWSHandler(relay, cfg, logger)
	if jwtConfig.Enabled() {
		ws = RequireToken(jwtConfig, logger, ws)
	}

	mux := stdhttp.NewServeMux()
	mux.Handle(MeetPath, ws)
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, nil
}

func jwtConfigFrom(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string     `json:"status"`
	Relay  core.Stats `json:"relay"`
}

func healthHandler(relay *core.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, HealthResponse{Status: "ok", Relay: relay.Stats()})
	}
}

// ICEServersResponse is returned by /api/ice-servers.
type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func iceServersHandler(servers []webrtc.ICEServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, ICEServersResponse{ICEServers: servers})
	}
}
