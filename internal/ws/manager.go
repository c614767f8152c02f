package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/pkg/jwt"
	"github.com/draftwire/draftwire/internal/session"
)

// Manager upgrades HTTP requests to websocket connections. The token is
// verified exactly once here; the connection trusts the resolved identity for
// all subsequent events.
type Manager struct {
	hub       *Hub
	svc       DraftService
	registry  *session.Registry
	jwtSecret []byte
	queueLen  int
	upgrader  websocket.Upgrader
}

func NewManager(hub *Hub, svc DraftService, registry *session.Registry, jwtSecret []byte, allowedOrigins []string, queueLen int) *Manager {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return &Manager{
		hub:       hub,
		svc:       svc,
		registry:  registry,
		jwtSecret: jwtSecret,
		queueLen:  queueLen,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (m *Manager) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}
	claims, err := jwt.ParseToken(token, m.jwtSecret)
	if err != nil {
		c.String(http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Warn("websocket upgrade failed",
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.Error(err))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, m.svc, m.registry, claims.UserID, m.queueLen)
	go wsConn.writeLoop()
	wsConn.readLoop(c.Request.Context())
}
