// Package server exposes the engine over HTTP: a JSON REST surface under /v1
// and a websocket stream delivering bus events to subscribed clients.
package server

import (
	"chat-engine/auth"
	"chat-engine/collaborators"
	"chat-engine/contract"
	"chat-engine/observability"
	"chat-engine/services"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const countryHeader = "X-Country-Code"

// Services groups the engine components reachable from HTTP.
type Services struct {
	Chat        *services.ChatService
	Communities *services.CommunityService
	Messages    *services.MessageStore
	Reactions   *services.ReactionAggregator
	Presence    *services.PresenceTracker
	Access      *services.AccessControl
	Bus         contract.IBus
}

type Config struct {
	PingInterval         time.Duration
	ConnectionBufferSize int
}

type Server struct {
	log      *slog.Logger
	services Services
	issuer   auth.TokenIssuer
	limiter  *auth.LimiterPool
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	config   Config
	upgrader websocket.Upgrader
	now      func() time.Time

	// open sockets per user: presence only goes offline with the last one
	mu        sync.Mutex
	sockets   map[string]int
	streams   map[*streamClient]struct{}
	lastStamp time.Time
}

func NewServer(log *slog.Logger, svc Services, issuer auth.TokenIssuer, limiter *auth.LimiterPool,
	metrics *observability.Metrics, gatherer prometheus.Gatherer, config Config) *Server {
	return &Server{
		log:      log,
		services: svc,
		issuer:   issuer,
		limiter:  limiter,
		metrics:  metrics,
		gatherer: gatherer,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:     func() time.Time { return time.Now().UTC() },
		sockets: make(map[string]int),
		streams: make(map[*streamClient]struct{}),
	}
}

// Handler builds the gin engine serving every route.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log), cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", countryHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1", auth.Middleware(s.issuer), country())
	limited := auth.RateLimit(s.limiter, s.metrics)

	v1.GET("/stream", s.stream)

	v1.GET("/conversations", s.listConversations)
	v1.POST("/conversations", limited, s.findOrCreateConversation)
	v1.POST("/conversations/:id/messages", limited, s.sendConversationMessage)
	v1.GET("/conversations/:id/messages", s.listConversationMessages)
	v1.POST("/conversations/:id/read", limited, s.markRead)
	v1.GET("/conversations/:id/unread", s.unreadCount)
	v1.POST("/conversations/:id/typing", limited, s.signalTyping)
	v1.POST("/conversations/:id/deactivate", limited, s.deactivateConversation)

	v1.PUT("/messages/:id/reactions", limited, s.setReaction)
	v1.DELETE("/messages/:id/reactions", limited, s.removeReaction)
	v1.GET("/messages/:id/reactions", s.reactionCounts)

	v1.GET("/communities", s.listCommunities)
	v1.POST("/communities/auto-assign", limited, s.autoAssign)
	v1.POST("/communities/:id/join", limited, s.join)
	v1.POST("/communities/:id/leave", limited, s.leave)
	v1.GET("/communities/:id/messages", s.listCommunityMessages)
	v1.POST("/communities/:id/messages", limited, s.sendCommunityMessage)
	v1.PATCH("/community-messages/:id", limited, s.editCommunityMessage)
	v1.DELETE("/community-messages/:id", limited, s.deleteCommunityMessage)

	v1.GET("/connections", s.listConnections)
	v1.GET("/users/:id/presence", s.presence)

	return router
}

// requestLogger replaces gin's default stdout logger with slog.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
		}
		if userID := auth.UserID(c); userID != "" {
			attrs = append(attrs, "user_id", userID)
		}
		if status >= http.StatusInternalServerError {
			log.Error("HTTP request", attrs...)
			return
		}
		log.Debug("HTTP request", attrs...)
	}
}

// country forwards the edge geo header to the country detector.
func country() gin.HandlerFunc {
	return func(c *gin.Context) {
		if code := c.GetHeader(countryHeader); code != "" {
			c.Request = c.Request.WithContext(collaborators.WithCountry(c.Request.Context(), code))
		}
		c.Next()
	}
}
