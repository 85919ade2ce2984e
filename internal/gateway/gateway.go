// Package gateway exposes the sync core to local clients over a websocket.
// One daemon serves one signed-in user; a connection authenticates with a
// bearer token, then exchanges JSON frames: commands in, full-snapshot
// pushes out.
package gateway

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/directory"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/messages"
	"github.com/driftchat/drift/internal/outbox"
	"github.com/driftchat/drift/internal/presence"
	"github.com/driftchat/drift/internal/registry"
)

const defaultSearchLimit = 20

var upgrader = websocket.Upgrader{
	// The daemon binds to loopback; origin checks add nothing there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway owns the HTTP surface of the daemon.
type Gateway struct {
	verifier  *identity.Verifier
	emitter   *identity.Emitter
	registry  *registry.Registry
	messages  *messages.Store
	directory *directory.Directory
	presence  *presence.Tracker
	outbox    *outbox.Sender
	bus       *bus.Bus
	logger    *zap.Logger

	window      int
	searchLimit int

	// One connection owns the session at a time; a newer one supersedes it.
	connMu sync.Mutex
	active *websocket.Conn
}

// Params collects the gateway dependencies.
type Params struct {
	Verifier  *identity.Verifier
	Emitter   *identity.Emitter
	Registry  *registry.Registry
	Messages  *messages.Store
	Directory *directory.Directory
	Presence  *presence.Tracker
	Outbox    *outbox.Sender
	Bus       *bus.Bus
	Logger    *zap.Logger
	Window    int
}

// New creates a gateway.
func New(p Params) *Gateway {
	window := p.Window
	if window <= 0 {
		window = 50
	}
	return &Gateway{
		verifier:    p.Verifier,
		emitter:     p.Emitter,
		registry:    p.Registry,
		messages:    p.Messages,
		directory:   p.Directory,
		presence:    p.Presence,
		outbox:      p.Outbox,
		bus:         p.Bus,
		logger:      p.Logger,
		window:      window,
		searchLimit: defaultSearchLimit,
	}
}

// Router builds the HTTP routes.
func (g *Gateway) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", g.connect)
	return r
}

func (g *Gateway) connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	id, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Warn("ws auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	// The daemon serves one live session; a new connection supersedes any
	// previous one instead of racing it for the sign-in state. Sign-in binds
	// the directory profile and marks the user online through the session
	// binder; sign-out undoes it when the owning connection drops. Both
	// transitions happen under connMu so a superseded connection can never
	// sign out its successor.
	g.connMu.Lock()
	prev := g.active
	g.active = conn
	g.emitter.SignIn(id)
	g.connMu.Unlock()
	if prev != nil {
		g.logger.Info("ws superseded", zap.String("uid", id.UID))
		_ = prev.Close()
	}
	defer func() {
		g.connMu.Lock()
		if g.active == conn {
			g.active = nil
			g.emitter.SignOut()
		}
		g.connMu.Unlock()
	}()

	g.logger.Info("ws connected", zap.String("uid", id.UID))
	cl := newClient(g, conn, *id)
	cl.run(c.Request.Context())
	g.logger.Info("ws disconnected", zap.String("uid", id.UID))
}
