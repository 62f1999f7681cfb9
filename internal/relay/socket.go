package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

var errBackpressure = errors.New("relay: send buffer full")

// wsConn adapts a *websocket.Conn to core.SignalConnection, grounded on
// the teacher's wsSignalConn (buffered send channel, TrySend never
// blocks, Close is idempotent).
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame
	once sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn, send: make(chan core.Frame, 64)}
}

func (c *wsConn) TrySend(f core.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return errBackpressure
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

var upgrader = websocket.Upgrader{}

// checkOrigin builds the upgrader's CheckOrigin callback from the
// configured allow-list; an empty list allows any origin (local dev).
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == origin {
				return true
			}
		}
		return false
	}
}

// bearerToken extracts the handshake token from the query string or an
// Authorization header, matching spec.md §4.2's handshake contract.
func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	auth := c.GetHeader("Authorization")
	return strings.TrimPrefix(auth, "Bearer ")
}

// HandleSocket upgrades the connection, authenticates it via C1, and
// starts its read/write pumps. Failure at any stage before the upgrade
// refuses the connection outright (spec.md §4.4: "unauthenticated
// socket: connection is refused at handshake; no room state is
// created").
func (r *Relay) HandleSocket(ctx context.Context, c *gin.Context) {
	remote := c.ClientIP()
	if !r.limiter.Allow(remote) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": string(domain.CodeRateLimited)})
		return
	}

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(domain.CodeAuthenticationFailed)})
		return
	}
	identity, err := r.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(domain.CodeAuthenticationFailed)})
		return
	}

	// A guest token is minted fresh by the client on every page load, so
	// its claimed id can't anchor rebind matching across a reload. The
	// visitor cookie can: substituting it as the guest's UserID lets
	// registry.join's existing rebind-by-user logic hand the returning
	// guest the same peerId (SPEC_FULL.md §9).
	if identity.ID.IsGuest() {
		if vid := visitorID(c); vid != "" {
			identity.ID = domain.UserID(domain.GuestUserIDPrefix + vid)
		}
	}

	upgrader.CheckOrigin = checkOrigin(r.cfg.AllowedOrigins)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	ws.SetReadLimit(r.cfg.ReadLimit)

	conn := newWSConn(ws)
	socketID := domain.SocketID(uuid.NewString())
	state := &connState{socketID: socketID, identity: identity}

	connCtx, cancel := context.WithCancel(ctx)

	r.log.Info().Str("socket", string(socketID)).Str("user", string(identity.ID)).Msg("socket authenticated")

	go r.writePump(connCtx, conn)
	go r.readPump(connCtx, cancel, conn, state)
}

func (r *Relay) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(r.cfg.PingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *Relay) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn, state *connState) {
	defer func() {
		cancel()
		r.onDisconnect(state)
		c.Close()
	}()

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * r.cfg.PingPeriod))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * r.cfg.PingPeriod))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			r.handleFrame(ctx, c, state, core.Frame(data))
		}
	}
}

func (r *Relay) onDisconnect(state *connState) {
	r.sfu.LeaveSfu(state.socketID)
	r.rooms.HandleDisconnect(state.socketID)
}
