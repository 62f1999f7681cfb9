package relay

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// visitorSessionKey is the session key holding the anonymous visitor id
// issued before the WebSocket handshake resolves an actual identity
// (mirrors the teacher's ClientTokenMiddleware). It gives a guest who
// refreshes the page the same peer lineage across reconnects even
// though no bearer token names them.
const visitorSessionKey = "visitor_id"

// VisitorCookieMiddleware assigns a stable per-browser visitor id
// stored in the signed session cookie, independent of the guest
// token minted at handshake time (spec.md §3's guest identity). It is
// mounted ahead of the WebSocket route so a returning guest keeps one
// visitor id across tabs and reconnects.
func VisitorCookieMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get(visitorSessionKey) == nil {
			session.Set(visitorSessionKey, uuid.NewString())
			_ = session.Save()
		}
		c.Next()
	}
}

func visitorID(c *gin.Context) string {
	session := sessions.Default(c)
	id, _ := session.Get(visitorSessionKey).(string)
	return id
}
