package ws

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// NewUpgrader создает upgrader, пропускающий только allowedOrigins.
// allowAll разрешает любые origin (режим разработки).
func NewUpgrader(allowedOrigins []string, allowAll bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			// не браузерные клиенты origin не присылают
			if origin == "" {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}
