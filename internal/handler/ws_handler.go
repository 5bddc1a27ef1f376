package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/logx"
)

// HandleWebSocket upgrades the request and serves the connection until it
// ends. Rooms are chosen later with a join frame.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("failed to upgrade connection to websocket", "error", err.Error())
			return
		}

		client := chat.NewClient(deps.Hub, conn, deps.Config.MaxFrameBytes)
		if err := client.Serve(r.Context()); err != nil {
			if errors.Is(err, chat.ErrHubClosed) {
				logx.Info("websocket connection refused: server shutting down")
				return
			}
			logx.Error(err, "websocket connection could not be registered")
		}
	}
}
