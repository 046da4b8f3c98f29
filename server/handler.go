package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHandler creates the HTTP handler with all routes. The WebSocket
// endpoint is parameterized by session, user id and username; a client may
// also supply identity in its join_document message.
func NewHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()

	// Serve static files.
	fs := http.FileServer(http.Dir("static"))
	mux.Handle("/", fs)

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}

		q := r.URL.Query()
		client := newClient(hub, conn, q.Get("user"), q.Get("name"))
		go client.WritePump()
		go client.ReadPump()

		if docID := q.Get("session"); docID != "" {
			hub.joinDoc <- joinRequest{client: client, docID: docID}
		}
	})

	return mux
}
