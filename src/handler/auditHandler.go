package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"signalgate/src/ledger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type auditSubscriber interface {
	Subscribe(buffer int) (<-chan ledger.Entry, func())
}

// AuditFeedHandler streams every new ledger entry to a websocket client
// until it disconnects.
func AuditFeedHandler(l auditSubscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("ws upgrade error")
			return
		}
		defer conn.Close()

		stream, unsub := l.Subscribe(256)
		defer unsub()

		// The client never sends anything; reading only notices the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case entry, ok := <-stream:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(entry); err != nil {
					logger.WithError(err).Debug("ws write error")
					return
				}
			}
		}
	}
}
