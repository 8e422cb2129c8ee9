package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"setlist-sync/internal/consts"
)

// Gateway bridges browser websocket connections onto the Redis operation
// channel, so web clients participate in the same broadcast fabric as native
// sessions.
type Gateway struct {
	redis    *redis.Client
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a Gateway publishing through the given Redis client.
func NewGateway(rdb *redis.Client, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{
		redis:  rdb,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler upgrades the connection and relays frames both ways until either
// side closes. Browsers cannot set an Authorization header on the upgrade
// request, so the bearer token may also arrive as a query parameter.
func (g *Gateway) Handler(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		editor, err := auth.EditorFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		docID := c.Param("id")
		conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		logger := g.logger.WithFields(log.Fields{
			"doc_id": docID,
			"editor": editor.ID,
		})
		logger.Info("websocket session opened")
		g.relay(c, conn, docID, logger)
		logger.Info("websocket session closed")
		return nil
	}
}

func (g *Gateway) relay(c echo.Context, conn *websocket.Conn, docID string, logger *log.Entry) {
	defer conn.Close()

	ctx := c.Request().Context()
	channel := consts.OperationChannelPrefix + docID
	sub := g.redis.Subscribe(ctx, channel)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("websocket read failed")
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := g.redis.Publish(ctx, channel, payload).Err(); err != nil {
			logger.WithError(err).Warn("failed to publish client operation")
			break
		}
	}

	sub.Close()
	<-done
}
