package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const defaultStreamInterval = 5 * time.Second

// streamDocument serves a server-sent-events feed of document snapshots for
// read-only displays (stage monitors, printed-setlist previews) that do not
// participate in editing. EventSource cannot set headers, so the bearer token
// may arrive as a query parameter.
func streamDocument(store Store, auth Authenticator, interval time.Duration) echo.HandlerFunc {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		if _, err := auth.EditorFromAuthHeader(header); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		docID := c.Param("id")
		ctx := c.Request().Context()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastSent int64 = -1
		for {
			doc, err := store.FetchDocument(ctx, docID)
			if err == nil && doc.UpdatedAt != lastSent {
				data, _ := sonic.Marshal(doc)
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
				lastSent = doc.UpdatedAt
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				continue
			}
		}
	}
}
