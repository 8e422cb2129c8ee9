package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"setlist-sync/domain"
)

const saveRequestMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth Authenticator, gateway *Gateway, logger *log.Logger) {
	e.GET("/api/documents/:id", getDocument(store, auth))
	e.PUT("/api/documents/:id", putDocument(store, auth, logger))
	e.POST("/api/documents/:id/access", postAccess(auth))
	e.GET("/api/documents/:id/stream", streamDocument(store, auth, defaultStreamInterval))
	if gateway != nil {
		e.GET("/ws/documents/:id", gateway.Handler(auth))
	}
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getDocument(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.EditorFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		doc, err := store.FetchDocument(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "document not found", Code: "NOT_FOUND"})
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, doc)
	}
}

func putDocument(store Store, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newSaveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		editor, authErr := auth.EditorFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		lr := io.LimitReader(c.Request().Body, saveRequestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)

		var req saveRequest
		if decodeErr := dec.Decode(&req); decodeErr != nil {
			metrics.SetErrorStage("decode_body")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		docID := c.Param("id")
		if req.Document.ID != "" && req.Document.ID != docID {
			metrics.SetErrorStage("id_mismatch")
			err = c.String(http.StatusBadRequest, "document id does not match path")
			return err
		}
		req.Document.ID = docID
		metrics.SetItemCount(len(req.Document.Items))

		if editor.Role == RoleLimited {
			if field := changedMetadataField(ctx, store, req.Document); field != "" {
				metrics.SetErrorStage("forbidden_metadata")
				err = c.JSON(http.StatusForbidden, errorResponse{
					Error: "limited editors cannot change " + field,
					Code:  "FORBIDDEN",
				})
				return err
			}
		}

		saveStart := time.Now()
		result, saveErr := store.SaveDocument(ctx, req.Document, req.ExpectedUpdatedAt, editor.Name)
		metrics.ObserveSave(time.Since(saveStart))
		if saveErr != nil {
			var conflict domain.ConflictError
			if errors.As(saveErr, &conflict) {
				metrics.SetConflict(true)
				err = c.JSON(http.StatusConflict, errorResponse{
					Error:           "document was modified concurrently",
					Code:            "CONFLICT",
					ServerUpdatedAt: conflict.ServerUpdatedAt,
				})
				return err
			}
			if errors.Is(saveErr, domain.ErrNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, errorResponse{Error: "document not found", Code: "NOT_FOUND"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(saveErr)
			err = c.String(http.StatusInternalServerError, saveErr.Error())
			return err
		}

		err = c.JSON(http.StatusOK, saveResponse{
			UpdatedAt:    result.UpdatedAt,
			LastEditedBy: result.LastEditedBy,
		})
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// changedMetadataField returns the first event metadata field the incoming
// snapshot would change, or "" when metadata is intact. A missing current
// document is not treated as a change; the conditional save surfaces the
// real error.
func changedMetadataField(ctx context.Context, store Store, incoming domain.Document) string {
	current, err := store.FetchDocument(ctx, incoming.ID)
	if err != nil {
		return ""
	}
	switch {
	case incoming.Title != current.Title:
		return "title"
	case incoming.EventDate != current.EventDate:
		return "eventDate"
	case incoming.StartTime != current.StartTime:
		return "startTime"
	case incoming.Venue != current.Venue:
		return "venue"
	}
	return ""
}

func postAccess(auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		lr := io.LimitReader(c.Request().Body, saveRequestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)

		var req accessRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		name := strings.TrimSpace(req.DisplayName)
		if name == "" {
			return c.String(http.StatusBadRequest, "displayName is required")
		}
		role, err := auth.RoleForPassword(req.Password)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid password", Code: "BAD_PASSWORD"})
		}
		token, err := auth.IssueAccessToken(c.Param("id"), name, role)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to issue token")
		}
		return c.JSON(http.StatusOK, accessResponse{Role: string(role), Token: token})
	}
}
