package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/export"
	"chatrelay/internal/router"
	"chatrelay/internal/store"
	"chatrelay/internal/translator"
)

const defaultAnalyticsDays = 7

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := s.app.Group("/api")
	api.GET("/providers", s.handleProviders)
	api.POST("/chat", s.handleChat)
	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleCreateSession)
	api.POST("/sessions/import", s.handleImportSession)
	api.GET("/sessions/:id", s.handleLoadSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/export", s.handleExportSession)
	api.GET("/analytics", s.handleAnalytics)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(c echo.Context) error {
	providers := s.router.Providers()
	if providers == nil {
		providers = []router.ProviderInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "providers": providers})
}

// handleChat answers adapter failures with 200 and ok=false; only malformed
// requests get a 4xx status.
func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	if req.Stream {
		return s.streamChat(c, req.ToRouter())
	}

	res := s.router.Chat(c.Request().Context(), req.ToRouter())
	return c.JSON(http.StatusOK, translator.FromResult(res))
}

func (s *Server) streamChat(c echo.Context, req router.Request) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{Status: http.StatusInternalServerError, Message: "server does not support streaming responses"}
	}

	sessionID, events := s.router.Stream(c.Request().Context(), req)

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	for ev := range events {
		if err := writeSSEEvent(c.Response(), translator.FromEvent(ev, sessionID)); err != nil {
			slog.Warn("client went away during stream", "session_id", sessionID, "error", err)
			return nil
		}
		flusher.Flush()
	}
	return nil
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.router.ListSessions(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "sessions": sessions})
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if c.Request().ContentLength != 0 {
		if err := decodeRequestBody(c, &req); err != nil {
			return err
		}
	}
	id, err := s.router.CreateSession(c.Request().Context(), req.Title)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

func (s *Server) handleLoadSession(c echo.Context) error {
	conv, err := s.router.LoadSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "session": conv})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.router.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "deleted": true})
}

func (s *Server) handleExportSession(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: err.Error()}
	}

	id := c.Param("id")
	body, err := s.router.ExportSession(c.Request().Context(), id, format)
	if err != nil {
		return storeError(err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+format.Filename(id)+`"`)
	return c.Blob(http.StatusOK, format.ContentType(), body)
}

func (s *Server) handleImportSession(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxImportBytes))
	if err != nil {
		return requestError{Status: http.StatusBadRequest, Message: "could not read import document"}
	}

	id, err := s.router.ImportSession(c.Request().Context(), body)
	if err != nil {
		if errors.Is(err, export.ErrInvalidImport) {
			return requestError{Status: http.StatusBadRequest, Message: err.Error()}
		}
		return storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "session_id": id})
}

func (s *Server) handleAnalytics(c echo.Context) error {
	days := defaultAnalyticsDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return requestError{Status: http.StatusBadRequest, Message: "days must be a non-negative integer"}
		}
		days = n
	}

	stats, err := s.router.Analytics(days)
	if err != nil {
		if errors.Is(err, router.ErrAnalyticsDisabled) {
			return requestError{Status: http.StatusServiceUnavailable, Message: err.Error()}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "analytics": stats})
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return requestError{Status: http.StatusNotFound, Message: "Session not found"}
	case errors.Is(err, store.ErrInvalidID):
		return requestError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, export.ErrUnsupportedFormat):
		return requestError{Status: http.StatusBadRequest, Message: err.Error()}
	}
	return err
}
