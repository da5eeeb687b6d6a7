// Package control exposes the engine's command surface over a local HTTP API,
// plus a server-sent-events stream carrying the coalesced notifications.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/presift/presift/models"
	"github.com/presift/presift/monitor"
)

// Server is the local command API.
type Server struct {
	monitor *monitor.Monitor
	hub     *Hub
	echo    *echo.Echo
}

// NewServer wires routes for one monitor instance. hub may be the same Hub
// the event coalescer emits into; pass nil to disable the event stream.
func NewServer(m *monitor.Monitor, hub *Hub) *Server {
	s := &Server{monitor: m, hub: hub}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", s.health)
	e.GET("/stats", s.stats)

	e.POST("/config/refresh", s.refreshConfig)
	e.GET("/config/summary", s.configSummary)

	e.POST("/queue/blacklist", s.queueBlacklist)
	e.POST("/queue/whitelist", s.queueWhitelist)
	e.POST("/queue/delete", s.queueDelete)
	e.POST("/queue/toggle", s.queueToggle)
	e.GET("/queue/status", s.queueStatus)

	e.POST("/scan/start", s.startScan)
	e.GET("/scan/time-range", s.scanByTimeRange)
	e.GET("/scan/type", s.scanByType)

	if hub != nil {
		e.GET("/events", s.streamEvents)
	}

	s.echo = e
	return s
}

// Start listens on addr until Shutdown or a fatal error.
func (s *Server) Start(addr string) error {
	log.Printf("control API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %v", err)
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.Stats())
}

func (s *Server) refreshConfig(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.monitor.RefreshConfig(ctx); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if err := s.monitor.StartMonitoring(ctx); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.monitor.ConfigurationSummary())
}

func (s *Server) configSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.ConfigurationSummary())
}

type folderRequest struct {
	ID          int    `json:"id"`
	ParentID    int    `json:"parent_id"`
	Path        string `json:"path"`
	Alias       string `json:"alias"`
	IsBlacklist bool   `json:"is_blacklist"`
}

func (s *Server) bindFolder(c echo.Context) (*folderRequest, error) {
	var req folderRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	return &req, nil
}

func (s *Server) enqueue(c echo.Context, change models.ConfigChangeRequest) error {
	// Append inline so arrival order matches request order. The drain may call
	// the indexing service, so it is not tied to this request's lifetime.
	if s.monitor.Queue().Append(change) {
		go s.monitor.Queue().Drain(context.Background())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) queueBlacklist(c echo.Context) error {
	req, err := s.bindFolder(c)
	if err != nil {
		return err
	}
	return s.enqueue(c, models.ConfigChangeRequest{
		Kind:        models.ChangeAddBlacklist,
		ParentID:    req.ParentID,
		FolderPath:  req.Path,
		FolderAlias: req.Alias,
		IsBlacklist: true,
	})
}

func (s *Server) queueWhitelist(c echo.Context) error {
	req, err := s.bindFolder(c)
	if err != nil {
		return err
	}
	return s.enqueue(c, models.ConfigChangeRequest{
		Kind:        models.ChangeAddWhitelist,
		FolderPath:  req.Path,
		FolderAlias: req.Alias,
	})
}

func (s *Server) queueDelete(c echo.Context) error {
	req, err := s.bindFolder(c)
	if err != nil {
		return err
	}
	return s.enqueue(c, models.ConfigChangeRequest{
		Kind:        models.ChangeDeleteFolder,
		FolderID:    req.ID,
		FolderPath:  req.Path,
		IsBlacklist: req.IsBlacklist,
	})
}

func (s *Server) queueToggle(c echo.Context) error {
	req, err := s.bindFolder(c)
	if err != nil {
		return err
	}
	return s.enqueue(c, models.ConfigChangeRequest{
		Kind:        models.ChangeToggleFolder,
		FolderID:    req.ID,
		FolderPath:  req.Path,
		IsBlacklist: req.IsBlacklist,
	})
}

func (s *Server) queueStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.Queue().Status())
}

func (s *Server) startScan(c echo.Context) error {
	if s.monitor.ScanCompleted() {
		return c.JSON(http.StatusOK, map[string]string{"status": "already_completed"})
	}
	go func() {
		ctx := context.Background()
		if err := s.monitor.RunInitialScan(ctx); err != nil {
			log.Printf("scan via control API: %v", err)
			return
		}
		s.monitor.Queue().MarkScanComplete(ctx)
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) scanByTimeRange(c echo.Context) error {
	rng := models.TimeRange(c.QueryParam("range"))
	files, err := s.monitor.ScanByTimeRange(c.Request().Context(), rng)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(files), "files": files})
}

func (s *Server) scanByType(c echo.Context) error {
	ft := models.FileType(c.QueryParam("type"))
	files, err := s.monitor.ScanByType(c.Request().Context(), ft)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(files), "files": files})
}

// streamEvents pushes coalesced notifications as server-sent events until the
// client goes away.
func (s *Server) streamEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-sub:
			if !ok {
				return nil
			}
			data, err := json.Marshal(n.Payload)
			if err != nil {
				data = []byte(fmt.Sprintf("%q", fmt.Sprint(n.Payload)))
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Event, data)
			w.Flush()
		}
	}
}
