// Package indexd is a development stand-in for the external indexing service.
// It implements the HTTP interface the engine consumes, backed by sqlite, so
// the engine can run end to end without the real service.
package indexd

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/presift/presift/apiclient"
	"github.com/presift/presift/bundle"
	"github.com/presift/presift/db"
	"github.com/presift/presift/models"
)

// Handler serves the indexing API.
type Handler struct {
	store *db.Store
}

func NewHandler(database *sql.DB) *Handler {
	return &Handler{store: db.NewStore(database)}
}

// Register attaches all routes to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/config/all", h.GetAllConfigurations)
	e.GET("/file-scanning-config", h.GetScanningConfig)
	e.POST("/file-screening/batch", h.ReceiveBatch)
	e.POST("/screening/delete-by-path", h.DeleteByPath)
	e.POST("/screening/clean-by-path", h.CleanByPath)
	e.POST("/directories", h.AddDirectory)
	e.DELETE("/directories/:id", h.DeleteDirectory)
	e.PUT("/directories/:id/toggle", h.ToggleDirectory)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetAllConfigurations(c echo.Context) error {
	cfg, err := h.store.LoadAllConfigurations()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// The dev service has no bundle-extension management UI; serve the stock
	// set so the engine exercises the same code path as in production.
	cfg.BundleExtensions = bundle.DefaultExtensions
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) GetScanningConfig(c echo.Context) error {
	cfg, err := h.store.LoadScanningConfig()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cfg.BundleExtensions = bundle.DefaultExtensions
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ReceiveBatch(c echo.Context) error {
	var payload apiclient.BatchPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch payload")
	}

	_, span := otel.Tracer("presift/indexd").Start(c.Request().Context(), "receive-batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(payload.DataList)))

	if err := h.store.UpsertScreeningResults(payload.DataList); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	log.Printf("stored batch of %d screening records", len(payload.DataList))
	return c.JSON(http.StatusOK, map[string]int{"accepted": len(payload.DataList)})
}

func (h *Handler) DeleteByPath(c echo.Context) error {
	var body struct {
		FilePath string `json:"file_path"`
	}
	if err := c.Bind(&body); err != nil || body.FilePath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file_path is required")
	}
	n, err := h.store.DeleteByPath(body.FilePath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) CleanByPath(c echo.Context) error {
	var body struct {
		Path        string `json:"path"`
		RequestTime string `json:"request_time"`
		ClientID    string `json:"client_id"`
	}
	if err := c.Bind(&body); err != nil || body.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	// Stale purge requests (delayed retries from a previous run) are ignored.
	if body.RequestTime != "" {
		if ts, err := time.Parse(time.RFC3339, body.RequestTime); err == nil {
			if time.Since(ts) > 5*time.Minute {
				log.Printf("ignoring stale clean request for %s from %s", body.Path, body.ClientID)
				return c.JSON(http.StatusOK, apiclient.CleanResult{Deleted: 0})
			}
		}
	}

	n, err := h.store.CleanByPath(body.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, apiclient.CleanResult{Deleted: int(n)})
}

func (h *Handler) AddDirectory(c echo.Context) error {
	var dir models.MonitoredDirectory
	if err := c.Bind(&dir); err != nil || dir.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	id, err := h.store.AddDirectory(dir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) directoryID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid directory id")
	}
	return id, nil
}

func (h *Handler) DeleteDirectory(c echo.Context) error {
	id, err := h.directoryID(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteDirectory(id); err != nil {
		if err == sql.ErrNoRows {
			return echo.NewHTTPError(http.StatusNotFound, "directory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) ToggleDirectory(c echo.Context) error {
	id, err := h.directoryID(c)
	if err != nil {
		return err
	}
	isBlacklist := c.QueryParam("is_blacklist") == "true"
	if err := h.store.ToggleDirectory(id, isBlacklist); err != nil {
		if err == sql.ErrNoRows {
			return echo.NewHTTPError(http.StatusNotFound, "directory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "toggled"})
}
