// Package httpapi implements the ambient HTTP surface (§6.2): liveness,
// command dispatch, and read-only diagnostics, built on the teacher's
// gin stack.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/dispatch"
	"fleetgate/internal/store"
	"fleetgate/internal/wire"
	"fleetgate/pkg/colors"
)

// Config bundles the thresholds the diagnostics listing needs to derive
// a Sending|Stale|Offline classification from a device's last-update time.
type Config struct {
	SendingStaleAfter   time.Duration
	OfflineTimeoutAfter time.Duration
	TokenHash           string
}

// Server wires the gin engine to the gateway's core collaborators.
type Server struct {
	store      store.Port
	dispatcher *dispatch.Dispatcher
	cfg        Config
	engine     *gin.Engine
}

// NewServer builds a ready-to-run gin engine. st and dispatcher are the
// only collaborators the HTTP surface needs, passed explicitly (§9).
func NewServer(st store.Port, dispatcher *dispatch.Dispatcher, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{store: st, dispatcher: dispatcher, cfg: cfg, engine: engine}
	s.routes()
	return s
}

// Handler returns the underlying http.Handler, for use with http.Server
// (so the caller controls listen/shutdown).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	v1.Use(BearerTokenMiddleware(s.cfg.TokenHash))
	{
		v1.POST("/devices/:identity/command", s.handleSendCommand)
		v1.GET("/devices", s.handleListDevices)
		v1.GET("/devices/:identity/positions", s.handlePositions)
		v1.GET("/devices/:identity/route/distance", s.handleRouteDistance)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type commandRequest struct {
	Content        string `json:"content" binding:"required"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) handleSendCommand(c *gin.Context) {
	identity, err := parseIdentity(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	result := s.dispatcher.Send(c.Request.Context(), identity, req.Content, timeout)

	colors.PrintControl("httpapi: dispatched command to %s (success=%v)", identity, result.Success)

	if !result.Connected {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"note":    result.Note,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     result.Success,
		"reply":       result.Reply,
		"note":        result.Note,
		"server_flag": result.ServerFlag,
	})
}

type deviceSummary struct {
	Identity   string  `json:"identity"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
	BatteryPct int     `json:"battery_pct,omitempty"`
	GSM        int     `json:"gsm,omitempty"`
	LastUpdate string  `json:"last_update,omitempty"`
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.store.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	out := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		sum := deviceSummary{Identity: d.Identity, Name: d.Name, Status: s.classify(d)}
		if d.LastLat != nil {
			sum.Lat = *d.LastLat
		}
		if d.LastLon != nil {
			sum.Lon = *d.LastLon
		}
		if d.BatteryPct != nil {
			sum.BatteryPct = *d.BatteryPct
		}
		if d.GSM != nil {
			sum.GSM = *d.GSM
		}
		if d.LastUpdate != nil {
			sum.LastUpdate = d.LastUpdate.UTC().Format(time.RFC3339)
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "devices": out})
}

// classify derives Sending|Stale|Offline from a device's last-update age
// against the configured thresholds (§6.2).
func (s *Server) classify(d store.Device) string {
	if d.LastUpdate == nil {
		return "Offline"
	}
	age := time.Since(*d.LastUpdate)
	switch {
	case age < s.cfg.SendingStaleAfter:
		return "Sending"
	case age < s.cfg.OfflineTimeoutAfter:
		return "Stale"
	default:
		return "Offline"
	}
}

func (s *Server) handlePositions(c *gin.Context) {
	identity, err := parseIdentity(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	start, end, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	dev, err := s.store.DeviceByIdentity(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "device not found"})
		return
	}

	locations, err := s.store.LocationRange(c.Request.Context(), dev.ID, start, end, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "positions": locations})
}

func (s *Server) handleRouteDistance(c *gin.Context) {
	identity, err := parseIdentity(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	start, end, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	dev, err := s.store.DeviceByIdentity(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "device not found"})
		return
	}

	points, err := s.store.LocationRange(c.Request.Context(), dev.ID, start, end, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "distance_km": store.RouteDistanceKm(points)})
}

func parseIdentity(c *gin.Context) (wire.DeviceIdentity, error) {
	return wire.ParseDeviceIdentity(c.Param("identity"))
}

func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	startStr := c.Query("start")
	endStr := c.Query("end")

	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	return start, end, nil
}
