// Package server exposes the preloaded timings, the cache index and the
// scheduler over a small localhost HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
	"github.com/smokyabdulrahman/prayer-alarms/internal/preload"
	"github.com/smokyabdulrahman/prayer-alarms/internal/schedule"
)

// Service is what the handlers read from and act on.
type Service interface {
	Snapshot() preload.State
	Completed(ctx context.Context) ([]string, error)
	CacheEntries(ctx context.Context) (map[geo.LocationKey]cache.IndexEntry, error)
	MarkPrayerCompleted(ctx context.Context, name string) error
	Reschedule(ctx context.Context) (map[string]schedule.Result, error)
}

type todayResponse struct {
	Loaded    bool              `json:"loaded"`
	FromCache bool              `json:"from_cache"`
	CachedAt  *time.Time        `json:"cached_at,omitempty"`
	Location  string            `json:"location,omitempty"`
	Method    int               `json:"method"`
	Date      string            `json:"date,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`
	Hijri     string            `json:"hijri,omitempty"`
	Timings   map[string]string `json:"timings,omitempty"`
	Completed []string          `json:"completed"`
}

type cacheEntry struct {
	Location     string    `json:"location"`
	Method       int       `json:"method"`
	CachedDates  []string  `json:"cached_dates"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type flowResult struct {
	Skipped  bool     `json:"skipped"`
	Forced   bool     `json:"forced"`
	Canceled bool     `json:"canceled"`
	Alarms   int      `json:"alarms"`
	Invalid  []string `json:"invalid,omitempty"`
}

// NewRouter builds the gin engine for svc.
func NewRouter(svc Service, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.GET("/today", func(c *gin.Context) {
		done, err := svc.Completed(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, todayFromState(svc.Snapshot(), done))
	})

	v1.GET("/cache", func(c *gin.Context) {
		entries, err := svc.CacheEntries(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]cacheEntry, 0, len(entries))
		for key, e := range entries {
			out = append(out, cacheEntry{
				Location:     string(key),
				Method:       e.Method,
				CachedDates:  e.CachedDates,
				LastSyncedAt: e.LastSyncedAt,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Location < out[j].Location })
		c.JSON(http.StatusOK, gin.H{"entries": out})
	})

	v1.POST("/prayers/:name/complete", func(c *gin.Context) {
		name := c.Param("name")
		if err := svc.MarkPrayerCompleted(c.Request.Context(), name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		done, err := svc.Completed(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"completed": done})
	})

	v1.POST("/reschedule", func(c *gin.Context) {
		report, err := svc.Reschedule(c.Request.Context())
		out := make(map[string]flowResult, len(report))
		for flow, res := range report {
			out[flow] = flowResult{
				Skipped:  res.Skipped,
				Forced:   res.Forced,
				Canceled: res.Canceled,
				Alarms:   len(res.Alarms),
				Invalid:  res.Invalid,
			}
		}
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"flows": out})
		case len(report) == 0:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"flows": out, "error": err.Error()})
		}
	})

	return r
}

func todayFromState(s preload.State, completed []string) todayResponse {
	resp := todayResponse{Loaded: s.IsLoaded, FromCache: s.FromCache, Method: -1, Completed: completed}
	if resp.Completed == nil {
		resp.Completed = []string{}
	}
	if s.Data == nil {
		return resp
	}
	cachedAt := s.CachedAt
	resp.CachedAt = &cachedAt
	resp.Location = string(s.Data.LocationKey)
	resp.Method = s.Data.Method
	resp.Date = s.Data.Date
	resp.Timezone = s.Data.Timezone
	resp.Hijri = s.Data.Hijri
	resp.Timings = s.Data.Timings
	return resp
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// Server runs the router on addr until its context is canceled.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// New creates a Server for svc listening on addr.
func New(addr string, svc Service, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(svc, log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http server started")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("http server stopped")
		return nil
	}
}
