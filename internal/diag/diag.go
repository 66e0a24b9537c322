// Package diag serves read-only diagnostics over HTTP: the current fix with
// its age and staleness, and the last placement snapshot.
package diag

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/internal/geo"
	"github.com/silverbullet1472/Amap-GPS-ARLocation/pkg/core"
)

const shutdownTimeout = 5 * time.Second

// FixSource provides the current fix; location.Feed implements it.
type FixSource interface {
	Current() *core.Fix
}

// SnapshotSource provides the last placement snapshot; placement.Engine implements it.
type SnapshotSource interface {
	Snapshot() []core.PlacementSample
}

// NearbyFunc lists the ids of markers within radius meters of the device.
type NearbyFunc func(ctx context.Context, radius float64) ([]string, error)

const defaultNearbyRadius = 100.0

// Option configures a Server.
type Option func(*Server)

// WithStaleAfter sets the age beyond which a fix is reported stale.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) { s.staleAfter = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSession reports a session id on /healthz.
func WithSession(id func() string) Option {
	return func(s *Server) { s.session = id }
}

// WithTokenSecret requires an HS256 bearer token signed with secret on
// everything except /healthz. An empty secret leaves the endpoints open.
func WithTokenSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithNearby serves GET /markers/nearby?radius=<m> from fn.
func WithNearby(fn NearbyFunc) Option {
	return func(s *Server) { s.nearbyFn = fn }
}

// Server is the diagnostics HTTP surface.
type Server struct {
	fixes      FixSource
	placements SnapshotSource
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
	session    func() string
	secret     []byte
	nearbyFn   NearbyFunc
	router     *gin.Engine
}

// New builds the router. Either source may be nil.
func New(fixes FixSource, placements SnapshotSource, opts ...Option) *Server {
	s := &Server{
		fixes:      fixes,
		placements: placements,
		staleAfter: 10 * time.Second,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/healthz", s.health)

	api := r.Group("/")
	if len(s.secret) > 0 {
		api.Use(authMiddleware(s.secret))
	}
	api.GET("/fix", s.fix)
	api.GET("/markers", s.markers)
	if s.nearbyFn != nil {
		api.GET("/markers/nearby", s.nearby)
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("diagnostics request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) current() *core.Fix {
	if s.fixes == nil {
		return nil
	}
	return s.fixes.Current()
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"hasFix": s.current() != nil,
	}
	if s.session != nil {
		body["session"] = s.session()
	}
	c.JSON(http.StatusOK, body)
}

// FixResponse is the body of GET /fix.
type FixResponse struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RawLatitude  float64   `json:"rawLatitude"`
	RawLongitude float64   `json:"rawLongitude"`
	RawDatum     string    `json:"rawDatum"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Accuracy     float64   `json:"accuracy"`
	Address      string    `json:"address"`
	LocationType int       `json:"locationType"`
	Provider     string    `json:"provider"`
	ReceivedAt   time.Time `json:"receivedAt"`
	AgeSeconds   float64   `json:"ageSeconds"`
	Stale        bool      `json:"stale"`
}

func (s *Server) fix(c *gin.Context) {
	f := s.current()
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}

	mercator, err := geo.PointFromCoordinate(f.Coordinate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	xy, _ := mercator.XY()

	age := f.Age(s.now())
	c.JSON(http.StatusOK, FixResponse{
		Latitude:     f.Coordinate.Latitude,
		Longitude:    f.Coordinate.Longitude,
		RawLatitude:  f.Raw.Latitude,
		RawLongitude: f.Raw.Longitude,
		RawDatum:     f.Raw.Datum.String(),
		X:            xy.X,
		Y:            xy.Y,
		Accuracy:     f.Accuracy,
		Address:      f.Address,
		LocationType: f.LocationType,
		Provider:     f.Provider,
		ReceivedAt:   f.ReceivedAt,
		AgeSeconds:   age.Seconds(),
		Stale:        s.staleAfter > 0 && age > s.staleAfter,
	})
}

// MarkerResponse is one entry of GET /markers.
type MarkerResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	DistanceInGPS int        `json:"distanceInGps"`
	DistanceInAR  float64    `json:"distanceInAr"`
	Scale         float64    `json:"scale"`
	Offset        float64    `json:"offset"`
	Position      [3]float64 `json:"position"`
	Time          time.Time  `json:"time"`
}

func (s *Server) markers(c *gin.Context) {
	var samples []core.PlacementSample
	if s.placements != nil {
		samples = s.placements.Snapshot()
	}

	out := make([]MarkerResponse, len(samples))
	for i, p := range samples {
		out[i] = MarkerResponse{
			ID:            p.MarkerID,
			Name:          p.Name,
			Latitude:      p.Geo.Latitude,
			Longitude:     p.Geo.Longitude,
			DistanceInGPS: p.DistanceInGPS,
			DistanceInAR:  p.DistanceInAR,
			Scale:         p.Scale,
			Offset:        p.Offset,
			Position:      [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
			Time:          p.Time,
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "markers": out})
}

func (s *Server) nearby(c *gin.Context) {
	radius := defaultNearbyRadius
	if q := c.Query("radius"); q != "" {
		r, err := strconv.ParseFloat(q, 64)
		if err != nil || math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a positive number of meters"})
			return
		}
		radius = r
	}

	ids, err := s.nearbyFn(c.Request.Context(), radius)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"radius": radius, "count": len(ids), "markers": ids})
}
