// Package dashboard serves the browser surface: a live MJPEG stream of annotated frames,
// start/stop/snapshot controls, and the session analytics (chart, log download, recent
// faces).
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/overlay"
	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

//go:embed web/*.html
var webFS embed.FS

const (
	chartWidth  = 480
	chartHeight = 240
	boundary    = "frame"
)

// Session is what the dashboard drives. *session.Controller implements it.
type Session interface {
	Start(ctx context.Context) error
	Stop()
	Snapshot(ctx context.Context) (string, error)
	View() session.View
	Faces() [][]byte
	ExportCSV(w io.Writer) error
}

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
}

type Server struct {
	sess   Session
	hub    *Hub
	base   context.Context
	engine *gin.Engine
}

// New builds the router. base bounds sessions started from the browser; request contexts
// end with the request and cannot be used for that.
func New(base context.Context, sess Session, hub *Hub, opts Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.SetHTMLTemplate(template.Must(template.New("").Funcs(template.FuncMap{
		"color": labelColor,
		"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	}).ParseFS(webFS, "web/*.html")))

	s := &Server{sess: sess, hub: hub, base: base, engine: r}

	r.GET("/", s.index)
	r.GET("/stream.mjpg", s.stream)

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.POST("/start", s.start)
	api.POST("/stop", s.stop)
	api.POST("/snapshot", s.snapshot)
	api.GET("/log.csv", s.logCSV)
	api.GET("/chart.png", s.chart)
	api.GET("/faces/:idx", s.face)
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "HEAD"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/stream.mjpg" {
			return
		}
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", addr).Info("Dashboard listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) index(c *gin.Context) {
	v := s.sess.View()
	c.HTML(http.StatusOK, "index.html", gin.H{
		"View":   v,
		"Labels": overlay.ChartLabels(v.Summary),
		"Faces":  make([]struct{}, v.Faces),
	})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.View())
}

func (s *Server) start(c *gin.Context) {
	if err := s.sess.Start(s.base); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, camera.ErrDeviceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.sess.View())
}

func (s *Server) stop(c *gin.Context) {
	s.sess.Stop()
	c.JSON(http.StatusOK, s.sess.View())
}

func (s *Server) snapshot(c *gin.Context) {
	path, err := s.sess.Snapshot(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoFrame) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) logCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="emotion_log.csv"`)
	c.Status(http.StatusOK)
	if err := s.sess.ExportCSV(c.Writer); err != nil {
		log.WithError(err).Warn("CSV export failed")
	}
}

func (s *Server) chart(c *gin.Context) {
	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	overlay.DrawChart(img, s.sess.View().Summary)
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, img); err != nil {
		log.WithError(err).Warn("Chart encode failed")
	}
}

func (s *Server) face(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	faces := s.sess.Faces()
	if err != nil || idx < 0 || idx >= len(faces) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such face"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", faces[idx])
}

// stream writes a multipart/x-mixed-replace MJPEG response until the client leaves.
func (s *Server) stream(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case data := <-ch:
			if err := writePart(w, data); err != nil {
				return false
			}
			return true
		}
	})
}

func writePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func labelColor(label string) template.CSS {
	c := emotion.ColorFor(label)
	return template.CSS(fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B))
}
