// Package status serves a read-only view of the relay counters over HTTP.
// It never touches frames.
package status

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zenoxygen/camd/internal/emitter"
	"github.com/zenoxygen/camd/internal/logging"
	"github.com/zenoxygen/camd/internal/queue"
	"github.com/zenoxygen/camd/internal/reader"
)

var log = logging.DefaultLogger.WithTag("status")

const DefaultInterval = time.Second

// Snapshot of every counter the relay keeps.
type Snapshot struct {
	Uptime  string        `json:"uptime"`
	Queue   queue.Stats   `json:"queue"`
	Reader  reader.Stats  `json:"reader"`
	Emitter emitter.Stats `json:"emitter"`
	Device  *Device       `json:"device,omitempty"`
}

// Virtual device fed by the bridge.
type Device struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
	Video bool   `json:"video"`
}

type Source interface {
	Snapshot() Snapshot
}

type SourceFunc func() Snapshot

func (f SourceFunc) Snapshot() Snapshot { return f() }

type Server struct {
	Addr string
	Src  Source

	// Period between two snapshots pushed on /stats/live.
	Interval time.Duration

	upgrader websocket.Upgrader
	done     chan struct{}
}

func New(addr string, src Source) *Server {
	return &Server{
		Addr:     addr,
		Src:      src,
		Interval: DefaultInterval,
		done:     make(chan struct{}),
	}
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	router, err := graceful.Default(graceful.WithAddr(s.Addr))
	if err != nil {
		return errors.Wrapf(err, "status server on %s", s.Addr)
	}
	s.routes(router.Engine)

	go func() {
		<-ctx.Done()
		close(s.done)
	}()

	log.Info("Status server listening on %s", s.Addr)
	err = router.RunWithContext(ctx)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "status server")
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Src.Snapshot())
	})
	r.GET("/stats/live", s.live)
}

func (s *Server) live(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	id := uuid.New().String()
	log.Debug("Subscriber %s connected from %s", id, ws.RemoteAddr())

	// Incoming messages are ignored; a read error means the peer went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := ws.WriteJSON(s.Src.Snapshot()); err != nil {
			log.Debug("Subscriber %s: %v", id, err)
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			log.Debug("Subscriber %s disconnected", id)
			return
		case <-s.done:
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
