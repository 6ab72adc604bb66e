// Package server exposes a session over HTTP so an external UI can drive
// streams, the timeline and the spectrogram.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mgpai22/subsync/internal/app"
	"github.com/mgpai22/subsync/internal/logging"
	"github.com/mgpai22/subsync/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// NewRouter wires every endpoint onto a chi router.
func NewRouter(s *app.Session, log *logging.Logger, m *metrics.Metrics) http.Handler {
	log = logging.OrNop(log).Named("server")
	h := NewHandler(s, log)

	r := chi.NewRouter()
	r.Use(requestLogger(log, m))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{kind}", func(r chi.Router) {
		r.Post("/", h.LoadStream)
		r.Post("/{uid}/switch", h.SwitchStream)
		r.Delete("/{uid}", h.UnloadStream)
	})

	r.Get("/view", h.GetView)
	r.Post("/view", h.SetView)
	r.Post("/view/zoom", h.ZoomView)
	r.Post("/view/move", h.MoveView)
	r.Post("/selection", h.Select)
	r.Delete("/selection", h.Unselect)

	r.Get("/align", h.Align)
	r.Get("/spectrogram.png", h.Spectrogram)
	r.Get("/band.png", h.Band)

	r.Get("/playback", h.GetPlayback)
	r.Post("/playback/seek", h.Seek)
	r.Post("/playback/volume", h.SetVolume)
	return r
}

// Serve runs the HTTP server until ctx is done, then drains connections.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logging.Logger) error {
	log = logging.OrNop(log).Named("server")
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infow("server starting", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infow("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Infow("server stopped")
	return nil
}
