// Package devserver serves the dist folder during development and reloads connected browsers after rebuilds.
package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/config"
)

// ReloadPath is the event stream browsers listen on for reload notifications
const ReloadPath = "/__poma/reload"

const reloadScript = `<script>(function(){var s=new EventSource("` + ReloadPath + `");s.onmessage=function(e){if(e.data==="reload"){location.reload()}}})()</script>`

// Server serves the build output
type Server struct {
	cfg    *config.Config
	logger *zerolog.Logger

	lock    sync.Mutex
	clients map[chan string]struct{}
}

// New creates a server for cfg's dist folder. Requests are logged to logger.
func New(cfg *config.Config, logger *zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[chan string]struct{}),
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		logger := s.logger.With().Str("req", nanoid.New()).Logger()
		logger.Debug().Str("method", r.Method).Msg(r.URL.Path)

		r = r.WithContext(buildsys.WithLogger(r.Context(), &logger))
		next.ServeHTTP(rw, r)
	})
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	if s.cfg.Serve.LiveReload {
		r.Path(ReloadPath).Methods(http.MethodGet).HandlerFunc(s.handleReloadStream)
	}
	r.PathPrefix("/").Methods(http.MethodGet, http.MethodHead).HandlerFunc(s.handleFile)

	sm := secure.New(secure.Options{
		IsDevelopment:      true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	return sm.Handler(s.logMiddleware(r))
}

func (s *Server) handleFile(rw http.ResponseWriter, r *http.Request) {
	root := s.cfg.DistPath()
	name := filepath.Join(root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, s.cfg.Serve.Index)
		info, err = os.Stat(name)
	}

	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(rw, r)
			return
		}

		buildsys.Log(r.Context()).Error().Err(err).Msgf("failed to check %s", name)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}

	if !s.cfg.Serve.LiveReload || !strings.EqualFold(filepath.Ext(name), ".html") {
		handle, err := os.Open(name)
		if err != nil {
			buildsys.Log(r.Context()).Error().Err(err).Msgf("failed to open %s", name)
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		defer handle.Close()

		http.ServeContent(rw, r, info.Name(), info.ModTime(), handle)
		return
	}

	content, err := os.ReadFile(name)
	if err != nil {
		buildsys.Log(r.Context()).Error().Err(err).Msgf("failed to read %s", name)
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(rw, r, info.Name(), info.ModTime(), bytes.NewReader(injectReloadScript(content)))
}

// injectReloadScript adds the reload client before </body> or at the end of the document
func injectReloadScript(document []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(document), []byte("</body>"))
	if idx == -1 {
		return append(document, []byte(reloadScript)...)
	}

	result := make([]byte, 0, len(document)+len(reloadScript))
	result = append(result, document[:idx]...)
	result = append(result, reloadScript...)
	return append(result, document[idx:]...)
}

func (s *Server) handleReloadStream(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, "retry: 1000\n\n")
	flusher.Flush()

	events := make(chan string, 1)
	s.lock.Lock()
	s.clients[events] = struct{}{}
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		delete(s.clients, events)
		s.lock.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			fmt.Fprintf(rw, "data: %s\n\n", event)
			flusher.Flush()
		}
	}
}

// Clients returns the number of connected reload listeners
func (s *Server) Clients() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

// Reload tells every connected browser to reload the page
func (s *Server) Reload() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for client := range s.clients {
		select {
		case client <- "reload":
		default:
			// a reload is already pending for this client
		}
	}
}

// ListenAndServe serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Serve.Address)
	if err != nil {
		return eris.Wrapf(err, "failed to listen on %s", s.cfg.Serve.Address)
	}

	s.logger.Info().Msgf("Serving %s at http://%s%s", s.cfg.Dist, listener.Addr(), s.cfg.Serve.StartPath)
	return s.Serve(ctx, listener)
}

// Serve handles requests on listener until ctx is cancelled. Request contexts derive from ctx so open event
// streams end on shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		err := server.Shutdown(shutdownCtx)
		if err != nil && err != context.DeadlineExceeded {
			return err
		}
		return nil
	}
}
