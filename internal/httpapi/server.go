// Package httpapi implements the pairing/launch HTTP(S) control-plane
// endpoints of spec.md §6: /serverinfo, /pair, /unpair, /applist,
// /launch, /resume, /cancel.
package httpapi

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"encoding/xml"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nestream/nestream/internal/nestlog"
	"github.com/nestream/nestream/internal/nesterr"
	"github.com/nestream/nestream/internal/pairing"
	"github.com/nestream/nestream/internal/session"
)

const (
	appVersion = "7.1.431.0"
	gfeVersion = "3.23.0.74"
)

// ClientStore is the persisted identity surface httpapi needs:
// server identity plus the paired-client table. internal/state's Store
// implements this directly.
type ClientStore interface {
	UniqueID() string
	Client(id string) (pairing.ClientRecord, bool, error)
	DeleteClient(id string) error
}

// ServerIdentity carries the long-lived RSA key/certificate the server
// signs leg 4 of the pairing handshake with.
type ServerIdentity struct {
	Key  *rsa.PrivateKey
	Cert []byte // DER-encoded X.509 certificate, hex-encoded into plaincert
}

// Config wires httpapi's dependencies. Apps lists the launchable
// applications returned from /applist — nestream streams the whole
// desktop, so by default this is a single synthetic entry.
type Config struct {
	Addr     string
	Store    ClientStore
	Pairing  *pairing.Manager
	Session  *session.Manager
	Identity ServerIdentity
	Apps     []App
	Logger   *nestlog.Logger

	// PINProvider supplies the out-of-band PIN for leg 1 of pairing.
	PINProvider PINProvider
}

// Server is the HTTP(S) control-plane listener.
type Server struct {
	cfg        Config
	logger     *nestlog.Logger
	httpServer *http.Server
	hostname   string
	mac        string

	mu      sync.Mutex
	pending map[string]string // client uniqueid -> in-progress pairing session id
}

// New builds a Server from cfg. It does not start listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = nestlog.Default()
	}
	if len(cfg.Apps) == 0 {
		cfg.Apps = []App{{AppTitle: "Desktop", ID: 1}}
	}

	hostname, _ := os.Hostname()
	return &Server{
		cfg:      cfg,
		logger:   logger,
		hostname: hostname,
		mac:      localMAC(),
		pending:  make(map[string]string),
	}
}

func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/serverinfo", s.handleServerInfo)
	mux.HandleFunc("/applist", s.handleAppList)
	mux.HandleFunc("/pair", s.handlePair)
	mux.HandleFunc("/unpair", s.handleUnpair)
	mux.HandleFunc("/launch", s.handleLaunch)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/cancel", s.handleCancel)
	return s.withLogging(mux)
}

func (s *Server) newHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.mux(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve starts the plain HTTP listener and blocks until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = s.newHTTPServer(s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- nesterr.New(nesterr.KindNetwork, "httpapi.Serve", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// ServeTLS starts the HTTPS listener on addr using certFile/keyFile and
// blocks until ctx is canceled. Moonlight clients reach GameStream's
// plain and TLS ports for different endpoints, so the two listeners
// run side by side rather than one redirecting to the other.
func (s *Server) ServeTLS(ctx context.Context, addr, certFile, keyFile string) error {
	srv := s.newHTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
			errCh <- nesterr.New(nesterr.KindNetwork, "httpapi.ServeTLS", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"status", wrapped.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeXML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "text/xml")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("xml encode failed", "error", err)
	}
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	paired := 0
	if id := r.URL.Query().Get("uniqueid"); id != "" {
		if _, ok, _ := s.cfg.Store.Client(id); ok {
			paired = 1
		}
	}

	info := ServerInfo{
		StatusCode:        200,
		Hostname:          s.hostname,
		AppVersion:        appVersion,
		GfeVersion:        gfeVersion,
		UniqueID:          s.cfg.Store.UniqueID(),
		MAC:               s.mac,
		LocalIP:           localIP(r),
		ExternalPort:      47989,
		PairStatus:        paired,
		State:             string(s.cfg.Session.State()),
		MaxLumaPixelsHEVC: 1,
	}
	s.writeXML(w, info)
}

func (s *Server) handleAppList(w http.ResponseWriter, r *http.Request) {
	s.writeXML(w, AppList{StatusCode: 200, Apps: s.cfg.Apps})
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("uniqueid")
	if id == "" {
		http.Error(w, "uniqueid required", http.StatusBadRequest)
		return
	}
	if err := s.cfg.Store.DeleteClient(id); err != nil {
		s.logger.Error("unpair failed", "error", err, "client", id)
		http.Error(w, "unpair failed", http.StatusInternalServerError)
		return
	}
	s.writeXML(w, PairResponse{StatusCode: 200, Paired: 0})
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := session.Context{
		FPS:         atoiOr(q.Get("mode"), 0),
		BitrateKbps: atoiOr(q.Get("bitrate"), 10000),
		FECPercent:  atoiOr(q.Get("fecPercent"), 20),
		AudioRate:   48000,
		AudioChannels: 2,
	}
	if rikey := q.Get("rikey"); rikey != "" {
		if key, err := hex.DecodeString(rikey); err == nil {
			params.RemoteKey = key
		}
	}
	if rikeyid := q.Get("rikeyid"); rikeyid != "" {
		params.RemoteKeyID = []byte(rikeyid)
	}

	if _, err := s.cfg.Session.Launch(params); err != nil {
		if err == session.ErrBusy {
			http.Error(w, "session busy", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("launch rejected", "error", err)
		http.Error(w, "launch rejected", http.StatusBadRequest)
		return
	}
	s.writeXML(w, LaunchResponse{StatusCode: 200, GameSession: 1})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Session.StartStreaming(); err != nil {
		s.logger.Error("resume rejected", "error", err)
		http.Error(w, "resume rejected", http.StatusBadRequest)
		return
	}
	s.writeXML(w, LaunchResponse{StatusCode: 200, Resume: 1})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.cfg.Session.Terminate()
	s.writeXML(w, LaunchResponse{StatusCode: 200, Cancel: 1})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func localMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "00:00:00:00:00:00"
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 6 {
			return iface.HardwareAddr.String()
		}
	}
	return "00:00:00:00:00:00"
}

func localIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	return host
}
