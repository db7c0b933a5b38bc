package chassis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Service is a registerable component that exposes HTTP routes.
type Service interface {
	RegisterHTTP(r chi.Router)
}

// Server is the orchestrator's unified chassis: one chi router served over
// both QUIC/HTTP3 (for workers that want stream multiplexing) and plain
// net/http (for browsers and scrapers that never speak HTTP/3).
type Server struct {
	httpAddr   string
	quicAddr   string
	logger     *slog.Logger
	services   map[string]Service
	httpRouter *chi.Mux
	httpServer *http.Server
	quicServer *http3.Server
	mu         sync.RWMutex
}

// NewServer creates a server listening on httpAddr (plain HTTP/1.1+2) and
// quicAddr (HTTP/3 over QUIC).
func NewServer(logger *slog.Logger, httpAddr, quicAddr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	return &Server{
		httpAddr:   httpAddr,
		quicAddr:   quicAddr,
		logger:     logger,
		services:   make(map[string]Service),
		httpRouter: r,
	}
}

// RegisterService mounts svc's HTTP routes onto the shared router.
func (s *Server) RegisterService(name string, svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}

	s.logger.Info("registering service", "name", name)
	svc.RegisterHTTP(s.httpRouter)
	s.services[name] = svc
	return nil
}

// Router exposes the underlying chi router for callers that want to mount
// routes outside of the Service interface (tests, admin-only bindings).
func (s *Server) Router() chi.Router {
	return s.httpRouter
}

// Start runs both listeners until ctx is cancelled. Either listener failing
// for a reason other than a clean shutdown stops the whole server.
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.generateTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to generate TLS config: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:      s.httpAddr,
		Handler:   s.httpRouter,
		TLSConfig: tlsConfig.Clone(),
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  0,
		KeepAlivePeriod: 0,
	}
	s.quicServer = &http3.Server{
		Addr:       s.quicAddr,
		Handler:    s.httpRouter,
		TLSConfig:  tlsConfig.Clone(),
		QUICConfig: quicConfig,
	}

	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("http listener starting", "addr", s.httpAddr)
		if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listener: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		s.logger.Info("quic listener starting", "addr", s.quicAddr)
		if err := s.quicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("quic listener: %w", err)
			return
		}
		errCh <- nil
	}()

	s.logger.Info("server started", "services", len(s.services))

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if err != nil {
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop shuts both listeners down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.quicServer != nil {
		if err := s.quicServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("quic close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("server stop errors: %v", errs)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) generateTLSConfig() (*tls.Config, error) {
	s.logger.Info("generating self-signed TLS certificate")
	return NewDevelopmentTLSConfig(DefaultCertIdentity())
}
