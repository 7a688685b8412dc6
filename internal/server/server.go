package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/netpool/dispatch/internal/config"
	"github.com/netpool/dispatch/internal/store"
	"github.com/netpool/dispatch/pkg/dispatcher"
	"github.com/netpool/dispatch/pkg/workerpool"
)

// Server is the admin/demo HTTP surface: worker-pool and endpoint
// introspection plus a sample proxied-fetch endpoint, all backed by the
// shared Dispatcher.
type Server struct {
	cfg    config.Server
	http   *http.Server
	engine *gin.Engine
}

// PoolLookup resolves a named worker pool for the /pools/:name endpoint.
type PoolLookup func(name string) (*workerpool.Pool, bool)

// NewServer builds a Server wired to disp for admission introspection and
// request submission, audit for persisting terminal operations, and pools
// for pool introspection.
func NewServer(cfg config.Server, disp *dispatcher.Dispatcher, audit *store.Store, pools PoolLookup) *Server {
	if cfg.ServerMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	logger := zap.L().Named("http")
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, false))
	engine.Use(ginzap.RecoveryWithZap(logger, false))

	h := &handler{disp: disp, audit: audit, pools: pools}
	v1 := engine.Group("/api/v1")
	v1.GET("/pools/:name", h.getPool)
	v1.GET("/endpoints/:key", h.getEndpoint)
	v1.POST("/fetch", h.postFetch)
	v1.GET("/operations/:id", h.getOperation)

	return &Server{
		cfg:    cfg,
		engine: engine,
		http:   &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: engine},
	}
}

// Handler returns the underlying HTTP handler, for use in tests that want
// to drive requests with httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the server, blocking until it stops or fails. It serves plain
// HTTP in dev mode and self-signed HTTPS in prod mode.
func (s *Server) Start() error {
	if s.cfg.ServerMode != "prod" {
		err := s.http.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}

	cert, err := selfSignedCertificate()
	if err != nil {
		return fmt.Errorf("generating self-signed certificate: %w", err)
	}
	s.http.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	err = s.http.ListenAndServeTLS("", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// selfSignedCertificate generates an ephemeral RSA certificate valid for one
// year, for prod-mode TLS where no external certificate store is
// configured.
func selfSignedCertificate() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "dispatchd"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
