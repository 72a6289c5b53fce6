package signaling

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/switchpoint/msc/internal/billing"
	"github.com/switchpoint/msc/internal/registry"
)

// Server accepts control connections and runs one Handler per connection.
type Server struct {
	cfg  Config
	reg  *registry.Registry
	eng  *billing.Engine
	priv *rsa.PrivateKey
	ln   net.Listener
	wg   sync.WaitGroup
}

// NewServer binds the signaling listener. A bind failure is fatal at
// startup; the caller decides.
func NewServer(addr string, cfg Config, reg *registry.Registry, eng *billing.Engine, priv *rsa.PrivateKey) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Printf("[Signaling] listening on %s", ln.Addr())
	return &Server{cfg: cfg, reg: reg, eng: eng, priv: priv, ln: ln}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run accepts connections until the context is cancelled, then waits for
// in-flight handlers to finish their cleanup.
func (s *Server) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Printf("[Signaling] accept error: %v", err)
			continue
		}

		h := NewHandler(conn, s.cfg, s.reg, s.eng, s.priv)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h.Run(ctx)
		}()
	}
	s.wg.Wait()
	log.Printf("[Signaling] server stopped")
}
