package gateway

import (
	"fmt"
	"net"

	"tailscale.com/tsnet"

	"github.com/asteroniris-dev/asteroniris/internal/config"
)

// TunnelListener joins the tailnet named by cfg and returns a net.Listener
// bound to it instead of a plain host port, so the gateway is reachable
// only over the operator's tailnet rather than any public interface.
// Callers are responsible for closing the returned *tsnet.Server once the
// listener is no longer needed.
func TunnelListener(cfg config.TailscaleConfig, port int) (net.Listener, *tsnet.Server, error) {
	if cfg.Hostname == "" {
		return nil, nil, fmt.Errorf("gateway: tailscale.hostname is required for tunnel mode")
	}
	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}
	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		srv.Close()
		return nil, nil, fmt.Errorf("gateway: tailscale listen: %w", err)
	}
	return ln, srv, nil
}

// RequiresTunnel reports whether the gateway's bind configuration demands
// a tailnet tunnel: a public (non-loopback) host with RequireTunnel set.
func RequiresTunnel(host string, requireTunnel bool) bool {
	if !requireTunnel {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames other than "localhost" are treated as public.
		return host != "localhost"
	}
	return !ip.IsLoopback()
}
