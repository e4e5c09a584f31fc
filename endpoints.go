package main

import (
	"net"
	"net/url"
	"strings"

	"robolab/simserver/internal/config"
)

// websocketPath is where clients attach to the live state stream.
const websocketPath = "/ws"

// endpoints are the addresses announced at startup, rewritten so they can be opened as
// printed.
type endpoints struct {
	HTTP      string
	WebSocket string
	GRPC      string
}

func advertisedEndpoints(cfg *config.Config) endpoints {
	httpScheme, wsScheme := "http", "ws"
	if cfg.TLSCertPath != "" {
		httpScheme, wsScheme = "https", "wss"
	}
	host := reachableHost(cfg.Address)
	ep := endpoints{
		HTTP:      (&url.URL{Scheme: httpScheme, Host: host}).String(),
		WebSocket: (&url.URL{Scheme: wsScheme, Host: host, Path: websocketPath}).String(),
	}
	if strings.TrimSpace(cfg.GRPCAddress) != "" {
		ep.GRPC = reachableHost(cfg.GRPCAddress)
	}
	return ep
}

// reachableHost swaps wildcard bind addresses for localhost. Addresses without a port are
// returned as given.
func reachableHost(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
