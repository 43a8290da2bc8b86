package peer

import (
	"errors"
	"net"
	"strings"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/config"
)

var (
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrUnknownSender    = errors.New("signal has no sender")
	ErrConnectionFailed = errors.New("peer connection failed")
)

// ICEServers builds the ICE server list from the client configuration.
func ICEServers(cfg *config.ClientConfig) []pion.ICEServer {
	var servers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}

	if turn := cfg.GetTURNServers(); turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// TransportPolicy selects relay-only ICE when a TURN server is configured and
// either the user asked for it or the host looks like it sits behind a VPN or CGNAT.
func TransportPolicy(cfg *config.ClientConfig) pion.ICETransportPolicy {
	if cfg.GetTURNServers() != nil && (cfg.ForceRelay || BehindRestrictiveNetwork()) {
		return pion.ICETransportPolicyRelay
	}
	return pion.ICETransportPolicyAll
}

func NewPeerConnection(cfg *config.ClientConfig) (*pion.PeerConnection, error) {
	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         ICEServers(cfg),
		ICETransportPolicy: TransportPolicy(cfg),
	})
	if err != nil {
		return nil, client.NewError("create peer connection", err)
	}
	return pc, nil
}

var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// BehindRestrictiveNetwork reports whether an active interface is a tunnel
// (WireGuard, OpenVPN, WARP and similar) or holds a CGNAT address. Direct
// candidates rarely connect from such hosts.
func BehindRestrictiveNetwork() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnatBlock.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
