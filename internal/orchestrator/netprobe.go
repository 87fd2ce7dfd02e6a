// Package orchestrator wires every subsystem together at boot, owns their
// lifecycles, and coordinates graceful shutdown, grounded on
// cmd/edgeflow/main.go's registerModules wiring shape (generalized from
// plugin registration to subsystem construction + dependency injection) and
// internal/engine/scheduler.go's run-until-cancelled loop shape.
package orchestrator

import (
	"context"
	"net"
	"time"

	"github.com/GifariKemal/iiot-gateway-core/internal/netsuper"
)

// interfaceProbe builds a netsuper.HealthProbe for one named network
// interface: healthy means the interface is up and carries at least one
// usable unicast address; localIP is that address's IP. RSSI is read by
// rssiForInterface, which is a no-op (-1) everywhere except Linux wifi
// interfaces with /proc/net/wireless support (netprobe_linux.go).
func interfaceProbe(name string) netsuper.HealthProbe {
	return func(ctx context.Context) (healthy bool, rssiDBm int, localIP string, err error) {
		iface, ferr := net.InterfaceByName(name)
		if ferr != nil {
			return false, -1, "", ferr
		}
		if iface.Flags&net.FlagUp == 0 {
			return false, -1, "", nil
		}
		addrs, aerr := iface.Addrs()
		if aerr != nil {
			return false, -1, "", aerr
		}
		ip := firstUsableIP(addrs)
		if ip == "" {
			return false, -1, "", nil
		}
		return true, rssiForInterface(name), ip, nil
	}
}

func firstUsableIP(addrs []net.Addr) string {
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}

// dialProbeTimeout bounds the reachability sanity-check probeReachable
// layers on top of interfaceProbe.
const dialProbeTimeout = 2 * time.Second

// probeReachable wraps a HealthProbe so it also requires a successful TCP
// dial to hostport, sourced from the interface's own local IP, catching
// link-up-but-no-route conditions a plain interface-flags check would
// miss. Grounded on pkg/nodes/network/tcp_client.go's connect-and-verify
// shape. hostport is typically the configured MQTT broker's address,
// since "is the link actually usable" is best answered by dialing the
// thing the gateway actually needs to reach.
func probeReachable(base netsuper.HealthProbe, hostport string) netsuper.HealthProbe {
	return func(ctx context.Context) (bool, int, string, error) {
		healthy, rssi, ip, err := base(ctx)
		if err != nil || !healthy || hostport == "" {
			return healthy, rssi, ip, err
		}
		dialer := net.Dialer{Timeout: dialProbeTimeout, LocalAddr: &net.TCPAddr{IP: net.ParseIP(ip)}}
		conn, derr := dialer.DialContext(ctx, "tcp", hostport)
		if derr != nil {
			return false, rssi, ip, nil
		}
		conn.Close()
		return true, rssi, ip, nil
	}
}
