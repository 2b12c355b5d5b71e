package hostinfo

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
)

// enumerateInterfaces lists non-loopback network interfaces with their
// addressing and link info (spec.md §4.7). Interfaces are classified
// LAN vs WiFi by the `w*` name prefix (wlan0, wlp2s0, ...), and WiFi
// signal strength is read from /proc/net/wireless when present, the
// same source the original C# implementation used rather than a
// netlink round trip.
func enumerateInterfaces() ([]interface{}, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	signals := readWirelessSignals()

	var out []interface{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		entry := map[string]interface{}{
			"name": iface.Name,
			"mac":  iface.HardwareAddr.String(),
			"type": interfaceType(iface.Name),
			"up":   iface.Flags&net.FlagUp != 0,
		}

		var ipv4, mask string
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			ipv4 = ip4.String()
			mask = net.IP(ipNet.Mask).String()
			break
		}
		entry["ipv4"] = ipv4
		entry["mask"] = mask

		if sig, ok := signals[iface.Name]; ok {
			entry["signal"] = sig
		}

		out = append(out, entry)
	}
	return out, nil
}

// interfaceType classifies an interface LAN vs WiFi by name prefix
// (spec.md §4.7: "LAN vs WiFi by name prefix `w*`").
func interfaceType(name string) string {
	if strings.HasPrefix(name, "w") {
		return "WiFi"
	}
	return "LAN"
}

// readWirelessSignals parses /proc/net/wireless for per-interface
// signal level, in dBm as reported by the driver. Absence of the file
// (no wireless hardware) is not an error.
func readWirelessSignals() map[string]int {
	signals := map[string]int{}
	f, err := os.Open("/proc/net/wireless")
	if err != nil {
		return signals
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // two header lines
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		level, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			continue
		}
		signals[name] = int(level)
	}
	return signals
}
