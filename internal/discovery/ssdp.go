// Package discovery finds unpaired speakers on the LAN: an SSDP sweep for
// media renderers, then a probe of each responder through the control API.
package discovery

import (
	"context"
	"net"
	"strings"
	"time"
)

const (
	ssdpAddr = "239.255.255.250:1900"
	// KEF speakers advertise as generic UPnP media renderers.
	ssdpTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"
)

// Response is one SSDP answer, deduplicated by USN.
type Response struct {
	Location string
	USN      string
	Server   string
	FromIP   string
}

// Discover runs an SSDP M-SEARCH. Multiple passes paper over UDP loss on
// busy networks; answers are collected until the read deadline.
func Discover(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}

	byUSN := make(map[string]Response)

	for pass := 0; pass < passes; pass++ {
		if _, err := conn.WriteTo(searchMessage(), addr); err != nil {
			return nil, err
		}
		if pass < passes-1 {
			select {
			case <-ctx.Done():
				return responseList(byUSN), ctx.Err()
			case <-time.After(passInterval):
			}
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return responseList(byUSN), nil
			}
			return responseList(byUSN), err
		}

		resp := parseResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		if _, seen := byUSN[resp.USN]; seen {
			continue
		}
		resp.FromIP = hostOnly(raddr.String())
		byUSN[resp.USN] = resp
	}
}

func searchMessage() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 2\r\n" +
		"ST: " + ssdpTarget + "\r\n" +
		"\r\n")
}

// parseResponse reads the headers of one SSDP answer. The status line is
// skipped; header names are case-insensitive on the wire.
func parseResponse(raw string) Response {
	var resp Response
	lines := strings.Split(raw, "\r\n")
	for i, line := range lines {
		if i == 0 || line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case "LOCATION":
			resp.Location = value
		case "USN":
			resp.USN = value
		case "SERVER":
			resp.Server = value
		}
	}
	return resp
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func responseList(byUSN map[string]Response) []Response {
	list := make([]Response, 0, len(byUSN))
	for _, resp := range byUSN {
		list = append(list, resp)
	}
	return list
}
