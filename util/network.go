package util

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// RoomAddress is a parsed room URL such as ws://localhost:3536/game_room.
type RoomAddress struct {
	Scheme string // "ws" or "wss"
	Host   string // host:port
	Room   string // first path segment
}

// String returns the canonical URL form.
func (a RoomAddress) String() string {
	return fmt.Sprintf("%s://%s/%s", a.Scheme, a.Host, a.Room)
}

// ParseRoomAddress validates a room URL.  The port defaults to 80 for
// ws and 443 for wss.
func ParseRoomAddress(raw string) (RoomAddress, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return RoomAddress{}, fmt.Errorf("invalid room address %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return RoomAddress{}, fmt.Errorf("room address %q must use ws:// or wss://", raw)
	}
	if u.Hostname() == "" {
		return RoomAddress{}, fmt.Errorf("room address %q has no host", raw)
	}
	room := strings.Trim(u.Path, "/")
	if room == "" {
		return RoomAddress{}, fmt.Errorf("room address %q has no room name", raw)
	}
	if i := strings.IndexByte(room, '/'); i >= 0 {
		room = room[:i]
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "wss" {
			port = "443"
		}
	}
	return RoomAddress{
		Scheme: u.Scheme,
		Host:   net.JoinHostPort(u.Hostname(), port),
		Room:   room,
	}, nil
}

// RoomFromPath extracts the room name from an HTTP request path.
func RoomFromPath(path string) string {
	room := strings.Trim(path, "/")
	if i := strings.IndexByte(room, '/'); i >= 0 {
		room = room[:i]
	}
	return room
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
