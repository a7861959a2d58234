// Package origin derives the browser origins allowed to read the status API.
package origin

import (
	"net"
	"net/url"
	"strings"
)

// Allowed returns the CORS origins for a server listening on listenAddr.
// Explicit origins win; otherwise the loopback names for the listen port
// (and the bound host, when it is not a wildcard) are allowed.
func Allowed(listenAddr, explicit string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(o string) {
		if o == "" {
			return
		}
		if _, ok := seen[o]; ok {
			return
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}

	for _, o := range split(explicit) {
		add(normalize(o))
	}
	if len(out) > 0 {
		return out
	}

	for _, o := range fromListen(listenAddr) {
		add(o)
	}
	return out
}

func split(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		}
		return false
	})
}

func normalize(o string) string {
	u, err := url.Parse(strings.TrimSpace(o))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func fromListen(listenAddr string) []string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return nil
	}

	hosts := []string{"localhost", "127.0.0.1"}
	if host != "" && host != "0.0.0.0" && host != "::" && host != "localhost" && host != "127.0.0.1" {
		hosts = append(hosts, host)
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, "http://"+net.JoinHostPort(h, port))
	}
	return out
}
