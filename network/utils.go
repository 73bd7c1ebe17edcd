// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

package network

import (
	"net"
	"net/http"
	"strings"

	"github.com/distromirrors/mirrorsd/config"
)

// LookupMirrorIP resolves the IP address of a mirror's hostname and returns
// an error if the DNS answer carries more than one address, since a mirror
// with multiple addresses can't be assigned a single geolocation.
func LookupMirrorIP(host string) (string, error) {
	addrs, err := net.LookupIP(host)
	if err != nil {
		return "", err
	}
	if len(addrs) > 1 {
		err = ErrMultipleAddresses
	}

	return addrs[0].String(), err
}

// RemoteIPFromAddr strips the port from a remote address (x.x.x.x:yyyy or
// [::1]:yyyy).
func RemoteIPFromAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr[:strings.LastIndex(remoteAddr, ":")]
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// ExtractRemoteIP extracts the left-most address from an X-Forwarded-For
// header. That address is the original client; every address appended after
// it was added by an intermediate proxy.
func ExtractRemoteIP(xForwardedFor string) string {
	addresses := strings.Split(xForwardedFor, ",")
	if len(addresses) > 0 && len(addresses[0]) > 0 {
		return strings.TrimSpace(addresses[0])
	}
	return ""
}

// ClientIP resolves the address a request should be geolocated from:
// TEST_IP_ADDRESS override, then the first X-Forwarded-For address that is
// neither private nor loopback, then X-Real-Ip, then falling back to the
// socket peer address.
func ClientIP(r *http.Request) string {
	if test := config.GetConfig().TestIP; test != "" {
		return test
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		for _, a := range strings.Split(v, ",") {
			if ip := net.ParseIP(strings.TrimSpace(a)); ip != nil && !ip.IsPrivate() && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	if v := r.Header.Get("X-Real-Ip"); v != "" {
		return strings.TrimSpace(v)
	}
	return RemoteIPFromAddr(r.RemoteAddr)
}
