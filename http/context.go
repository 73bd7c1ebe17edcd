// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package http

import (
	"net/http"
	"net/url"

	"github.com/distromirrors/mirrorsd/network"
)

// Context carries the per-request query parameters and resolved client IP,
// the subset of a request the selector and debug handlers care about.
type Context struct {
	r  *http.Request
	w  http.ResponseWriter
	v  url.Values
	ip string
}

// NewContext returns a new Context, resolving the client IP the same way
// every handler needs it (§6 "Client IP extraction").
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{r: r, w: w, v: r.URL.Query(), ip: network.ClientIP(r)}
}

func (c *Context) Request() *http.Request          { return c.r }
func (c *Context) ResponseWriter() http.ResponseWriter { return c.w }
func (c *Context) ClientIP() string                 { return c.ip }

// QueryParam returns the value associated with the given query parameter.
func (c *Context) QueryParam(key string) string {
	return c.v.Get(key)
}

// IsPretty returns true if the pretty-printed JSON form has been requested.
func (c *Context) IsPretty() bool {
	_, ok := c.v["pretty"]
	return ok
}
