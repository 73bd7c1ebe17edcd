// Copyright (c) 2014-2015 Ludovic Fauvet
// Licensed under the MIT license

// Package http is the external HTTP surface (§6): mirrorlist/isolist
// rendering, the public HTML mirror table, debug JSON endpoints, and the
// authenticated update trigger. It renders through the selector and reads
// the store directly for listings that bypass the selection algorithm.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/network"
	"github.com/distromirrors/mirrorsd/processor"
	"github.com/distromirrors/mirrorsd/selector"
	"github.com/distromirrors/mirrorsd/store"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("main")

// HTTP is the webserver instance: it owns the listener, the precompiled
// page templates, and references to the selector/store/processor it fronts.
type HTTP struct {
	geoip      *network.GeoIP
	selector   *selector.Selector
	store      *store.Store
	processor  *processor.Processor
	templates  Templates
	svc        func() *mirrors.ServiceConfig
	mirrorsDir string

	server *http.Server
}

// NewHTTP constructs the HTTP server. svc is called on every request so a
// SIGHUP-triggered service-config reload is observed without a restart.
func NewHTTP(geo *network.GeoIP, sel *selector.Selector, st *store.Store, proc *processor.Processor, mirrorsDir string, svc func() *mirrors.ServiceConfig) *HTTP {
	t, err := LoadTemplates()
	if err != nil {
		log.Fatal(err)
	}
	return &HTTP{geoip: geo, selector: sel, store: st, processor: proc, templates: t, svc: svc, mirrorsDir: mirrorsDir}
}

// Handler builds the request router as a single http.HandlerFunc, gzip-
// wrapped per the teacher's middleware shape.
func (h *HTTP) Handler() http.Handler {
	return NewGzipHandler(h.dispatch)
}

// RunServer starts listening and blocks until the server is asked to stop.
func (h *HTTP) RunServer() error {
	h.server = &http.Server{
		Addr:           config.GetConfig().ListenAddress,
		Handler:        h.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info("Service listening on %s", config.GetConfig().ListenAddress)
	err := h.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting up to timeout for in-flight
// requests to complete.
func (h *HTTP) Shutdown(timeout time.Duration) error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HTTP) dispatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "mirrorsd/"+core.VERSION)
	ctx := NewContext(w, r)

	path := r.URL.Path
	switch {
	case path == "/":
		h.handleRoot(ctx)
	case strings.HasPrefix(path, "/mirrorlist/"):
		h.handleMirrorlist(ctx)
	case strings.HasPrefix(path, "/isolist/"):
		h.handleIsolist(ctx)
	case strings.HasPrefix(path, "/isos"):
		h.handleIsosPage(ctx)
	case path == "/debug/json/ip_info":
		h.handleIPInfo(ctx)
	case path == "/debug/json/nearest_mirrors":
		h.handleNearestMirrors(ctx)
	case path == "/debug/json/all_mirrors":
		h.handleAllMirrors(ctx)
	case path == "/update_mirrors" && r.Method == http.MethodPost:
		h.handleUpdateMirrors(ctx)
	default:
		http.NotFound(w, r)
	}
}

// handleRoot renders the public HTML table of every public mirror.
func (h *HTTP) handleRoot(ctx *Context) {
	states, err := h.store.List(store.PublicMirrorlist(false))
	if err != nil {
		h.internalError(ctx, err)
		return
	}
	ctx.ResponseWriter().Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.renderMirrorlist(ctx.ResponseWriter(), states); err != nil {
		log.Error("rendering mirrorlist page: %s", err)
	}
}

// handleMirrorlist implements "GET /mirrorlist/<version>/<repository>".
func (h *HTTP) handleMirrorlist(ctx *Context) {
	parts := strings.SplitN(strings.TrimPrefix(ctx.Request().URL.Path, "/mirrorlist/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(ctx.ResponseWriter(), ctx.Request())
		return
	}

	req := selector.Request{
		ClientIP: ctx.ClientIP(),
		Version:  parts[0],
		Repo:     parts[1],
		Protocol: ctx.QueryParam("protocol"),
		Country:  ctx.QueryParam("country"),
	}
	h.renderSelection(ctx, req)
}

// handleIsolist implements "GET /isolist/<version>/<arch>".
func (h *HTTP) handleIsolist(ctx *Context) {
	parts := strings.SplitN(strings.TrimPrefix(ctx.Request().URL.Path, "/isolist/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(ctx.ResponseWriter(), ctx.Request())
		return
	}

	req := selector.Request{
		ClientIP: ctx.ClientIP(),
		Version:  parts[0],
		Arch:     parts[1],
		ISOList:  true,
		Country:  ctx.QueryParam("country"),
	}
	h.renderSelection(ctx, req)
}

func (h *HTTP) renderSelection(ctx *Context, req selector.Request) {
	svc := h.svc()
	res, err := h.selector.Select(req, svc)
	if err != nil {
		http.NotFound(ctx.ResponseWriter(), ctx.Request())
		return
	}

	urls := selector.Render(res, req)
	ctx.ResponseWriter().Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(ctx.ResponseWriter(), strings.Join(urls, "\n"))
}

// handleIsosPage implements the "/isos[/<arch>/<version>]" HTML landing
// page, using the isolist selector under the hood.
func (h *HTTP) handleIsosPage(ctx *Context) {
	rest := strings.TrimPrefix(ctx.Request().URL.Path, "/isos")
	rest = strings.Trim(rest, "/")
	ctx.ResponseWriter().Header().Set("Content-Type", "text/html; charset=utf-8")

	if rest == "" {
		h.templates.renderIsos(ctx.ResponseWriter(), isosPage{})
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.NotFound(ctx.ResponseWriter(), ctx.Request())
		return
	}
	arch, version := parts[0], parts[1]

	req := selector.Request{ClientIP: ctx.ClientIP(), Version: version, Arch: arch, ISOList: true}
	res, err := h.selector.Select(req, h.svc())
	if err != nil {
		http.NotFound(ctx.ResponseWriter(), ctx.Request())
		return
	}

	h.templates.renderIsos(ctx.ResponseWriter(), isosPage{
		Version: version,
		Arch:    arch,
		Mirrors: selector.Render(res, req),
	})
}

// handleIPInfo implements "GET /debug/json/ip_info".
func (h *HTTP) handleIPInfo(ctx *Context) {
	ip := ctx.ClientIP()
	rec := h.geoip.GetRecord(ip)
	h.writeJSON(ctx, map[string]interface{}{
		"ip":         ip,
		"country":    rec.CountryCode,
		"continent":  rec.ContinentCode,
		"city":       rec.City,
		"latitude":   rec.Latitude,
		"longitude":  rec.Longitude,
		"as_number":  rec.ASNum,
		"as_name":    rec.ASName,
		"has_record": rec.IsValid(),
	})
}

// handleNearestMirrors implements "GET /debug/json/nearest_mirrors".
func (h *HTTP) handleNearestMirrors(ctx *Context) {
	req := selector.Request{
		ClientIP: ctx.ClientIP(),
		Version:  ctx.QueryParam("version"),
		Arch:     ctx.QueryParam("arch"),
		Repo:     ctx.QueryParam("repo"),
		Protocol: ctx.QueryParam("protocol"),
		Country:  ctx.QueryParam("country"),
	}
	if req.Version == "" {
		req.Version = firstActiveVersion(h.svc())
	}

	res, err := h.selector.Select(req, h.svc())
	if err != nil {
		h.writeJSON(ctx, map[string]interface{}{"error": err.Error()})
		return
	}
	h.writeJSON(ctx, map[string]interface{}{
		"request":      req,
		"urls":         selector.Render(res, req),
		"network_pass": res.NetworkPass,
	})
}

func firstActiveVersion(svc *mirrors.ServiceConfig) string {
	if len(svc.Versions) == 0 {
		return ""
	}
	return svc.Versions[0]
}

// handleAllMirrors implements "GET /debug/json/all_mirrors".
func (h *HTTP) handleAllMirrors(ctx *Context) {
	states, err := h.store.List(store.Filter{})
	if err != nil {
		h.internalError(ctx, err)
		return
	}
	h.writeJSON(ctx, states)
}

// handleUpdateMirrors implements "POST /update_mirrors": auth-gated by an
// UpdateKey shared secret, triggers an update cycle synchronously and
// returns the elapsed time.
func (h *HTTP) handleUpdateMirrors(ctx *Context) {
	cfg := config.GetConfig()
	if cfg.UpdateKey != "" && ctx.QueryParam("key") != cfg.UpdateKey {
		http.Error(ctx.ResponseWriter(), "forbidden", http.StatusForbidden)
		return
	}

	svc := h.svc()
	res, err := h.processor.RunCycle(ctx.Request().Context(), h.mirrorsDir, svc)
	if err != nil {
		h.internalError(ctx, err)
		return
	}

	h.writeJSON(ctx, map[string]interface{}{
		"status": "ok",
		"result": map[string]interface{}{
			"message":  "update completed",
			"elapsed":  res.Duration.String(),
			"total":    res.Total,
			"working":  res.Working,
			"expired":  res.Expired,
			"failed":   res.Failed,
		},
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTP) writeJSON(ctx *Context, v interface{}) {
	ctx.ResponseWriter().Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(ctx.ResponseWriter())
	if ctx.IsPretty() {
		enc.SetIndent("", "    ")
	}
	if err := enc.Encode(v); err != nil {
		log.Error("encoding JSON response: %s", err)
	}
}

func (h *HTTP) internalError(ctx *Context, err error) {
	log.Error("internal error: %s", err)
	ctx.ResponseWriter().Header().Set("Content-Type", "application/json; charset=utf-8")
	ctx.ResponseWriter().WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(ctx.ResponseWriter()).Encode(map[string]interface{}{
		"status":    "error",
		"result":    map[string]string{"message": err.Error()},
		"timestamp": time.Now().Unix(),
	})
}
