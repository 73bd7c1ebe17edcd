// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package rpc

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	. "github.com/distromirrors/mirrorsd/config"
	"github.com/distromirrors/mirrorsd/core"
	"github.com/distromirrors/mirrorsd/database"
	"github.com/distromirrors/mirrorsd/mirrors"
	"github.com/distromirrors/mirrorsd/processor"
	"github.com/distromirrors/mirrorsd/store"
	"github.com/op/go-logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = logging.MustGetLogger("main")

// CLI is the server side of the RPC surface exposed to the cli package: a
// thin control plane over the processor (trigger/inspect update cycles) and
// the store (list/enable mirrors), gated by the same password-based
// interceptor the teacher uses.
type CLI struct {
	listener net.Listener
	server   *grpc.Server
	sig      chan<- os.Signal

	redis      *database.Redis
	store      *store.Store
	processor  *processor.Processor
	mirrorsDir string
	svc        func() *mirrors.ServiceConfig

	updateMu      sync.Mutex
	updateRunning bool
	lastResult    processor.Result
	lastErr       error
	haveResult    bool
}

func (c *CLI) Start() error {
	var err error
	c.listener, err = net.Listen("tcp", GetConfig().RPCListenAddress)
	if err != nil {
		return err
	}
	c.server = grpc.NewServer(
		grpc.UnaryInterceptor(UnaryInterceptor),
		grpc.StreamInterceptor(StreamInterceptor),
	)
	RegisterCLIServer(c.server, c)
	reflection.Register(c.server)
	go func() {
		if err := c.server.Serve(c.listener); err != nil {
			log.Error("rpc server stopped: %s", err)
		}
	}()
	return nil
}

func (c *CLI) Close() error {
	c.server.Stop()
	return c.listener.Close()
}

func (c *CLI) SetSignals(sig chan<- os.Signal) {
	c.sig = sig
}

func (c *CLI) SetDatabase(r *database.Redis) {
	c.redis = r
}

func (c *CLI) SetStore(st *store.Store) {
	c.store = st
}

func (c *CLI) SetProcessor(p *processor.Processor, mirrorsDir string, svc func() *mirrors.ServiceConfig) {
	c.processor = p
	c.mirrorsDir = mirrorsDir
	c.svc = svc
}

func (c *CLI) Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (c *CLI) GetVersion(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"version":     core.VERSION,
		"build":       core.BUILD + core.DEV,
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"go_max_procs": float64(runtime.GOMAXPROCS(0)),
	})
}

func (c *CLI) Reload(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error) {
	select {
	case c.sig <- syscall.SIGHUP:
	default:
		return nil, status.Error(codes.Internal, "signal handler not ready")
	}
	return &emptypb.Empty{}, nil
}

// TriggerUpdate starts an update cycle in the background if one isn't
// already running, and returns immediately (§ "update cycle" is long-running
// and shouldn't block an RPC deadline).
func (c *CLI) TriggerUpdate(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	c.updateMu.Lock()
	if c.updateRunning {
		c.updateMu.Unlock()
		return structpb.NewStruct(map[string]interface{}{"status": "already_running"})
	}
	if c.processor == nil {
		c.updateMu.Unlock()
		return nil, status.Error(codes.FailedPrecondition, "processor not configured")
	}
	c.updateRunning = true
	c.updateMu.Unlock()

	go func() {
		res, err := c.processor.RunCycle(context.Background(), c.mirrorsDir, c.svc())
		c.updateMu.Lock()
		c.updateRunning = false
		c.lastResult = res
		c.lastErr = err
		c.haveResult = true
		c.updateMu.Unlock()
		if err != nil {
			log.Error("update cycle failed: %s", err)
		}
	}()

	return structpb.NewStruct(map[string]interface{}{"status": "started"})
}

// GetUpdateStatus reports whether a cycle is currently running and the
// outcome of the last one that completed.
func (c *CLI) GetUpdateStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	fields := map[string]interface{}{
		"running": c.updateRunning,
	}
	if c.haveResult {
		fields["last_run_at"] = c.lastResult.Started.Format(time.RFC3339)
		fields["duration_seconds"] = c.lastResult.Duration.Seconds()
		fields["total"] = float64(c.lastResult.Total)
		fields["working"] = float64(c.lastResult.Working)
		fields["expired"] = float64(c.lastResult.Expired)
		fields["failed"] = float64(c.lastResult.Failed)
		if c.lastErr != nil {
			fields["error"] = c.lastErr.Error()
		}
	}
	return structpb.NewStruct(fields)
}

// ListMirrors returns every mirror in the MirrorSet, bypassing the public
// filters the selector applies (this is an operator-facing view).
func (c *CLI) ListMirrors(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error) {
	if c.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	states, err := c.store.List(store.Filter{})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	list := make([]interface{}, 0, len(states))
	for _, m := range states {
		list = append(list, map[string]interface{}{
			"name":      m.Name,
			"status":    m.Status,
			"private":   m.Private,
			"mirror_url": m.MirrorURL,
			"country":   m.Geolocation.Country,
		})
	}
	return structpb.NewStruct(map[string]interface{}{"mirrors": list})
}

// SetMirrorEnabled flips the private flag of the named mirror. The request
// is a Struct with "name" (string) and "enabled" (bool) fields, since there
// is no generated request message for this call (see service.go).
func (c *CLI) SetMirrorEnabled(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if c.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	fields := in.GetFields()
	name, ok := fields["name"]
	if !ok || name.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing mirror name")
	}
	enabled := true
	if v, ok := fields["enabled"]; ok {
		enabled = v.GetBoolValue()
	}

	if err := c.store.SetPrivate(name.GetStringValue(), !enabled); err != nil {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("mirror %q: %s", name.GetStringValue(), err))
	}
	return &emptypb.Empty{}, nil
}
