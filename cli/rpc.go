// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/distromirrors/mirrorsd/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

func (c *cli) GetRPC() rpc.CLIClient {
	c.Lock()
	defer c.Unlock()

	if c.rpcconn == nil {
		conn, err := grpc.Dial(c.host,
			grpc.WithInsecure(),
			grpc.WithBlock(),
			grpc.WithPerRPCCredentials(c.creds))
		if err != nil {
			fmt.Fprintf(os.Stderr, "rpc: %s\n", err)
			os.Exit(1)
		}
		c.rpcconn = conn
		client := rpc.NewCLIClient(c.rpcconn)
		_, err = client.Ping(context.Background(), &emptypb.Empty{})
		s := status.Convert(err)
		if s.Code() == codes.Unauthenticated {
			if len(c.creds.Password) == 0 {
				fmt.Fprintf(os.Stderr, "Please set the server password with the -P option.\n")
			} else {
				fmt.Fprintf(os.Stderr, "Password refused\n")
			}
			os.Exit(1)
		}
	}

	return rpc.NewCLIClient(c.rpcconn)
}

type loginCreds struct {
	Password string
}

func (c *loginCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{
		"password": c.Password,
	}, nil
}

func (c *loginCreds) RequireTransportSecurity() bool {
	return false
}
