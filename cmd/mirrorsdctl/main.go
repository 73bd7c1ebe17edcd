// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

// Command mirrorsdctl is the standalone operator client for the RPC
// control plane in package rpc: it owns no configuration file of its
// own, just a host/password pair and the sub-command to run, and
// delegates everything else to package cli.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/distromirrors/mirrorsd/cli"
)

var (
	host     string
	password string
)

func init() {
	flag.StringVar(&host, "H", "127.0.0.1:8081", "RPC host:port of the mirrorsd instance to control")
	flag.StringVar(&password, "P", os.Getenv("MIRRORSD_RPC_PASSWORD"), "RPC password (default: $MIRRORSD_RPC_PASSWORD)")
}

func main() {
	flag.Parse()

	if err := cli.ParseCommands(host, password, flag.Args()...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
