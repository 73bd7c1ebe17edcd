// Copyright (c) 2014-2017 Ludovic Fauvet
// Licensed under the MIT license

// Package cli is the operator-facing command-line front end for the RPC
// surface in package rpc: list/enable/disable mirrors, trigger an update
// cycle, and inspect version/status, all over a password-authenticated
// grpc connection (§ operator tooling).
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/op/go-logging"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = logging.MustGetLogger("main")

// ErrCommandNotFound is returned by ParseCommands when args[0] doesn't
// match any Cmd* method.
var ErrCommandNotFound = errors.New("command not found")

type cli struct {
	sync.Mutex
	host    string
	creds   *loginCreds
	rpcconn *grpc.ClientConn
}

// ParseCommands parses the command line and calls the appropriate function.
func ParseCommands(host, password string, args ...string) error {
	c := &cli{host: host, creds: &loginCreds{Password: password}}
	defer func() {
		if c.rpcconn != nil {
			c.rpcconn.Close()
		}
	}()

	if len(args) > 0 && args[0] != "help" {
		method, exists := c.getMethod(args[0])
		if !exists {
			fmt.Println("Error: Command not found:", args[0])
			return c.CmdHelp()
		}
		ret := method.Func.CallSlice([]reflect.Value{
			reflect.ValueOf(c),
			reflect.ValueOf(args[1:]),
		})[0].Interface()
		if ret == nil {
			return nil
		}
		return ret.(error)
	}
	return c.CmdHelp()
}

func (c *cli) getMethod(name string) (reflect.Method, bool) {
	methodName := "Cmd" + strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
	return reflect.TypeOf(c).MethodByName(methodName)
}

func (c *cli) CmdHelp() error {
	help := "Usage: mirrorsdctl [OPTIONS] COMMAND [arg...]\n\nControl a mirrorsd instance.\n\nCommands:\n"
	for _, command := range [][]string{
		{"list", "List all mirrors"},
		{"enable", "Enable a mirror"},
		{"disable", "Disable a mirror"},
		{"update", "Trigger an update cycle"},
		{"status", "Show the status of the last/current update cycle"},
		{"reload", "Reload configuration"},
		{"version", "Print version information"},
	} {
		help += fmt.Sprintf("    %-10.10s%s\n", command[0], command[1])
	}
	fmt.Fprintf(os.Stderr, "%s\n", help)
	return nil
}

// SubCmd prints the usage of a subcommand.
func SubCmd(name, signature, description string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nUsage: mirrorsdctl %s %s\n\n%s\n\n", name, signature, description)
		flags.PrintDefaults()
	}
	return flags
}

func (c *cli) CmdVersion(args ...string) error {
	cmd := SubCmd("version", "", "Print version information of both the client and server")
	if err := cmd.Parse(args); err != nil {
		return nil
	}

	s, err := c.GetRPC().GetVersion(context.Background(), &emptypb.Empty{})
	if err != nil {
		return err
	}
	printStruct(s)
	return nil
}

func (c *cli) CmdReload(args ...string) error {
	cmd := SubCmd("reload", "", "Reload configuration on the server")
	if err := cmd.Parse(args); err != nil {
		return nil
	}

	_, err := c.GetRPC().Reload(context.Background(), &emptypb.Empty{})
	return err
}

func (c *cli) CmdUpdate(args ...string) error {
	cmd := SubCmd("update", "", "Trigger an update cycle")
	if err := cmd.Parse(args); err != nil {
		return nil
	}

	s, err := c.GetRPC().TriggerUpdate(context.Background(), &emptypb.Empty{})
	if err != nil {
		return err
	}
	printStruct(s)
	return nil
}

func (c *cli) CmdStatus(args ...string) error {
	cmd := SubCmd("status", "", "Show the status of the last/current update cycle")
	if err := cmd.Parse(args); err != nil {
		return nil
	}

	s, err := c.GetRPC().GetUpdateStatus(context.Background(), &emptypb.Empty{})
	if err != nil {
		return err
	}
	printStruct(s)
	return nil
}

func (c *cli) CmdList(args ...string) error {
	cmd := SubCmd("list", "", "Get the list of mirrors")
	disabled := cmd.Bool("disabled", false, "List disabled mirrors only")
	enabled := cmd.Bool("enabled", false, "List enabled mirrors only")

	if err := cmd.Parse(args); err != nil {
		return nil
	}
	if cmd.NArg() != 0 {
		cmd.Usage()
		return nil
	}

	s, err := c.GetRPC().ListMirrors(context.Background(), &emptypb.Empty{})
	if err != nil {
		return err
	}

	mirrors := s.GetFields()["mirrors"].GetListValue().GetValues()

	type row struct {
		name, status, country string
		private                bool
	}
	rows := make([]row, 0, len(mirrors))
	for _, v := range mirrors {
		f := v.GetStructValue().GetFields()
		r := row{
			name:    f["name"].GetStringValue(),
			status:  f["status"].GetStringValue(),
			country: f["country"].GetStringValue(),
			private: f["private"].GetBoolValue(),
		}
		if *disabled && !r.private {
			continue
		}
		if *enabled && r.private {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCOUNTRY\tSTATE")
	for _, r := range rows {
		state := "enabled"
		if r.private {
			state = "disabled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.name, r.status, r.country, state)
	}
	return w.Flush()
}

func (c *cli) CmdEnable(args ...string) error {
	return c.setEnabled(args, true, "enable")
}

func (c *cli) CmdDisable(args ...string) error {
	return c.setEnabled(args, false, "disable")
}

func (c *cli) setEnabled(args []string, enabled bool, verb string) error {
	cmd := SubCmd(verb, "<mirror>", "Set whether a mirror is publicly selectable")
	if err := cmd.Parse(args); err != nil {
		return nil
	}
	if cmd.NArg() != 1 {
		cmd.Usage()
		return nil
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"name":    cmd.Arg(0),
		"enabled": enabled,
	})
	if err != nil {
		return err
	}

	_, err = c.GetRPC().SetMirrorEnabled(context.Background(), req)
	return err
}

func printStruct(s *structpb.Struct) {
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s:\t%s\n", k, structValueString(s.GetFields()[k]))
	}
	w.Flush()
}

func structValueString(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return v.GetStringValue()
	case *structpb.Value_BoolValue:
		return fmt.Sprintf("%t", v.GetBoolValue())
	case *structpb.Value_NumberValue:
		return fmt.Sprintf("%g", v.GetNumberValue())
	default:
		return v.String()
	}
}
