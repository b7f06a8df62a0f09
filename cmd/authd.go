// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authd/access"
	"authd/auth"
	"authd/backend"
	"authd/cfg"
	"authd/core"

	"github.com/akamensky/argparse"
)

const VERSION = "0.1"

type MainArgs struct {
	file    *string
	verbose *bool
	sim     *bool
	version *bool
}

func parseMainArgs() *MainArgs {
	var args MainArgs
	parser := argparse.NewParser("authd", "802.1X port authenticator daemon")

	args.file = parser.String("f", "file", &argparse.Options{Default: "authd.yaml", Help: "Path to the yaml config"})
	args.verbose = parser.Flag("v", "verbose", &argparse.Options{Default: false, Help: "Run server in verbose mode"})
	args.sim = parser.Flag("s", "simulator", &argparse.Options{Default: false, Help: "Run with a loopback dataplane, no zmq/tap"})
	args.version = parser.Flag("V", "version", &argparse.Options{Default: false, Help: "show authd version"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
	}
	return &args
}

func buildVeth(c *cfg.Config, sim bool) (core.VethIF, error) {
	if sim {
		return core.NewVethSim(nil), nil
	}
	switch c.Veth.Mode {
	case "tap":
		ports := make(map[uint16]string)
		for _, t := range c.Veth.Taps {
			ports[t.Port] = t.Name
		}
		tap, err := core.NewVethTap(ports)
		if err != nil {
			return nil, err
		}
		return tap, nil
	case "sim":
		return core.NewVethSim(nil), nil
	default:
		z := new(core.VethIFZmq)
		z.Create(c.Veth.Server, c.Veth.Port)
		return z, nil
	}
}

func RunAuthd(args *MainArgs) int {
	if *args.version {
		fmt.Printf("authd version is %s\n", VERSION)
		return 0
	}

	c, err := cfg.Load(*args.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *args.verbose {
		c.Verbose = true
	}
	core.ConfigureLogging(c.Verbose)
	log := core.NewLogger("main")

	veth, err := buildVeth(c, *args.sim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dataplane: %v\n", err)
		return 1
	}

	be := backend.NewRadiusClient(backend.RadiusCfg{
		Server:          c.Radius.Server,
		Secret:          c.Radius.Secret,
		Timeout:         time.Duration(c.Radius.TimeoutSec) * time.Second,
		Retry:           time.Duration(c.Radius.RetrySec) * time.Second,
		NasIdentifier:   c.Radius.NasIdentifier,
		CalledStationId: c.Radius.CalledStationId,
		MaxInflight:     int(c.Radius.MaxInflight),
	})

	ofc := access.NewOpenflowClient(access.OpenflowCfg{
		Server:   c.Openflow.Server,
		Table:    c.Openflow.Table,
		Priority: c.Openflow.Priority,
	})
	engine := access.NewEngine(ofc, access.EngineCfg{
		RetryLimit: c.Openflow.RetryLimit,
		RetryBase:  time.Duration(c.Openflow.RetryBaseMs) * time.Millisecond,
		QueueSize:  c.Openflow.DecisionQLen,
	}, *args.sim)
	engine.Start()

	ctx := auth.NewAuthCtx(c, veth, be, engine, *args.sim)
	ctx.AddCounters(be.Cdb())
	auth.RegisterRpcCmds(ctx)

	var rpc core.CHttpJsonRPC
	rpc.Create(c.OpsPort)
	rpc.StartServerThread()

	ctx.Start()
	if rx, ok := veth.(interface{ StartRxThread() }); ok {
		rx.StartRxThread()
	}

	log.Infof("authd up, ops port %d, veth %s, %d workers",
		c.OpsPort, c.Veth.Mode, c.Auth.Workers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("signal %v, shutting down", sig)

	rpc.Delete()
	ctx.Delete()
	engine.Delete()
	be.Delete()
	veth.Delete()
	return 0
}

func main() {
	os.Exit(RunAuthd(parseMainArgs()))
}
