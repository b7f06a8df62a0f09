// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package access

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"authd/core"

	of "github.com/netrack/openflow"
	"github.com/netrack/openflow/ofp"
	"github.com/op/go-logging"
)

/* OpenFlow 1.3 controller client.

Grant installs a flow matching (in_port, eth_src) with a NORMAL output
action; deny and revoke both delete that flow, so an unauthenticated
supplicant falls back to the switch's default (blocked) behavior. The
connection is redialed lazily on the next Apply after a failure, which
pairs with the engine's retry backoff. */

type OpenflowCfg struct {
	Server      string
	Table       uint8
	Priority    uint16
	DialTimeout time.Duration
}

type OpenflowClient struct {
	cfg  OpenflowCfg
	mu   sync.Mutex
	conn of.Conn
	log  *logging.Logger
}

func NewOpenflowClient(cfg OpenflowCfg) *OpenflowClient {
	o := new(OpenflowClient)
	o.cfg = cfg
	if o.cfg.Priority == 0 {
		o.cfg.Priority = 100
	}
	if o.cfg.DialTimeout == 0 {
		o.cfg.DialTimeout = 3 * time.Second
	}
	o.log = core.NewLogger("openflow")
	return o
}

// connect dial and say hello; echo keepalives are answered by the
// receive goroutine until the connection dies
func (o *OpenflowClient) connect() error {
	c, err := net.DialTimeout("tcp", o.cfg.Server, o.cfg.DialTimeout)
	if err != nil {
		return err
	}
	conn := of.NewConn(c)
	if err = conn.Send(of.NewRequest(of.TypeHello, nil)); err != nil {
		conn.Close()
		return err
	}
	if err = conn.Flush(); err != nil {
		conn.Close()
		return err
	}
	o.conn = conn
	go o.serve(conn)
	o.log.Infof("connected to %s", o.cfg.Server)
	return nil
}

func (o *OpenflowClient) serve(conn of.Conn) {
	for {
		r, err := conn.Receive()
		if err != nil {
			o.mu.Lock()
			if o.conn == conn {
				o.conn = nil
			}
			o.mu.Unlock()
			conn.Close()
			o.log.Infof("connection to %s lost: %v", o.cfg.Server, err)
			return
		}
		if r.Header.Type == of.TypeEchoRequest {
			o.mu.Lock()
			if o.conn == conn {
				conn.Send(of.NewRequest(of.TypeEchoReply, nil))
				conn.Flush()
			}
			o.mu.Unlock()
		}
	}
}

func inPortValue(port uint16) ofp.XMValue {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(port))
	return ofp.XMValue(b[:])
}

func (o *OpenflowClient) flowMod(d Decision) *ofp.FlowMod {
	mac := d.Mac
	match := ofp.Match{
		Type: ofp.MatchTypeXM,
		Fields: []ofp.XM{
			{
				Class: ofp.XMClassOpenflowBasic,
				Type:  ofp.XMTypeInPort,
				Value: inPortValue(d.Port),
			},
			{
				Class: ofp.XMClassOpenflowBasic,
				Type:  ofp.XMTypeEthSrc,
				Value: ofp.XMValue(mac[:]),
			},
		},
	}

	if d.Action == ActionGrant {
		return &ofp.FlowMod{
			Table:    ofp.Table(o.cfg.Table),
			Command:  ofp.FlowAdd,
			Priority: o.cfg.Priority,
			Buffer:   ofp.NoBuffer,
			OutPort:  ofp.PortAny,
			OutGroup: ofp.GroupAny,
			Match:    match,
			Instructions: ofp.Instructions{
				&ofp.InstructionApplyActions{
					Actions: ofp.Actions{
						&ofp.ActionOutput{Port: ofp.PortNormal},
					},
				},
			},
		}
	}
	return &ofp.FlowMod{
		Table:    ofp.Table(o.cfg.Table),
		Command:  ofp.FlowDelete,
		Buffer:   ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    match,
	}
}

func (o *OpenflowClient) Apply(d Decision) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		if err := o.connect(); err != nil {
			return err
		}
	}
	r := of.NewRequest(of.TypeFlowMod, o.flowMod(d))
	if err := o.conn.Send(r); err != nil {
		o.conn.Close()
		o.conn = nil
		return err
	}
	if err := o.conn.Flush(); err != nil {
		o.conn.Close()
		o.conn = nil
		return err
	}
	return nil
}

func (o *OpenflowClient) Delete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn != nil {
		o.conn.Close()
		o.conn = nil
	}
}
