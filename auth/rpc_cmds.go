// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"context"
	"encoding/json"

	"authd/cfg"
	"authd/core"

	"github.com/intel-go/fastjson"
	"github.com/osamingo/jsonrpc/v2"
)

/* ops commands for the authenticator:

   auth_session_info  - session table snapshot, per port or all
   auth_session_cnt   - the counters tree
   auth_port_policy   - replace per-port modes at runtime
   auth_port_state    - administrative port up/down
*/

var rpcCtx *CAuthCtx

type ApiAuthSessionInfoHandler struct{}
type ApiAuthSessionCntHandler struct{}
type ApiAuthPortPolicyHandler struct{}
type ApiAuthPortStateHandler struct{}

type apiSessionInfoParams struct {
	Port *uint16 `json:"port"`
}

func (h ApiAuthSessionInfoHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p apiSessionInfoParams
	if params != nil {
		if err := jsonrpc.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	port := -1
	if p.Port != nil {
		port = int(*p.Port)
	}
	info, err := rpcCtx.SessionInfo(port)
	if err != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeInternal,
			Message: err.Error(),
		}
	}
	if info == nil {
		info = []SessionInfo{}
	}
	return info, nil
}

func (h ApiAuthSessionCntHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	var p core.ApiCntParams
	if params != nil {
		if err := jsonrpc.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	return rpcCtx.Cdbv.GeneralCounters(&p)
}

func (h ApiAuthPortPolicyHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	if params == nil {
		return nil, jsonrpc.ErrInvalidParams()
	}
	raw := fastjson.RawMessage(*params)
	ports, err := cfg.ParsePortPolicy(&raw)
	if err != nil {
		return nil, &jsonrpc.Error{
			Code:    jsonrpc.ErrorCodeInvalidParams,
			Message: err.Error(),
		}
	}
	rpcCtx.SetPortPolicy(ports)
	return map[string]interface{}{"ports": len(ports)}, nil
}

type apiPortStateParams struct {
	Port uint16 `json:"port"`
	Up   bool   `json:"up"`
}

func (h ApiAuthPortStateHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	if params == nil {
		return nil, jsonrpc.ErrInvalidParams()
	}
	var p apiPortStateParams
	if err := jsonrpc.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if p.Up {
		rpcCtx.PortUp(p.Port)
	} else {
		rpcCtx.PortDown(p.Port)
	}
	return struct{}{}, nil
}

// RegisterRpcCmds bind the handlers to ctx; call before rpc.Create
func RegisterRpcCmds(ctx *CAuthCtx) {
	rpcCtx = ctx
	core.RegisterCB("auth_session_info", ApiAuthSessionInfoHandler{})
	core.RegisterCB("auth_session_cnt", ApiAuthSessionCntHandler{})
	core.RegisterCB("auth_port_policy", ApiAuthPortPolicyHandler{})
	core.RegisterCB("auth_port_state", ApiAuthPortStateHandler{})
}
