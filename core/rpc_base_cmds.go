// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/osamingo/jsonrpc/v2"
)

type (
	ApiPingHandler struct{}
	ApiPingResult  struct {
		Timestamp float64 `json:"ts"`
	}

	ApiGetVersionHandler struct{}
	ApiGetVersionResult  struct {
		Version string `json:"version"`
		Name    string `json:"name"`
	}
)

// version of the ops API, not the daemon
const apiVersion = "v0.1"

func (h ApiPingHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	return ApiPingResult{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}, nil
}

func (h ApiGetVersionHandler) ServeJSONRPC(c context.Context, params *json.RawMessage) (interface{}, *jsonrpc.Error) {
	return ApiGetVersionResult{
		Version: apiVersion,
		Name:    "authd",
	}, nil
}

func init() {
	RegisterCB("ping", ApiPingHandler{})
	RegisterCB("get_version", ApiGetVersionHandler{})
}
