// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/osamingo/jsonrpc/v2"
)

/* ops surface: JSON-RPC 2.0 over HTTP on the ops port. Handlers are
   registered by the packages that own them before Create is called.

   The command format is xxx_yy_zz:
     xxx - subsystem (auth, ctx, ...)
     yy  - object (session, port, ...)
     zz  - verb (cnt, info, set, ...)
*/

var methodRepo []cRpcMethodRec = make([]cRpcMethodRec, 0)

type cRpcMethodRec struct {
	method string
	h      jsonrpc.Handler
}

// RegisterCB add a method to the repository; effective on the next Create
func RegisterCB(method string, h jsonrpc.Handler) {
	methodRepo = append(methodRepo, cRpcMethodRec{method, h})
}

// ApiCntParams shared query shape for all counters commands
type ApiCntParams struct {
	Meta  bool     `json:"meta"`
	Zero  bool     `json:"zero"`
	Mask  []string `json:"mask"`
	Clear bool     `json:"clear"`
}

type CHttpJsonRPC struct {
	mr         *jsonrpc.MethodRepository
	srv        *http.Server
	serverPort uint16
}

// Create build the repository and the HTTP server on the ops port
func (o *CHttpJsonRPC) Create(serverPort uint16) {
	o.serverPort = serverPort
	o.mr = jsonrpc.NewMethodRepository()

	for _, rec := range methodRepo {
		if err := o.mr.RegisterMethod(rec.method, rec.h, nil, nil); err != nil {
			panic(err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/", o.mr)
	o.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", serverPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StartServerThread serve in the background
func (o *CHttpJsonRPC) StartServerThread() {
	go func() {
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("ops rpc server failed: %v", err))
		}
	}()
}

func (o *CHttpJsonRPC) Delete() {
	if o.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.srv.Shutdown(ctx)
	}
}
