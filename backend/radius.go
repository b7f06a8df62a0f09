// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package backend

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"fmt"
	"sync/atomic"
	"time"

	"authd/core"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
)

/* RADIUS implementation of the Adapter.

Each Validate runs one Access-Request exchange in its own goroutine,
bounded by an inflight semaphore. EAP rounds carry the supplicant
message as EAP-Message attributes plus a Message-Authenticator; a
MAC-bypass round (req.Eap == nil) authenticates with User-Name and
User-Password both set to the MAC. The State attribute from an
Access-Challenge is stored on the session and echoed on the next
round; packet-id correlation inside the exchange is the client's. */

const (
	eapMessageChunk = 253

	defaultRadiusTimeout  = 5 * time.Second
	defaultRadiusRetry    = time.Second
	defaultRadiusInflight = 128
)

type RadiusCfg struct {
	Server          string
	Secret          string
	Timeout         time.Duration
	Retry           time.Duration
	NasIdentifier   string
	CalledStationId string
	MaxInflight     int
}

type RadiusStats struct {
	txAccessReq   uint64
	txMabReq      uint64
	rxAccept      uint64
	rxReject      uint64
	rxChallenge   uint64
	rxUnknownCode uint64
	rxNoEap       uint64
	exchangeErr   uint64
	encodeErr     uint64
	saturated     uint64
	rttSumUsec    uint64
	rttMaxUsec    uint64
}

func NewRadiusStatsDb(o *RadiusStats) *core.CCounterDb {
	db := core.NewCCounterDb("radius")

	db.Add(&core.CCounterRec{
		Counter:  &o.txAccessReq,
		Name:     "txAccessReq",
		Help:     "tx access-request with eap",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.txMabReq,
		Name:     "txMabReq",
		Help:     "tx access-request mac bypass",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxAccept,
		Name:     "rxAccept",
		Help:     "rx access-accept",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxReject,
		Name:     "rxReject",
		Help:     "rx access-reject",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxChallenge,
		Name:     "rxChallenge",
		Help:     "rx access-challenge",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxUnknownCode,
		Name:     "rxUnknownCode",
		Help:     "rx unexpected radius code",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxNoEap,
		Name:     "rxNoEap",
		Help:     "rx challenge without eap-message",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.exchangeErr,
		Name:     "exchangeErr",
		Help:     "exchange timeout or transport error",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.encodeErr,
		Name:     "encodeErr",
		Help:     "request encode error",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.saturated,
		Name:     "saturated",
		Help:     "validate rejected, inflight bound reached",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.rttSumUsec,
		Name:     "rttSumUsec",
		Help:     "cumulative exchange round-trip time",
		Unit:     "usec",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rttMaxUsec,
		Name:     "rttMaxUsec",
		Help:     "worst exchange round-trip time",
		Unit:     "usec",
		DumpZero: false,
		Info:     core.ScINFO})

	return db
}

type RadiusClient struct {
	cfg      RadiusCfg
	client   *radius.Client
	inflight chan struct{}
	stats    RadiusStats
	cdb      *core.CCounterDb
}

func NewRadiusClient(cfg RadiusCfg) *RadiusClient {
	o := new(RadiusClient)
	o.cfg = cfg
	if o.cfg.Timeout == 0 {
		o.cfg.Timeout = defaultRadiusTimeout
	}
	if o.cfg.Retry == 0 {
		o.cfg.Retry = defaultRadiusRetry
	}
	if o.cfg.MaxInflight == 0 {
		o.cfg.MaxInflight = defaultRadiusInflight
	}
	o.client = &radius.Client{Retry: o.cfg.Retry}
	o.inflight = make(chan struct{}, o.cfg.MaxInflight)
	o.cdb = NewRadiusStatsDb(&o.stats)
	return o
}

func (o *RadiusClient) Cdb() *core.CCounterDb {
	return o.cdb
}

func (o *RadiusClient) Validate(req *Request) error {
	select {
	case o.inflight <- struct{}{}:
	default:
		atomic.AddUint64(&o.stats.saturated, 1)
		return ErrBackendUnavailable
	}
	go o.exchange(req)
	return nil
}

func (o *RadiusClient) Delete() {
}

func macStationId(mac [6]byte) string {
	return fmt.Sprintf("%02X-%02X-%02X-%02X-%02X-%02X",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// MabIdentity the user name a MAC-bypass session authenticates with
func MabIdentity(mac [6]byte) string {
	return macStationId(mac)
}

// setMessageAuthenticator hmac-md5 over the encoded request with the
// attribute zeroed, then rewritten in place
func setMessageAuthenticator(p *radius.Packet, secret []byte) error {
	if err := rfc2869.MessageAuthenticator_Set(p, make([]byte, md5.Size)); err != nil {
		return err
	}
	wire, err := p.Encode()
	if err != nil {
		return err
	}
	mac := hmac.New(md5.New, secret)
	mac.Write(wire)
	return rfc2869.MessageAuthenticator_Set(p, mac.Sum(nil))
}

func eapMessageAttrs(p *radius.Packet) []byte {
	var b []byte
	for _, avp := range p.Attributes {
		if avp.Type == rfc2869.EAPMessage_Type {
			b = append(b, avp.Attribute...)
		}
	}
	return b
}

func (o *RadiusClient) buildRequest(req *Request) (*radius.Packet, error) {
	p := radius.New(radius.CodeAccessRequest, []byte(o.cfg.Secret))
	station := macStationId(req.Mac)

	rfc2865.UserName_SetString(p, req.Identity)
	rfc2865.CallingStationID_SetString(p, station)
	if o.cfg.CalledStationId != "" {
		rfc2865.CalledStationID_SetString(p, o.cfg.CalledStationId)
	}
	if o.cfg.NasIdentifier != "" {
		rfc2865.NASIdentifier_SetString(p, o.cfg.NasIdentifier)
	}
	rfc2865.NASPort_Set(p, rfc2865.NASPort(req.Port))
	rfc2865.NASPortType_Set(p, rfc2865.NASPortType_Value_Ethernet)
	if len(req.State) > 0 {
		rfc2865.State_Set(p, radius.Attribute(req.State))
	}

	if req.Eap == nil {
		// MAC bypass round, password is the station id
		if err := rfc2865.UserPassword_SetString(p, station); err != nil {
			return nil, err
		}
		return p, nil
	}

	for off := 0; off < len(req.Eap); off += eapMessageChunk {
		end := off + eapMessageChunk
		if end > len(req.Eap) {
			end = len(req.Eap)
		}
		p.Add(rfc2869.EAPMessage_Type, radius.Attribute(req.Eap[off:end]))
	}
	if err := setMessageAuthenticator(p, []byte(o.cfg.Secret)); err != nil {
		return nil, err
	}
	return p, nil
}

// observeRtt racy max update; a lost worse sample is acceptable for an
// observability gauge
func (o *RadiusClient) observeRtt(d time.Duration) {
	usec := uint64(d.Microseconds())
	atomic.AddUint64(&o.stats.rttSumUsec, usec)
	if usec > atomic.LoadUint64(&o.stats.rttMaxUsec) {
		atomic.StoreUint64(&o.stats.rttMaxUsec, usec)
	}
}

func (o *RadiusClient) exchange(req *Request) {
	defer func() { <-o.inflight }()

	res := Result{Port: req.Port, Mac: req.Mac, Gen: req.Gen}

	p, err := o.buildRequest(req)
	if err != nil {
		atomic.AddUint64(&o.stats.encodeErr, 1)
		res.Verdict = VerdictReject
		res.Reason = ReasonUnavailable
		req.Done <- res
		return
	}
	if req.Eap == nil {
		atomic.AddUint64(&o.stats.txMabReq, 1)
	} else {
		atomic.AddUint64(&o.stats.txAccessReq, 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := o.client.Exchange(ctx, p, o.cfg.Server)
	o.observeRtt(time.Since(start))
	if err != nil {
		atomic.AddUint64(&o.stats.exchangeErr, 1)
		res.Verdict = VerdictReject
		res.Reason = ReasonUnavailable
		req.Done <- res
		return
	}

	switch resp.Code {
	case radius.CodeAccessAccept:
		atomic.AddUint64(&o.stats.rxAccept, 1)
		res.Verdict = VerdictAccept
		res.SessionTimeoutSec = uint32(rfc2865.SessionTimeout_Get(resp))
	case radius.CodeAccessReject:
		atomic.AddUint64(&o.stats.rxReject, 1)
		res.Verdict = VerdictReject
		res.Reason = ReasonCredentials
	case radius.CodeAccessChallenge:
		challenge := eapMessageAttrs(resp)
		if challenge == nil {
			atomic.AddUint64(&o.stats.rxNoEap, 1)
			res.Verdict = VerdictReject
			res.Reason = ReasonUnavailable
			break
		}
		atomic.AddUint64(&o.stats.rxChallenge, 1)
		res.Verdict = VerdictChallenge
		res.Challenge = challenge
		res.State = rfc2865.State_Get(resp)
	default:
		atomic.AddUint64(&o.stats.rxUnknownCode, 1)
		res.Verdict = VerdictReject
		res.Reason = ReasonUnavailable
	}
	req.Done <- res
}
