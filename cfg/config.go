// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package cfg

import (
	"os"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v2"
)

/* YAML configuration. Every timer and bound the authenticator uses
lives here; nothing numeric is hard-coded in the auth path. */

type VethCfg struct {
	Mode   string   `yaml:"mode" json:"mode" validate:"oneof=zmq tap sim"`
	Server string   `yaml:"server" json:"server"`
	Port   uint16   `yaml:"port" json:"port"`
	Taps   []TapCfg `yaml:"taps" json:"taps" validate:"dive"`
}

// TapCfg binds a switch port number to a tap device
type TapCfg struct {
	Port uint16 `yaml:"port" json:"port"`
	Name string `yaml:"name" json:"name" validate:"required"`
}

type AuthCfg struct {
	SrcMac                string `yaml:"src_mac" json:"src_mac" validate:"omitempty,mac"`
	Workers               uint16 `yaml:"workers" json:"workers" validate:"gte=1,lte=64"`
	ResponseTimeoutSec    uint32 `yaml:"response_timeout_sec" json:"response_timeout_sec" validate:"gte=1"`
	MaxRetries            uint8  `yaml:"max_retries" json:"max_retries" validate:"gte=1"`
	HoldSec               uint32 `yaml:"hold_sec" json:"hold_sec" validate:"gte=1"`
	ReauthSec             uint32 `yaml:"reauth_sec" json:"reauth_sec"`
	PortUpWaitSec         uint32 `yaml:"port_up_wait_sec" json:"port_up_wait_sec"`
	PreemptiveIntervalSec uint32 `yaml:"preemptive_interval_sec" json:"preemptive_interval_sec"`
	MaxSessions           uint32 `yaml:"max_sessions" json:"max_sessions" validate:"gte=1"`
	MaxParked             uint16 `yaml:"max_parked" json:"max_parked" validate:"gte=4"`
	MaxTlsReassembly      uint32 `yaml:"max_tls_reassembly" json:"max_tls_reassembly" validate:"gte=1"`
	IngressQueue          uint16 `yaml:"ingress_queue" json:"ingress_queue" validate:"gte=1"`
}

type RadiusCfg struct {
	Server          string `yaml:"server" json:"server" validate:"required"`
	Secret          string `yaml:"secret" json:"secret" validate:"required"`
	TimeoutSec      uint32 `yaml:"timeout_sec" json:"timeout_sec" validate:"gte=1"`
	RetrySec        uint32 `yaml:"retry_sec" json:"retry_sec"`
	NasIdentifier   string `yaml:"nas_identifier" json:"nas_identifier"`
	CalledStationId string `yaml:"called_station_id" json:"called_station_id"`
	MaxInflight     uint16 `yaml:"max_inflight" json:"max_inflight"`
}

type OpenflowCfg struct {
	Server       string `yaml:"server" json:"server" validate:"required"`
	Table        uint8  `yaml:"table" json:"table"`
	Priority     uint16 `yaml:"priority" json:"priority"`
	RetryLimit   uint8  `yaml:"retry_limit" json:"retry_limit" validate:"gte=1"`
	RetryBaseMs  uint32 `yaml:"retry_base_ms" json:"retry_base_ms" validate:"gte=1"`
	DecisionQLen uint16 `yaml:"decision_queue" json:"decision_queue" validate:"gte=1"`
}

// PortCfg per-port admission mode
type PortCfg struct {
	Port uint16 `yaml:"port" json:"port"`
	Mode string `yaml:"mode" json:"mode" validate:"oneof=dot1x mab open"`
}

type Config struct {
	OpsPort  uint16      `yaml:"ops_port" json:"ops_port" validate:"gte=1"`
	Verbose  bool        `yaml:"verbose" json:"verbose"`
	Veth     VethCfg     `yaml:"veth" json:"veth"`
	Auth     AuthCfg     `yaml:"auth" json:"auth"`
	Radius   RadiusCfg   `yaml:"radius" json:"radius"`
	Openflow OpenflowCfg `yaml:"openflow" json:"openflow"`
	Ports    []PortCfg   `yaml:"ports" json:"ports" validate:"dive"`
}

func Default() *Config {
	return &Config{
		OpsPort: 9302,
		Veth: VethCfg{
			Mode:   "zmq",
			Server: "127.0.0.1",
			Port:   4510,
		},
		Auth: AuthCfg{
			Workers:               2,
			ResponseTimeoutSec:    5,
			MaxRetries:            3,
			HoldSec:               60,
			ReauthSec:             3600,
			PortUpWaitSec:         20,
			PreemptiveIntervalSec: 60,
			MaxSessions:           4096,
			MaxParked:             8,
			MaxTlsReassembly:      65536,
			IngressQueue:          2048,
		},
		Radius: RadiusCfg{
			Server:     "127.0.0.1:1812",
			Secret:     "SECRET",
			TimeoutSec: 5,
		},
		Openflow: OpenflowCfg{
			Server:       "127.0.0.1:6653",
			Priority:     100,
			RetryLimit:   4,
			RetryBaseMs:  500,
			DecisionQLen: 1024,
		},
	}
}

var validate = validator.New()

// Parse overlays b on the defaults and validates the result
func Parse(b []byte) (*Config, error) {
	o := Default()
	if err := yaml.UnmarshalStrict(b, o); err != nil {
		return nil, err
	}
	if err := validate.Struct(o); err != nil {
		return nil, err
	}
	return o, nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
