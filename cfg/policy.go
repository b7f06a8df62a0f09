// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package cfg

import (
	"fmt"

	"github.com/intel-go/fastjson"
	"github.com/xeipuuv/gojsonschema"
)

/* Port policy updates arrive as JSON over the ops RPC; the document is
schema-checked before anything is unmarshalled. */

const portPolicySchema = `
{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["ports"],
	"additionalProperties": false,
	"properties": {
		"ports": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["port", "mode"],
				"additionalProperties": false,
				"properties": {
					"port": {
						"type": "integer",
						"minimum": 0,
						"maximum": 65535
					},
					"mode": {
						"type": "string",
						"enum": ["dot1x", "mab", "open"]
					}
				}
			}
		}
	}
}`

var policySchemaLoader gojsonschema.JSONLoader = nil

type portPolicyDoc struct {
	Ports []PortCfg `json:"ports"`
}

// ParsePortPolicy validate raw against the schema and return the port list
func ParsePortPolicy(raw *fastjson.RawMessage) ([]PortCfg, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing params")
	}
	if policySchemaLoader == nil {
		policySchemaLoader = gojsonschema.NewStringLoader(portPolicySchema)
	}
	documentLoader := gojsonschema.NewStringLoader(string(*raw))
	result, err := gojsonschema.Validate(policySchemaLoader, documentLoader)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		s := ""
		for _, desc := range result.Errors() {
			s += fmt.Sprintf("- %s\n", desc)
		}
		return nil, fmt.Errorf("%s", s)
	}

	var doc portPolicyDoc
	if err := fastjson.Unmarshal(*raw, &doc); err != nil {
		return nil, err
	}
	return doc.Ports, nil
}
