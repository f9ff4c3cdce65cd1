// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentmesh/checkpointd/pkg/log"
)

//go:embed schemas/*
var schemaFiles embed.FS

func load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = load
}

// ValidateConfig validates r against the embedded checkpointd config
// schema.
func ValidateConfig(r io.Reader) error {
	s, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		return fmt.Errorf("schema: compile: %w", err)
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		log.Errorf("schema.ValidateConfig() - failed to decode: %v", err)
		return err
	}

	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%#v", err)
	}
	return nil
}
