package configs

import _ "embed"

// Defaults is the shipped default configuration in YAML.
//
//go:embed harness.yaml
var Defaults []byte
