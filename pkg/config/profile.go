package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a deployment-specific configuration file (one per network or
// environment), layered under environment variables.
type Profile struct {
	Name          string `yaml:"name"`
	Network       string `yaml:"network"`
	SorobanRPCURL string `yaml:"soroban_rpc_url"`

	RateLimit struct {
		RPS   int `yaml:"rps"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`

	WasmStore struct {
		Backend  string `yaml:"backend"`
		S3Bucket string `yaml:"s3_bucket"`
	} `yaml:"wasm_store"`
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parsing profile %s: %w", path, err)
	}

	switch p.Network {
	case "", "testnet", "mainnet":
	default:
		return nil, fmt.Errorf("config: profile %s: unknown network %q", path, p.Network)
	}
	return &p, nil
}
