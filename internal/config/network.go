package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworkYAML []byte

// Contract identifiers used by the action builder. The catalogue maps each
// to an on-chain address.
const (
	ContractRegistry   = "ens.registry"
	ContractResolver   = "ens.resolver"
	ContractController = "ens.controller"
	ContractReverse    = "ens.reverse"
	ContractFactory    = "account.factory"
	ContractEntryPoint = "account.entrypoint"
	ContractAccount    = "account"
	ContractNative     = "native"
)

// Network describes the ledger the pipeline talks to.
type Network struct {
	Name         string            `yaml:"name"`
	ChainID      int64             `yaml:"chainId"`
	NativeSymbol string            `yaml:"nativeSymbol"`
	Decimals     int               `yaml:"decimals"`
	Amounts      AmountBounds      `yaml:"amounts"`
	Registration RegistrationRules `yaml:"registration"`
	AccountSalt  string            `yaml:"accountSalt"`
	Contracts    map[string]string `yaml:"contracts"`
}

// AmountBounds are decimal strings in the native unit, e.g. "0.0001".
type AmountBounds struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// RegistrationRules bound name registration periods.
type RegistrationRules struct {
	DefaultYears int `yaml:"defaultYears"`
	MaxYears     int `yaml:"maxYears"`
}

// LoadNetwork reads a network catalogue from path, or the embedded default
// when path is empty.
func LoadNetwork(path string) (*Network, error) {
	data := defaultNetworkYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read network file: %w", err)
		}
		data = b
	}
	return ParseNetwork(data)
}

// ParseNetwork decodes and validates a YAML network catalogue.
func ParseNetwork(data []byte) (*Network, error) {
	var n Network
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("parse network yaml: %w", err)
	}
	if n.Decimals == 0 {
		n.Decimals = 18
	}
	if n.NativeSymbol == "" {
		n.NativeSymbol = "ETH"
	}
	if n.Registration.DefaultYears <= 0 {
		n.Registration.DefaultYears = 1
	}
	if n.Registration.MaxYears < n.Registration.DefaultYears {
		n.Registration.MaxYears = n.Registration.DefaultYears
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Validate checks that every contract the builder targets is present.
func (n *Network) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name cannot be empty")
	}
	if n.Amounts.Min == "" || n.Amounts.Max == "" {
		return fmt.Errorf("network %s: amount bounds are required", n.Name)
	}
	for _, id := range []string{ContractRegistry, ContractResolver, ContractController, ContractReverse, ContractFactory, ContractEntryPoint} {
		if n.Contracts[id] == "" {
			return fmt.Errorf("network %s: missing contract %q", n.Name, id)
		}
	}
	return nil
}

// Address returns the catalogue address of a contract identifier.
func (n *Network) Address(id string) string {
	return n.Contracts[id]
}
