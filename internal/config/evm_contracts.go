// Package config provides broker contract addresses for account-family
// chains.
//
// ALL broker contract addresses MUST be defined here. Do not scatter
// contract addresses throughout the codebase.
package config

import "github.com/ethereum/go-ethereum/common"

// brokerContractRegistry maps chain symbol -> the broker contract address
// that can receive a single BROKER_SWAP item and internally route
// payout/commission/refund (planner's single-item alternative to the
// three-item phased plan, §4.3). UTXO-family chains never have an entry —
// broker mode is account-family only (Open Question 1).
var brokerContractRegistry = map[string]common.Address{
	"ETH":     {}, // TODO: deploy broker contract
	"BSC":     {}, // TODO: deploy broker contract
	"POLYGON": {}, // TODO: deploy broker contract
	"AVAX":    {}, // TODO: deploy broker contract
}

// GetBrokerContract returns the broker contract address for a chain
// symbol, or the zero address if none is deployed there.
func GetBrokerContract(symbol string) common.Address {
	return brokerContractRegistry[symbol]
}

// IsBrokerDeployed reports whether a non-zero broker contract is
// registered for the chain.
func IsBrokerDeployed(symbol string) bool {
	return GetBrokerContract(symbol) != (common.Address{})
}

// RegisterBrokerContract registers or updates the broker contract address
// for a chain symbol at runtime. The YAML overlay does not set broker
// addresses, and cmd/escrowd does not call this.
func RegisterBrokerContract(symbol string, address common.Address) {
	brokerContractRegistry[symbol] = address
}

// BrokerContractLookup adapts the registry to the
// engine.BrokerContractLookup shape: a chain symbol to its broker
// contract address as a string, or "" if none is deployed.
func BrokerContractLookup(symbol string) string {
	addr := GetBrokerContract(symbol)
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}
