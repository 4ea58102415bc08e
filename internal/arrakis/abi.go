package arrakis

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
	vaultABI     abi.ABI
	vaultABIOnce sync.Once
	vaultABIErr  error
	resolverABI  abi.ABI
	resolverOnce sync.Once
	resolverErr  error
	frontendABI  abi.ABI
	frontendOnce sync.Once
	frontendErr  error
	gaugeABI     abi.ABI
	gaugeABIOnce sync.Once
	gaugeABIErr  error
	eventsABI    abi.ABI
	eventsOnce   sync.Once
	eventsErr    error
)

func ERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	})
	return erc20ABI, erc20ABIErr
}

func VaultABI() (abi.ABI, error) {
	vaultABIOnce.Do(func() {
		vaultABI, vaultABIErr = abi.JSON(strings.NewReader(registry.ArrakisVaultABI))
	})
	return vaultABI, vaultABIErr
}

func ResolverABI() (abi.ABI, error) {
	resolverOnce.Do(func() {
		resolverABI, resolverErr = abi.JSON(strings.NewReader(registry.ArrakisResolverABI))
	})
	return resolverABI, resolverErr
}

// FrontendABI covers the router and wrapper entrypoints.
func FrontendABI() (abi.ABI, error) {
	frontendOnce.Do(func() {
		frontendABI, frontendErr = abi.JSON(strings.NewReader(registry.ArrakisFrontendABI))
	})
	return frontendABI, frontendErr
}

func GaugeABI() (abi.ABI, error) {
	gaugeABIOnce.Do(func() {
		gaugeABI, gaugeABIErr = abi.JSON(strings.NewReader(registry.GaugeABI))
	})
	return gaugeABI, gaugeABIErr
}

// EventsABI holds the Swapped and Minted settlement events.
func EventsABI() (abi.ABI, error) {
	eventsOnce.Do(func() {
		eventsABI, eventsErr = abi.JSON(strings.NewReader(registry.SettlementEventsABI))
	})
	return eventsABI, eventsErr
}
