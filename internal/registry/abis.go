package registry

// ABI fragments used across settlement planning, reads and receipt decoding.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	ArrakisVaultABI = `[
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	ArrakisResolverABI = `[
		{"name":"getRebalanceParams","type":"function","stateMutability":"view","inputs":[{"name":"vault","type":"address"},{"name":"amount0In","type":"uint256"},{"name":"amount1In","type":"uint256"},{"name":"price18Decimals","type":"uint256"}],"outputs":[{"name":"zeroForOne","type":"bool"},{"name":"swapAmount","type":"uint256"}]},
		{"name":"getMintAmounts","type":"function","stateMutability":"view","inputs":[{"name":"vault","type":"address"},{"name":"amount0Max","type":"uint256"},{"name":"amount1Max","type":"uint256"}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"},{"name":"mintAmount","type":"uint256"}]}
	]`

	// ArrakisFrontendABI covers the liquidity entrypoints shared by the
	// generic router and the staking wrapper, plus their wiring setters.
	ArrakisFrontendABI = `[
		{"name":"addLiquidity","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"amount0Max","type":"uint256"},{"name":"amount1Max","type":"uint256"},{"name":"amount0Min","type":"uint256"},{"name":"amount1Min","type":"uint256"},{"name":"amountSharesMin","type":"uint256"},{"name":"vault","type":"address"},{"name":"receiver","type":"address"},{"name":"gauge","type":"address"},{"name":"useETH","type":"bool"}]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"},{"name":"sharesReceived","type":"uint256"}]},
		{"name":"swapAndAddLiquidity","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"swapData","type":"tuple","components":[{"name":"swapPayload","type":"bytes"},{"name":"amountInSwap","type":"uint256"},{"name":"amountOutSwap","type":"uint256"},{"name":"swapRouter","type":"address"},{"name":"zeroForOne","type":"bool"},{"name":"userToRefund","type":"address"}]},{"name":"addData","type":"tuple","components":[{"name":"amount0Max","type":"uint256"},{"name":"amount1Max","type":"uint256"},{"name":"amount0Min","type":"uint256"},{"name":"amount1Min","type":"uint256"},{"name":"amountSharesMin","type":"uint256"},{"name":"vault","type":"address"},{"name":"receiver","type":"address"},{"name":"gauge","type":"address"},{"name":"useETH","type":"bool"}]}]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"},{"name":"sharesReceived","type":"uint256"},{"name":"amount0Diff","type":"uint256"},{"name":"amount1Diff","type":"uint256"}]},
		{"name":"removeLiquidity","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"burnAmount","type":"uint256"},{"name":"amount0Min","type":"uint256"},{"name":"amount1Min","type":"uint256"},{"name":"vault","type":"address"},{"name":"receiver","type":"address"},{"name":"gauge","type":"address"},{"name":"receiveETH","type":"bool"}]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"},{"name":"liquidityBurned","type":"uint128"}]},
		{"name":"updateSwapExecutor","type":"function","stateMutability":"nonpayable","inputs":[{"name":"swapper","type":"address"}],"outputs":[]},
		{"name":"updateRouter","type":"function","stateMutability":"nonpayable","inputs":[{"name":"router","type":"address"}],"outputs":[]},
		{"name":"swapper","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"router","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	GaugeABI = `[
		{"name":"staking_token","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	// SettlementEventsABI lists the logs emitted by a swap-and-add settlement.
	SettlementEventsABI = `[
		{"name":"Swapped","type":"event","anonymous":false,"inputs":[{"name":"zeroForOne","type":"bool","indexed":false},{"name":"amount0Diff","type":"uint256","indexed":false},{"name":"amount1Diff","type":"uint256","indexed":false}]},
		{"name":"Minted","type":"event","anonymous":false,"inputs":[{"name":"receiver","type":"address","indexed":true},{"name":"mintAmount","type":"uint256","indexed":false},{"name":"amount0In","type":"uint256","indexed":false},{"name":"amount1In","type":"uint256","indexed":false}]}
	]`
)
