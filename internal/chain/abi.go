package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const partyComponents = `[
	{"name":"wallet","type":"address"},
	{"name":"token","type":"address"},
	{"name":"kind","type":"bytes4"},
	{"name":"id","type":"uint256"},
	{"name":"amount","type":"uint256"}
]`

const orderComponents = `[
	{"name":"nonce","type":"uint256"},
	{"name":"expiry","type":"uint256"},
	{"name":"signer","type":"tuple","components":` + partyComponents + `},
	{"name":"sender","type":"tuple","components":` + partyComponents + `},
	{"name":"affiliateWallet","type":"address"},
	{"name":"affiliateAmount","type":"uint256"},
	{"name":"v","type":"uint8"},
	{"name":"r","type":"bytes32"},
	{"name":"s","type":"bytes32"}
]`

// swapABI covers the subset of the swap contract used for taking orders.
const swapABI = `[
	{"type":"function","name":"nonceUsed","stateMutability":"view",
	 "inputs":[{"name":"signer","type":"address"},{"name":"nonce","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"check","stateMutability":"view",
	 "inputs":[{"name":"senderWallet","type":"address"},{"name":"order","type":"tuple","components":` + orderComponents + `}],
	 "outputs":[{"name":"","type":"uint256"},{"name":"","type":"bytes32[]"}]},
	{"type":"function","name":"swap","stateMutability":"nonpayable",
	 "inputs":[{"name":"recipient","type":"address"},{"name":"maxRoyalty","type":"uint256"},{"name":"order","type":"tuple","components":` + orderComponents + `}],
	 "outputs":[]}
]`

// batchCallABI covers the batch helper used to validate many orders at once.
const batchCallABI = `[
	{"type":"function","name":"checkOrders","stateMutability":"view",
	 "inputs":[{"name":"senderWallet","type":"address"},{"name":"orders","type":"tuple[]","components":` + orderComponents + `},{"name":"swapContract","type":"address"}],
	 "outputs":[{"name":"","type":"bool[]"}]}
]`

const erc20ABI = `[
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	parsedSwapABI      = mustParseABI(swapABI)
	parsedBatchCallABI = mustParseABI(batchCallABI)
	parsedERC20ABI     = mustParseABI(erc20ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
