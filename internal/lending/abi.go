package lending

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const poolABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "bTokens", "type": "uint256"}
    ],
    "name": "Supply",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "bTokens", "type": "uint256"}
    ],
    "name": "Withdraw",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "bTokens", "type": "uint256"}
    ],
    "name": "SupplyCollateral",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "bTokens", "type": "uint256"}
    ],
    "name": "WithdrawCollateral",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "dTokens", "type": "uint256"}
    ],
    "name": "Borrow",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "dTokens", "type": "uint256"}
    ],
    "name": "Repay",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "bidAssets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "bidAmounts", "type": "uint256[]"},
      {"indexed": false, "internalType": "address[]", "name": "lotAssets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "lotAmounts", "type": "uint256[]"},
      {"indexed": false, "internalType": "uint256", "name": "block", "type": "uint256"}
    ],
    "name": "NewLiquidationAuction",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint8", "name": "auctionType", "type": "uint8"},
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "bidAssets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "bidAmounts", "type": "uint256[]"},
      {"indexed": false, "internalType": "address[]", "name": "lotAssets", "type": "address[]"},
      {"indexed": false, "internalType": "uint256[]", "name": "lotAmounts", "type": "uint256[]"},
      {"indexed": false, "internalType": "uint256", "name": "block", "type": "uint256"}
    ],
    "name": "NewAuction",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "DeleteLiquidationAuction",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "uint8", "name": "auctionType", "type": "uint8"},
      {"indexed": false, "internalType": "address", "name": "filler", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "fillPercent", "type": "uint256"}
    ],
    "name": "FillAuction",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "dTokens", "type": "uint256"}
    ],
    "name": "BadDebt",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": false, "internalType": "uint32", "name": "index", "type": "uint32"}
    ],
    "name": "SetReserve",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "getReserveList",
    "outputs": [{"internalType": "address[]", "name": "", "type": "address[]"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
    "name": "getReserve",
    "outputs": [
      {"internalType": "uint32", "name": "index", "type": "uint32"},
      {"internalType": "uint8", "name": "decimals", "type": "uint8"},
      {"internalType": "uint256", "name": "cFactor", "type": "uint256"},
      {"internalType": "uint256", "name": "lFactor", "type": "uint256"},
      {"internalType": "uint256", "name": "bRate", "type": "uint256"},
      {"internalType": "uint256", "name": "dRate", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "user", "type": "address"}],
    "name": "getPositions",
    "outputs": [
      {"internalType": "address[]", "name": "collateralAssets", "type": "address[]"},
      {"internalType": "uint256[]", "name": "collateral", "type": "uint256[]"},
      {"internalType": "address[]", "name": "liabilityAssets", "type": "address[]"},
      {"internalType": "uint256[]", "name": "liabilities", "type": "uint256[]"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint8", "name": "auctionType", "type": "uint8"},
      {"internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "getAuction",
    "outputs": [
      {"internalType": "address[]", "name": "bidAssets", "type": "address[]"},
      {"internalType": "uint256[]", "name": "bidAmounts", "type": "uint256[]"},
      {"internalType": "address[]", "name": "lotAssets", "type": "address[]"},
      {"internalType": "uint256[]", "name": "lotAmounts", "type": "uint256[]"},
      {"internalType": "uint256", "name": "block", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "user", "type": "address"},
      {"internalType": "uint256", "name": "percent", "type": "uint256"}
    ],
    "name": "newLiquidationAuction",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "user", "type": "address"}],
    "name": "badDebt",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "user", "type": "address"},
      {"internalType": "uint8", "name": "auctionType", "type": "uint8"},
      {"internalType": "uint256", "name": "percent", "type": "uint256"}
    ],
    "name": "fillAuction",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "asset", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "repay",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

const oracleABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "asset", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "price", "type": "uint256"}
    ],
    "name": "PriceUpdate",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
    "name": "lastPrice",
    "outputs": [
      {"internalType": "uint256", "name": "price", "type": "uint256"},
      {"internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "decimals",
    "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

const routerABIJSON = `[
  {
    "inputs": [
      {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"internalType": "address[]", "name": "path", "type": "address[]"}
    ],
    "name": "getAmountsOut",
    "outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const executorABIJSON = `[
  {
    "inputs": [
      {"internalType": "address", "name": "pool", "type": "address"},
      {"internalType": "address", "name": "assetIn", "type": "address"},
      {"internalType": "address", "name": "assetOut", "type": "address"},
      {"internalType": "uint256", "name": "amountIn", "type": "uint256"},
      {"internalType": "uint256", "name": "minOut", "type": "uint256"}
    ],
    "name": "swap",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "bytes32", "name": "orderId", "type": "bytes32"},
      {"internalType": "address", "name": "asset", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "uint256", "name": "maxCost", "type": "uint256"},
      {"internalType": "uint256", "name": "minProceeds", "type": "uint256"}
    ],
    "name": "execute",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

type lazyABI struct {
	raw    string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.raw))
	})
	return l.parsed, l.err
}

var (
	poolABI     = &lazyABI{raw: poolABIJSON}
	oracleABI   = &lazyABI{raw: oracleABIJSON}
	erc20ABI    = &lazyABI{raw: erc20ABIJSON}
	routerABI   = &lazyABI{raw: routerABIJSON}
	executorABI = &lazyABI{raw: executorABIJSON}
)

// PoolABI returns the parsed lending pool ABI.
func PoolABI() (abi.ABI, error) { return poolABI.get() }

// OracleABI returns the parsed price oracle ABI.
func OracleABI() (abi.ABI, error) { return oracleABI.get() }

// ERC20ABI returns the parsed token ABI subset.
func ERC20ABI() (abi.ABI, error) { return erc20ABI.get() }

// RouterABI returns the parsed quote router ABI.
func RouterABI() (abi.ABI, error) { return routerABI.get() }

// ExecutorABI returns the parsed swap and arbitrage executor ABI.
func ExecutorABI() (abi.ABI, error) { return executorABI.get() }
