package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const loanTupleComponents = `[
	{"name":"id","type":"uint256"},
	{"name":"account","type":"address"},
	{"name":"collateral","type":"uint256"},
	{"name":"currency","type":"bytes32"},
	{"name":"amount","type":"uint256"},
	{"name":"short","type":"bool"},
	{"name":"accruedInterest","type":"uint256"},
	{"name":"interestIndex","type":"uint256"},
	{"name":"lastInteraction","type":"uint256"}
]`

const loanCommonFragments = `
{"type":"function","name":"minCratio","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"minCollateral","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"collateralRatio","stateMutability":"view",
 "inputs":[{"name":"loan","type":"tuple","components":` + loanTupleComponents + `}],
 "outputs":[{"name":"cratio","type":"uint256"}]},
{"type":"function","name":"close","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],
 "outputs":[{"name":"amount","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable",
 "inputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"amount","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"function","name":"repay","stateMutability":"nonpayable",
 "inputs":[{"name":"borrower","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"principal","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"function","name":"draw","stateMutability":"nonpayable",
 "inputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"principal","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"event","name":"LoanCreated","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false},
	{"name":"amount","type":"uint256","indexed":false},
	{"name":"collateral","type":"uint256","indexed":false},
	{"name":"currency","type":"bytes32","indexed":false},
	{"name":"issuanceFee","type":"uint256","indexed":false}]},
{"type":"event","name":"LoanClosed","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false}]},
{"type":"event","name":"CollateralDeposited","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false},
	{"name":"amountDeposited","type":"uint256","indexed":false},
	{"name":"collateralAfter","type":"uint256","indexed":false}]},
{"type":"event","name":"CollateralWithdrawn","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false},
	{"name":"amountWithdrawn","type":"uint256","indexed":false},
	{"name":"collateralAfter","type":"uint256","indexed":false}]},
{"type":"event","name":"LoanRepaymentMade","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"repayer","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false},
	{"name":"amountRepaid","type":"uint256","indexed":false},
	{"name":"amountAfter","type":"uint256","indexed":false}]},
{"type":"event","name":"LoanDrawnDown","anonymous":false,"inputs":[
	{"name":"account","type":"address","indexed":true},
	{"name":"id","type":"uint256","indexed":false},
	{"name":"amount","type":"uint256","indexed":false}]}`

// ERC20-collateral loans: collateral is pulled with transferFrom.
const erc20LoanABI = `[` + loanCommonFragments + `,
{"type":"function","name":"open","stateMutability":"nonpayable",
 "inputs":[{"name":"collateral","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"currency","type":"bytes32"}],
 "outputs":[{"name":"id","type":"uint256"}]},
{"type":"function","name":"deposit","stateMutability":"nonpayable",
 "inputs":[{"name":"borrower","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"principal","type":"uint256"},{"name":"collateral","type":"uint256"}]}
]`

// ETH-collateral loans: collateral travels as msg.value; withdrawals are
// parked until claimed.
const ethLoanABI = `[` + loanCommonFragments + `,
{"type":"function","name":"open","stateMutability":"payable",
 "inputs":[{"name":"amount","type":"uint256"},{"name":"currency","type":"bytes32"}],
 "outputs":[{"name":"id","type":"uint256"}]},
{"type":"function","name":"deposit","stateMutability":"payable",
 "inputs":[{"name":"borrower","type":"address"},{"name":"id","type":"uint256"}],
 "outputs":[{"name":"principal","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"function","name":"pendingWithdrawals","stateMutability":"view",
 "inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"claim","stateMutability":"nonpayable",
 "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const shortLoanABI = `[` + loanCommonFragments + `,
{"type":"function","name":"open","stateMutability":"nonpayable",
 "inputs":[{"name":"collateral","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"currency","type":"bytes32"}],
 "outputs":[{"name":"id","type":"uint256"}]},
{"type":"function","name":"deposit","stateMutability":"nonpayable",
 "inputs":[{"name":"borrower","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"principal","type":"uint256"},{"name":"collateral","type":"uint256"}]},
{"type":"function","name":"shortingRewards","stateMutability":"view",
 "inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getReward","stateMutability":"nonpayable",
 "inputs":[{"name":"currency","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[]}
]`

const collateralStateABI = `[
{"type":"function","name":"getNumLoans","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"numLoans","type":"uint256"}]},
{"type":"function","name":"loans","stateMutability":"view",
 "inputs":[{"name":"","type":"address"},{"name":"","type":"uint256"}],
 "outputs":` + loanTupleComponents + `},
{"type":"function","name":"getLoan","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"},{"name":"loanID","type":"uint256"}],
 "outputs":[{"name":"","type":"tuple","components":` + loanTupleComponents + `}]}
]`

const collateralManagerABI = `[
{"type":"function","name":"long","stateMutability":"view",
 "inputs":[{"name":"synth","type":"bytes32"}],"outputs":[{"name":"amount","type":"uint256"}]},
{"type":"function","name":"short","stateMutability":"view",
 "inputs":[{"name":"synth","type":"bytes32"}],"outputs":[{"name":"amount","type":"uint256"}]}
]`

const exchangeRatesABI = `[
{"type":"function","name":"rateAndInvalid","stateMutability":"view",
 "inputs":[{"name":"currencyKey","type":"bytes32"}],
 "outputs":[{"name":"rate","type":"uint256"},{"name":"isInvalid","type":"bool"}]},
{"type":"function","name":"rateForCurrency","stateMutability":"view",
 "inputs":[{"name":"currencyKey","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const exchangerABI = `[
{"type":"function","name":"settlementOwing","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"},{"name":"currencyKey","type":"bytes32"}],
 "outputs":[{"name":"reclaimAmount","type":"uint256"},{"name":"rebateAmount","type":"uint256"},{"name":"numEntries","type":"uint256"}]},
{"type":"function","name":"settle","stateMutability":"nonpayable",
 "inputs":[{"name":"from","type":"address"},{"name":"currencyKey","type":"bytes32"}],
 "outputs":[{"name":"reclaimed","type":"uint256"},{"name":"refunded","type":"uint256"},{"name":"numEntriesSettled","type":"uint256"}]}
]`

const shortingRewardsABI = `[
{"type":"function","name":"earned","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"rewardRate","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"RewardPaid","anonymous":false,"inputs":[
	{"name":"user","type":"address","indexed":true},
	{"name":"reward","type":"uint256","indexed":false}]}
]`

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view",
 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable",
 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"event","name":"Transfer","anonymous":false,"inputs":[
	{"name":"from","type":"address","indexed":true},
	{"name":"to","type":"address","indexed":true},
	{"name":"value","type":"uint256","indexed":false}]}
]`

var (
	ERC20LoanABI         = mustParse("erc20 loan", erc20LoanABI)
	ETHLoanABI           = mustParse("eth loan", ethLoanABI)
	ShortLoanABI         = mustParse("short loan", shortLoanABI)
	CollateralStateABI   = mustParse("collateral state", collateralStateABI)
	CollateralManagerABI = mustParse("collateral manager", collateralManagerABI)
	ExchangeRatesABI     = mustParse("exchange rates", exchangeRatesABI)
	ExchangerABI         = mustParse("exchanger", exchangerABI)
	ShortingRewardsABI   = mustParse("shorting rewards", shortingRewardsABI)
	ERC20ABI             = mustParse("erc20", erc20ABI)
)

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse %s abi: %v", name, err))
	}
	return parsed
}
