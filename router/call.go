package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/weisyn/lending-router-go/types"
)

// ActionKind 子调用类型（封闭枚举）
type ActionKind uint8

const (
	KindPermit    ActionKind = 0 // 代币 / 市场 / 金库单资产授权
	KindPermitAll ActionKind = 1 // 金库操作员授权
	KindVault     ActionKind = 2 // 金库直通调用
	KindMarket    ActionKind = 3 // 市场直通调用
	KindToken     ActionKind = 4 // 代币直通调用
	KindWithdraw  ActionKind = 5 // 本链 / 跨链取出
	KindRegistry  ActionKind = 6 // 锁仓登记处直通调用

	KindMintAndLend                  ActionKind = 10
	KindDepositCollateralizeBorrow   ActionKind = 11
	KindDepositCollateralizeBorrowV2 ActionKind = 12
	KindRepayAndRelease              ActionKind = 13
	KindExitAndUnwind                ActionKind = 14
)

var kindNames = map[ActionKind]string{
	KindPermit:                       "permit",
	KindPermitAll:                    "permitAll",
	KindVault:                        "vault",
	KindMarket:                       "market",
	KindToken:                        "token",
	KindWithdraw:                     "withdrawToChain",
	KindRegistry:                     "registry",
	KindMintAndLend:                  "mintAndLend",
	KindDepositCollateralizeBorrow:   "depositCollateralizeBorrow",
	KindDepositCollateralizeBorrowV2: "depositCollateralizeBorrowV2",
	KindRepayAndRelease:              "repayAndRelease",
	KindExitAndUnwind:                "exitAndUnwind",
}

func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText 实现 encoding.TextMarshaler
func (k ActionKind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown action kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *ActionKind) UnmarshalText(text []byte) error {
	kind, err := ParseActionKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseActionKind 名称 -> ActionKind
func ParseActionKind(name string) (ActionKind, error) {
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", name)
}

// Call 批处理中的一个子调用
type Call struct {
	Kind         ActionKind     `json:"kind"`
	Target       common.Address `json:"target"`
	Value        *big.Int       `json:"value,omitempty"`
	AllowFailure bool           `json:"allowFailure"`
	Payload      hexutil.Bytes  `json:"payload"`
}

func (c Call) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

// BurstResult 子调用结果（与 Call 一一对应、顺序相同）
type BurstResult struct {
	Success    bool          `json:"success"`
	ReturnData hexutil.Bytes `json:"returnData"`
}

func encodeFailure(err error) []byte {
	data, marshalErr := json.Marshal(types.ProblemDetailsFromError(err))
	if marshalErr != nil {
		return []byte(err.Error())
	}
	return data
}

// Failure 解码失败原因（成功时返回 nil）
//
// ReturnData 不是 Problem Details 时按内部错误处理，原文放入 Detail。
func (r BurstResult) Failure() *types.ProblemDetails {
	if r.Success {
		return nil
	}
	pd, err := types.ParseProblemDetails(r.ReturnData)
	if err != nil {
		return types.ProblemDetailsFromError(errors.New(string(r.ReturnData)))
	}
	return pd
}

// Err 以 BatchItemFailure 形式返回失败原因（成功时返回 nil）
//
// 原始错误码保留在错误链中，errors.Is(err, types.ErrNonceMismatch) 等判断仍然成立。
func (r BurstResult) Err() error {
	pd := r.Failure()
	if pd == nil {
		return nil
	}
	return types.ErrBatchItemFailure.Wrap(types.NewRouterErrorFromProblemDetails(pd))
}

// sumValues 子调用原生币总额
func sumValues(calls []Call) (*big.Int, error) {
	total := new(big.Int)
	for i, c := range calls {
		v := c.value()
		if v.Sign() < 0 {
			return nil, types.Validationf("call %d has negative value", i)
		}
		total.Add(total, v)
	}
	return total, nil
}

// IsAborted 错误是否来自被中止的批处理
func IsAborted(err error) bool {
	var burstErr *types.BurstError
	return errors.As(err, &burstErr)
}
