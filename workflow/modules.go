package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/utils"
)

// WithdrawToChain 取出到本链或其他链（路由器的 withdrawToChain 操作）
//
// From 为空时视为调用者；非空时必须等于调用者。
func (s *Service) WithdrawToChain(ctx context.Context, cc *types.CallContext, req *bridge.WithdrawRequest) (*bridge.Result, error) {
	if req == nil {
		return nil, types.Validationf("withdraw request is nil")
	}
	if zeroAddress(req.From) {
		req.From = cc.Caller
	}
	if req.From != cc.Caller {
		return nil, types.ErrSenderMismatch.WithDetail("withdraw from %s, batch caller is %s", req.From.Hex(), cc.Caller.Hex())
	}

	var out *bridge.Result
	err := s.atomic(ctx, "withdraw-to-chain", func(ctx context.Context) error {
		res, err := s.dispatcher.Dispatch(ctx, cc, req)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Modules 以路由器模块的形式暴露全部工作流
func (s *Service) Modules() []router.Module {
	return []router.Module{
		newModule(router.ModuleWithdrawToChain, s.WithdrawToChain),
		newModule(router.ModuleMintAndLend, s.MintAndLend),
		newModule(router.ModuleDepositCollateralizeBorrow, s.DepositCollateralizeBorrow),
		newModule(router.ModuleDepositCollateralizeBorrowV2, s.DepositCollateralizeBorrowV2),
		newModule(router.ModuleRepayAndRelease, s.RepayAndRelease),
		newModule(router.ModuleExitAndUnwind, s.ExitAndUnwind),
	}
}

// newModule 严格解码参数、执行、编码结果
func newModule[P, R any](name string, fn func(context.Context, *types.CallContext, *P) (R, error)) router.Module {
	return router.ModuleFunc{
		ModuleName: name,
		Fn: func(ctx context.Context, cc *types.CallContext, payload []byte) ([]byte, error) {
			var params P
			if err := utils.DecodeStrict(payload, &params); err != nil {
				return nil, types.ErrValidation.Wrap(fmt.Errorf("%s: %w", name, err))
			}
			res, err := fn(ctx, cc, &params)
			if err != nil {
				return nil, err
			}
			return utils.EncodeResult(res)
		},
	}
}

func newCall(kind router.ActionKind, params interface{}, value *big.Int) (router.Call, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return router.Call{}, fmt.Errorf("marshal %s params failed: %w", kind, err)
	}
	return router.Call{Kind: kind, Value: value, Payload: payload}, nil
}

// WithdrawToChainCall 构造 withdrawToChain 子调用（value 用于支付跨链手续费）
func WithdrawToChainCall(req *bridge.WithdrawRequest, value *big.Int) (router.Call, error) {
	return newCall(router.KindWithdraw, req, value)
}

// MintAndLendCall 构造 mintAndLend 子调用
func MintAndLendCall(p *MintAndLendParams, value *big.Int) (router.Call, error) {
	return newCall(router.KindMintAndLend, p, value)
}

// DepositCollateralizeBorrowCall 构造 v1 子调用
func DepositCollateralizeBorrowCall(p *DepositCollateralizeBorrowParams, value *big.Int) (router.Call, error) {
	return newCall(router.KindDepositCollateralizeBorrow, p, value)
}

// DepositCollateralizeBorrowV2Call 构造 v2 子调用
func DepositCollateralizeBorrowV2Call(p *DepositCollateralizeBorrowV2Params, value *big.Int) (router.Call, error) {
	return newCall(router.KindDepositCollateralizeBorrowV2, p, value)
}

// RepayAndReleaseCall 构造 repayAndRelease 子调用
func RepayAndReleaseCall(p *RepayAndReleaseParams, value *big.Int) (router.Call, error) {
	return newCall(router.KindRepayAndRelease, p, value)
}

// ExitAndUnwindCall 构造 exitAndUnwind 子调用
func ExitAndUnwindCall(p *ExitAndUnwindParams, value *big.Int) (router.Call, error) {
	return newCall(router.KindExitAndUnwind, p, value)
}

// Bool 返回 b 的指针（用于 v2 的 ExtractFromSender）
func Bool(b bool) *bool {
	return &b
}
