package permit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Kind 授权类型
type Kind uint8

const (
	// KindPermit 额度授权（代币 / 市场），EIP-2612 形状
	KindPermit Kind = iota
	// KindPermitAsset 金库单资产授权
	KindPermitAsset
	// KindPermitAll 金库全资产操作员授权
	KindPermitAll
)

var kindNames = map[Kind]string{
	KindPermit:      "permit",
	KindPermitAsset: "permitAsset",
	KindPermitAll:   "permitAll",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown permit kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown permit kind %q", string(text))
}

// Grant 离线签名的授权
//
// 一个 Grant 最多被消费一次：消费时 owner 的 nonce 必须与存储值相等，成功后递增。
type Grant struct {
	Kind      Kind           `json:"kind"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Value     *big.Int       `json:"value,omitempty"`   // KindPermit
	AssetID   uint64         `json:"assetId,omitempty"` // KindPermitAsset
	Nonce     uint64         `json:"nonce"`
	Deadline  uint64         `json:"deadline"` // Unix 秒
	Signature hexutil.Bytes  `json:"signature"`
}

// Domain EIP-712 域
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var primaryTypes = map[Kind]struct {
	name   string
	fields []apitypes.Type
}{
	KindPermit: {
		name: "Permit",
		fields: []apitypes.Type{
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	},
	KindPermitAsset: {
		name: "PermitAsset",
		fields: []apitypes.Type{
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "assetId", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	},
	KindPermitAll: {
		name: "PermitAll",
		fields: []apitypes.Type{
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	},
}

// TypedData 构建 Grant 对应的 EIP-712 结构化数据
func TypedData(domain Domain, g *Grant) (apitypes.TypedData, error) {
	primary, ok := primaryTypes[g.Kind]
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("unsupported permit kind %s", g.Kind)
	}

	chainID := domain.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	message := apitypes.TypedDataMessage{
		"owner":    g.Owner.Hex(),
		"spender":  g.Spender.Hex(),
		"nonce":    new(big.Int).SetUint64(g.Nonce),
		"deadline": new(big.Int).SetUint64(g.Deadline),
	}
	switch g.Kind {
	case KindPermit:
		if g.Value == nil || g.Value.Sign() < 0 {
			return apitypes.TypedData{}, fmt.Errorf("permit value must be non-negative")
		}
		message["value"] = new(big.Int).Set(g.Value)
	case KindPermitAsset:
		message["assetId"] = new(big.Int).SetUint64(g.AssetID)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary.name:   primary.fields,
		},
		PrimaryType: primary.name,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}, nil
}
