package contracts

import "math/big"

// Rebase elastic / base 对（借款总额与借款份额）
type Rebase struct {
	Elastic *big.Int `json:"elastic"`
	Base    *big.Int `json:"base"`
}

// NewRebase 创建空的 Rebase
func NewRebase() Rebase {
	return Rebase{Elastic: new(big.Int), Base: new(big.Int)}
}

// ToBase elastic -> base
func (r Rebase) ToBase(elastic *big.Int, roundUp bool) *big.Int {
	if r.Elastic == nil || r.Elastic.Sign() == 0 {
		return new(big.Int).Set(elastic)
	}
	return mulDiv(elastic, r.Base, r.Elastic, roundUp)
}

// ToElastic base -> elastic
func (r Rebase) ToElastic(base *big.Int, roundUp bool) *big.Int {
	if r.Base == nil || r.Base.Sign() == 0 {
		return new(big.Int).Set(base)
	}
	return mulDiv(base, r.Elastic, r.Base, roundUp)
}

// mulDiv a*b/c，roundUp 时向上取整
func mulDiv(a, b, c *big.Int, roundUp bool) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, m := new(big.Int).QuoRem(num, c, new(big.Int))
	if roundUp && m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulDiv a*b/c，roundUp 时向上取整（c 不能为 0）
func MulDiv(a, b, c *big.Int, roundUp bool) *big.Int {
	return mulDiv(a, b, c, roundUp)
}
