package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// PPM is the parts-per-million denominator used for ratio exponents.
const PPM = 1_000_000

// BpsBase is the basis-point denominator.
const BpsBase = 10_000

var (
	ErrOverflow       = errors.New("fixedpoint: overflow")
	ErrDomain         = errors.New("fixedpoint: input outside domain")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

var (
	// one is the internal precision (1e36) used for ln/exp evaluation.
	one = new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
	two = new(big.Int).Lsh(one, 1)

	// ln2 at 1e36, rounded down.
	ln2, _ = new(big.Int).SetString("693147180559945309417232121458176568", 10)

	// exp(y) for y above maxExpInput no longer fits the safe magnitude bound.
	maxExpInput = new(big.Int).Mul(big.NewInt(130), one)
	// exp(y) for y below minExpInput is below one unit at 1e36.
	minExpInput = new(big.Int).Mul(big.NewInt(-84), one)

	// MaxAmount bounds every amount accepted by the pricing functions (2^128 - 1).
	MaxAmount = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
)

// One returns the internal fixed-point unit (1e36).
func One() *big.Int {
	return new(big.Int).Set(one)
}

// Ln returns ln(x) for x > 0, both at 1e36 precision. The result is rounded toward
// negative infinity.
func Ln(x *big.Int) (*big.Int, error) {
	if x == nil || x.Sign() <= 0 {
		return nil, fmt.Errorf("ln of non-positive value: %w", ErrDomain)
	}

	// x = m * 2^k with m in [one, 2*one)
	k := x.BitLen() - one.BitLen()
	m := new(big.Int)
	if k >= 0 {
		m.Rsh(x, uint(k))
	} else {
		m.Lsh(x, uint(-k))
	}
	for m.Cmp(two) >= 0 {
		m.Rsh(m, 1)
		k++
	}
	for m.Cmp(one) < 0 {
		m.Lsh(m, 1)
		k--
	}

	// ln(m) = 2 * atanh(z), z = (m-1)/(m+1) in [0, 1/3)
	num := new(big.Int).Sub(m, one)
	den := new(big.Int).Add(m, one)
	z := num.Mul(num, one)
	z.Quo(z, den)
	z2 := new(big.Int).Mul(z, z)
	z2.Quo(z2, one)

	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	part := new(big.Int)
	for n := int64(3); ; n += 2 {
		term.Mul(term, z2)
		term.Quo(term, one)
		if term.Sign() == 0 {
			break
		}
		part.Quo(term, big.NewInt(n))
		sum.Add(sum, part)
	}
	sum.Lsh(sum, 1)

	shift := new(big.Int).Mul(big.NewInt(int64(k)), ln2)
	return sum.Add(sum, shift), nil
}

// Exp returns e^y at 1e36 precision, rounded down. Inputs large enough to leave the
// safe magnitude bound fail with ErrOverflow; very negative inputs return zero.
func Exp(y *big.Int) (*big.Int, error) {
	if y == nil {
		return nil, fmt.Errorf("exp of nil: %w", ErrDomain)
	}
	if y.Cmp(maxExpInput) > 0 {
		return nil, fmt.Errorf("exp input %s: %w", y, ErrOverflow)
	}
	if y.Cmp(minExpInput) < 0 {
		return new(big.Int), nil
	}

	// y = k*ln2 + r, r in [0, ln2)
	k := new(big.Int)
	r := new(big.Int)
	k.DivMod(y, ln2, r)

	sum := new(big.Int).Set(one)
	term := new(big.Int).Set(one)
	for n := int64(1); ; n++ {
		term.Mul(term, r)
		term.Quo(term, one)
		term.Quo(term, big.NewInt(n))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	shift := k.Int64()
	if shift >= 0 {
		return sum.Lsh(sum, uint(shift)), nil
	}
	return sum.Rsh(sum, uint(-shift)), nil
}

// Pow returns base^(num/den) for a 1e36 fixed-point base >= 0.
func Pow(base *big.Int, num, den uint64) (*big.Int, error) {
	if base == nil || base.Sign() < 0 {
		return nil, fmt.Errorf("pow of negative base: %w", ErrDomain)
	}
	if den == 0 {
		return nil, fmt.Errorf("pow exponent denominator: %w", ErrDivisionByZero)
	}
	if num == 0 {
		return new(big.Int).Set(one), nil
	}
	if base.Sign() == 0 {
		return new(big.Int), nil
	}
	if base.Cmp(one) == 0 {
		return new(big.Int).Set(one), nil
	}

	l, err := Ln(base)
	if err != nil {
		return nil, err
	}
	l.Mul(l, new(big.Int).SetUint64(num))
	l.Quo(l, new(big.Int).SetUint64(den))
	return Exp(l)
}

// PowRatio returns base^(ppm/1e6), the curve exponent w applied to base.
func PowRatio(base *big.Int, ppm uint32) (*big.Int, error) {
	return Pow(base, uint64(ppm), PPM)
}

// PowInverseRatio returns base^(1e6/ppm), the inverse exponent 1/w applied to base.
func PowInverseRatio(base *big.Int, ppm uint32) (*big.Int, error) {
	if ppm == 0 {
		return nil, fmt.Errorf("inverse ratio: %w", ErrDivisionByZero)
	}
	return Pow(base, PPM, uint64(ppm))
}

// RatioDown returns floor(a * one / b).
func RatioDown(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(a, one)
	return out.Quo(out, b), nil
}

// RatioUp returns ceil(a * one / b).
func RatioUp(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	out := new(big.Int).Mul(a, one)
	return divUp(out, b), nil
}

// MulFixedDown returns floor(a * f / one).
func MulFixedDown(a, f *big.Int) *big.Int {
	out := new(big.Int).Mul(a, f)
	return out.Quo(out, one)
}

// MulDivDown returns floor(a * b / c) for uint256 operands, failing if the result
// does not fit in 256 bits.
func MulDivDown(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, fmt.Errorf("muldiv %s*%s/%s: %w", a.Dec(), b.Dec(), c.Dec(), ErrOverflow)
	}
	return out, nil
}

// MulDivUp returns ceil(a * b / c) for uint256 operands.
func MulDivUp(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	return ToUint256(divUp(prod, c.ToBig()))
}

// BpsUp returns ceil(amount * bps / 10000).
func BpsUp(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDivUp(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsBase))
}

// BpsDown returns floor(amount * bps / 10000).
func BpsDown(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	return MulDivDown(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsBase))
}

// ToUint256 converts a non-negative big.Int, failing closed on overflow.
func ToUint256(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s: %w", v, ErrDomain)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value %s exceeds 256 bits: %w", v, ErrOverflow)
	}
	return out, nil
}

// CheckAmount rejects amounts above MaxAmount.
func CheckAmount(name string, v *uint256.Int) error {
	if v == nil {
		return fmt.Errorf("%s is nil: %w", name, ErrDomain)
	}
	if v.Gt(MaxAmount) {
		return fmt.Errorf("%s %s exceeds safe magnitude: %w", name, v.Dec(), ErrOverflow)
	}
	return nil
}

func divUp(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
