// Package fixedpoint implements 18-decimal fixed-point arithmetic with
// directed rounding, including the deterministic power function weighted
// pools price with. Results are bit-exact with the reference contracts,
// which is what makes quotes reproducible against on-chain execution.
package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	// One is 1.0 in 18-decimal fixed point.
	One  = big.NewInt(1e18)
	two  = big.NewInt(2e18)
	four = big.NewInt(4e18)

	// maxPowRelativeError bounds the error of Pow, 10^-14 relative.
	maxPowRelativeError = big.NewInt(10000)

	oneInt = big.NewInt(1)

	ErrZeroDivision = errors.New("fixedpoint: division by zero")
)

// MulDown returns a*b/1e18 rounded toward zero.
func MulDown(a, b *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, One)
}

// MulUp returns a*b/1e18 rounded away from zero.
func MulUp(a, b *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	if product.Sign() == 0 {
		return product
	}
	product.Sub(product, oneInt)
	product.Quo(product, One)
	return product.Add(product, oneInt)
}

// DivDown returns a*1e18/b rounded toward zero.
func DivDown(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrZeroDivision
	}
	if a.Sign() == 0 {
		return new(big.Int), nil
	}
	inflated := new(big.Int).Mul(a, One)
	return inflated.Quo(inflated, b), nil
}

// DivUp returns a*1e18/b rounded away from zero.
func DivUp(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrZeroDivision
	}
	if a.Sign() == 0 {
		return new(big.Int), nil
	}
	inflated := new(big.Int).Mul(a, One)
	inflated.Sub(inflated, oneInt)
	inflated.Quo(inflated, b)
	return inflated.Add(inflated, oneInt), nil
}

// Complement returns 1e18 - x, floored at zero.
func Complement(x *big.Int) *big.Int {
	if x.Cmp(One) >= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(One, x)
}

// PowDown returns x^y with the error bound subtracted, so the true value
// is never below the result. Whole exponents short-circuit to exact
// multiplication.
func PowDown(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(One) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(two) == 0:
		return MulDown(x, x), nil
	case y.Cmp(four) == 0:
		square := MulDown(x, x)
		return MulDown(square, square), nil
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError := MulUp(raw, maxPowRelativeError)
	maxError.Add(maxError, oneInt)
	if raw.Cmp(maxError) < 0 {
		return new(big.Int), nil
	}
	return raw.Sub(raw, maxError), nil
}

// PowUp returns x^y with the error bound added, so the true value is
// never above the result.
func PowUp(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(One) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(two) == 0:
		return MulUp(x, x), nil
	case y.Cmp(four) == 0:
		square := MulUp(x, x)
		return MulUp(square, square), nil
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError := MulUp(raw, maxPowRelativeError)
	maxError.Add(maxError, oneInt)
	return raw.Add(raw, maxError), nil
}
