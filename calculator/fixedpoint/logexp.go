package fixedpoint

import (
	"errors"
	"math/big"
)

// Natural exponentiation and logarithm on 18-decimal fixed point. The
// decomposition constants below are e^(2^n) for n from 7 down to -4; the
// top two carry no decimals, the rest carry 20, and the argument is
// widened to 20 decimals (36 for the high-precision log close to one)
// while the ladder runs.

var (
	one20 = bi("100000000000000000000")
	one36 = bi("1000000000000000000000000000000000000")

	// MaxNaturalExponent and MinNaturalExponent bound Exp's argument.
	MaxNaturalExponent = bi("130000000000000000000")
	MinNaturalExponent = bi("-41000000000000000000")

	// Arguments this close to one get the 36-decimal logarithm, where
	// the series loses less precision.
	ln36LowerBound = big.NewInt(1e18 - 1e17)
	ln36UpperBound = big.NewInt(1e18 + 1e17)

	// mildExponentBound keeps y*ln(x) clear of overflow: 2^254 / 1e20.
	mildExponentBound = new(big.Int).Quo(new(big.Int).Lsh(oneInt, 254), one20)

	x0  = bi("128000000000000000000")                                    // 2^7
	a0  = bi("38877084059945950922200000000000000000000000000000000000") // e^(2^7), no decimals
	x1  = bi("64000000000000000000")         // 2^6
	a1  = bi("6235149080811616882910000000") // e^(2^6), no decimals
	x2  = bi("3200000000000000000000")       // 2^5 in 20 decimals
	a2  = bi("7896296018268069516100000000000000")
	x3  = bi("1600000000000000000000") // 2^4
	a3  = bi("888611052050787263676000000")
	x4  = bi("800000000000000000000") // 2^3
	a4  = bi("298095798704172827474000")
	x5  = bi("400000000000000000000") // 2^2
	a5  = bi("5459815003314423907810")
	x6  = bi("200000000000000000000") // 2^1
	a6  = bi("738905609893065022723")
	x7  = bi("100000000000000000000") // 2^0
	a7  = bi("271828182845904523536")
	x8  = bi("50000000000000000000") // 2^-1
	a8  = bi("164872127070012814685")
	x9  = bi("25000000000000000000") // 2^-2
	a9  = bi("128402541668774148407")
	x10 = bi("12500000000000000000") // 2^-3
	a10 = bi("113314845306682631683")
	x11 = bi("6250000000000000000") // 2^-4
	a11 = bi("106449445891785942956")

	ErrBaseOutOfBounds     = errors.New("fixedpoint: pow base out of range")
	ErrExponentOutOfBounds = errors.New("fixedpoint: pow exponent out of range")
	ErrProductOutOfBounds  = errors.New("fixedpoint: pow product out of range")
	ErrInvalidExponent     = errors.New("fixedpoint: natural exponent out of range")
)

func bi(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: bad constant " + s)
	}
	return n
}

// Pow returns x^y for non-negative 18-decimal x and y, computed as
// e^(y*ln(x)).
func Pow(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return new(big.Int).Set(One), nil
	}
	if x.Sign() == 0 {
		return new(big.Int), nil
	}
	if x.BitLen() > 255 {
		return nil, ErrBaseOutOfBounds
	}
	if y.Cmp(mildExponentBound) >= 0 {
		return nil, ErrExponentOutOfBounds
	}

	logxTimesY := new(big.Int)
	if ln36LowerBound.Cmp(x) < 0 && x.Cmp(ln36UpperBound) < 0 {
		lnX := ln36(x)
		// Split the 36-decimal logarithm so the product keeps its
		// extra precision without overflowing.
		whole := new(big.Int).Quo(lnX, One)
		frac := new(big.Int).Rem(lnX, One)
		whole.Mul(whole, y)
		frac.Mul(frac, y)
		frac.Quo(frac, One)
		logxTimesY.Add(whole, frac)
	} else {
		logxTimesY.Mul(ln(x), y)
	}
	logxTimesY.Quo(logxTimesY, One)

	if logxTimesY.Cmp(MinNaturalExponent) < 0 || logxTimesY.Cmp(MaxNaturalExponent) > 0 {
		return nil, ErrProductOutOfBounds
	}
	return Exp(logxTimesY)
}

// Exp returns e^x for 18-decimal x within the natural exponent bounds.
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(MinNaturalExponent) < 0 || x.Cmp(MaxNaturalExponent) > 0 {
		return nil, ErrInvalidExponent
	}

	if x.Sign() < 0 {
		// e^x = 1 / e^-x. The negated argument is in range, and the
		// result fits since it is smaller than one.
		inv, err := Exp(new(big.Int).Neg(x))
		if err != nil {
			return nil, err
		}
		res := new(big.Int).Mul(One, One)
		return res.Quo(res, inv), nil
	}

	x = new(big.Int).Set(x)
	firstAN := oneInt
	if x.Cmp(x0) >= 0 {
		x.Sub(x, x0)
		firstAN = a0
	} else if x.Cmp(x1) >= 0 {
		x.Sub(x, x1)
		firstAN = a1
	}

	// Work in 20 decimals from here.
	x.Mul(x, big.NewInt(100))
	product := new(big.Int).Set(one20)

	ladder := []struct{ x, a *big.Int }{
		{x2, a2}, {x3, a3}, {x4, a4}, {x5, a5},
		{x6, a6}, {x7, a7}, {x8, a8}, {x9, a9},
	}
	for _, step := range ladder {
		if x.Cmp(step.x) >= 0 {
			x.Sub(x, step.x)
			product.Mul(product, step.a)
			product.Quo(product, one20)
		}
	}

	// Taylor series for the residual, which is now below 2^-2.
	seriesSum := new(big.Int).Set(one20)
	term := new(big.Int).Set(x)
	seriesSum.Add(seriesSum, term)
	for n := int64(2); n <= 12; n++ {
		term.Mul(term, x)
		term.Quo(term, one20)
		term.Quo(term, big.NewInt(n))
		seriesSum.Add(seriesSum, term)
	}

	res := product.Mul(product, seriesSum)
	res.Quo(res, one20)
	res.Mul(res, firstAN)
	return res.Quo(res, big.NewInt(100)), nil
}

// ln returns the natural logarithm of an 18-decimal argument, in 18
// decimals.
func ln(a *big.Int) *big.Int {
	if a.Cmp(One) < 0 {
		// ln(a) = -ln(1/a) for a below one.
		inv := new(big.Int).Mul(One, One)
		inv.Quo(inv, a)
		return new(big.Int).Neg(ln(inv))
	}

	a = new(big.Int).Set(a)
	sum := new(big.Int)
	var t big.Int
	if a.Cmp(t.Mul(a0, One)) >= 0 {
		a.Quo(a, a0)
		sum.Add(sum, x0)
	}
	if a.Cmp(t.Mul(a1, One)) >= 0 {
		a.Quo(a, a1)
		sum.Add(sum, x1)
	}

	// Work in 20 decimals from here.
	sum.Mul(sum, big.NewInt(100))
	a.Mul(a, big.NewInt(100))

	ladder := []struct{ x, a *big.Int }{
		{x2, a2}, {x3, a3}, {x4, a4}, {x5, a5}, {x6, a6},
		{x7, a7}, {x8, a8}, {x9, a9}, {x10, a10}, {x11, a11},
	}
	for _, step := range ladder {
		if a.Cmp(step.a) >= 0 {
			a.Mul(a, one20)
			a.Quo(a, step.a)
			sum.Add(sum, step.x)
		}
	}

	// atanh series: ln(a) = 2*(z + z^3/3 + z^5/5 + ...) with
	// z = (a-1)/(a+1).
	z := new(big.Int).Sub(a, one20)
	z.Mul(z, one20)
	z.Quo(z, new(big.Int).Add(a, one20))
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one20)

	num := new(big.Int).Set(z)
	seriesSum := new(big.Int).Set(num)
	var quot big.Int
	for n := int64(3); n <= 11; n += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one20)
		seriesSum.Add(seriesSum, quot.Quo(num, big.NewInt(n)))
	}
	seriesSum.Mul(seriesSum, big.NewInt(2))

	sum.Add(sum, seriesSum)
	return sum.Quo(sum, big.NewInt(100))
}

// ln36 returns the natural logarithm in 36 decimals for arguments close
// to one, where the plain series would waste most of its terms.
func ln36(x *big.Int) *big.Int {
	x = new(big.Int).Mul(x, One)

	z := new(big.Int).Sub(x, one36)
	z.Mul(z, one36)
	z.Quo(z, new(big.Int).Add(x, one36))
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one36)

	num := new(big.Int).Set(z)
	seriesSum := new(big.Int).Set(num)
	var quot big.Int
	for n := int64(3); n <= 15; n += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one36)
		seriesSum.Add(seriesSum, quot.Quo(num, big.NewInt(n)))
	}
	return seriesSum.Mul(seriesSum, big.NewInt(2))
}
