// Package rational implements exact fraction arithmetic for timing calculations.
//
// 모든 타이밍 계산은 분수로 처리한다. float64 로 바꾸면 44.1kHz 에서 약 1µs/s 씩 어긋난다.
package rational

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

// Rational 은 기약 분수 num/den 이다. den 은 항상 양수이다.
// The zero value is 0/1 once normalised; use Zero for clarity.
type Rational struct {
	num     int64
	den     int64
	inexact bool // 오버플로로 인해 근사된 값인지 여부
}

var (
	Zero = Rational{num: 0, den: 1}
	One  = Rational{num: 1, den: 1}
)

// New returns num/den reduced. It panics if den is zero.
func New(num, den int64) Rational {
	if den == 0 {
		panic("rational: zero denominator")
	}
	return normalize(num, den, false)
}

// FromInt returns v/1.
func FromInt(v int64) Rational {
	return Rational{num: v, den: 1}
}

func (r Rational) Num() int64 {
	return r.num
}

func (r Rational) Den() int64 {
	if r.den == 0 {
		return 1
	}
	return r.den
}

// Inexact reports whether precision was lost while producing r.
func (r Rational) Inexact() bool {
	return r.inexact
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func normalize(num, den int64, inexact bool) Rational {
	if den == 0 {
		den = 1
	}
	if num == 0 {
		return Rational{num: 0, den: 1, inexact: inexact}
	}
	if den < 0 {
		if num == math.MinInt64 || den == math.MinInt64 {
			return fromBig(big.NewInt(num), big.NewInt(den), inexact)
		}
		num, den = -num, -den
	}
	g := gcd(abs64(num), uint64(den))
	if g > 1 {
		num /= int64(g)
		den /= int64(g)
	}
	return Rational{num: num, den: den, inexact: inexact}
}

// fromBig reduces n/d and fits it into int64s. When the reduced terms do not fit, the
// denominator is limited so that the numerator fits and the result is marked inexact.
func fromBig(n, d *big.Int, inexact bool) Rational {
	q := new(big.Rat).SetFrac(n, d)
	num := new(big.Int).Set(q.Num())
	den := new(big.Int).Set(q.Denom())
	if num.IsInt64() && den.IsInt64() {
		return Rational{num: num.Int64(), den: den.Int64(), inexact: inexact}
	}

	negative := num.Sign() < 0
	num.Abs(num)
	intPart := new(big.Int).Quo(num, den)
	if !intPart.IsInt64() || intPart.Int64() == math.MaxInt64 {
		// 표현 범위를 벗어나면 포화시킨다.
		if negative {
			return Rational{num: -math.MaxInt64, den: 1, inexact: true}
		}
		return Rational{num: math.MaxInt64, den: 1, inexact: true}
	}

	maxDen := big.NewInt(math.MaxInt64 / (intPart.Int64() + 1))
	if den.Cmp(maxDen) < 0 {
		maxDen.Set(den)
	}
	// p = round(num * maxDen / den)
	p := new(big.Int).Mul(num, maxDen)
	p.Mul(p, big.NewInt(2))
	p.Add(p, den)
	p.Quo(p, new(big.Int).Mul(den, big.NewInt(2)))
	if !p.IsInt64() {
		p.SetInt64(math.MaxInt64)
	}
	pn := p.Int64()
	if negative {
		pn = -pn
	}
	return normalize(pn, maxDen.Int64(), true)
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(abs64(a), abs64(b))
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return -int64(lo - 1) - 1, true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func add64(a, b int64) (int64, bool) {
	c := a + b
	if (c > a) == (b > 0) {
		return c, true
	}
	return 0, false
}

func bigOf(v int64) *big.Int {
	return big.NewInt(v)
}

func (r Rational) fix() Rational {
	if r.den == 0 {
		r.den = 1
	}
	return r
}

// Add returns r + o.
func (r Rational) Add(o Rational) Rational {
	r, o = r.fix(), o.fix()
	inexact := r.inexact || o.inexact
	if r.den == o.den {
		if n, ok := add64(r.num, o.num); ok {
			return normalize(n, r.den, inexact)
		}
	}
	ad, ok1 := mul64(r.num, o.den)
	cb, ok2 := mul64(o.num, r.den)
	bd, ok3 := mul64(r.den, o.den)
	if ok1 && ok2 && ok3 {
		if n, ok := add64(ad, cb); ok {
			return normalize(n, bd, inexact)
		}
	}
	n := new(big.Int).Add(new(big.Int).Mul(bigOf(r.num), bigOf(o.den)), new(big.Int).Mul(bigOf(o.num), bigOf(r.den)))
	d := new(big.Int).Mul(bigOf(r.den), bigOf(o.den))
	return fromBig(n, d, inexact)
}

// Sub returns r - o.
func (r Rational) Sub(o Rational) Rational {
	return r.Add(o.Neg())
}

// Mul returns r * o.
func (r Rational) Mul(o Rational) Rational {
	r, o = r.fix(), o.fix()
	inexact := r.inexact || o.inexact
	// 교차 약분 후 곱해서 오버플로 가능성을 줄인다.
	g1 := int64(gcd(abs64(r.num), uint64(o.den)))
	g2 := int64(gcd(abs64(o.num), uint64(r.den)))
	if g1 == 0 {
		g1 = 1
	}
	if g2 == 0 {
		g2 = 1
	}
	n, ok1 := mul64(r.num/g1, o.num/g2)
	d, ok2 := mul64(r.den/g2, o.den/g1)
	if ok1 && ok2 {
		return normalize(n, d, inexact)
	}
	return fromBig(new(big.Int).Mul(bigOf(r.num), bigOf(o.num)), new(big.Int).Mul(bigOf(r.den), bigOf(o.den)), inexact)
}

// Div returns r / o. It panics if o is zero.
func (r Rational) Div(o Rational) Rational {
	o = o.fix()
	if o.num == 0 {
		panic("rational: division by zero")
	}
	return r.Mul(o.Inv())
}

// Inv returns 1/r. It panics if r is zero.
func (r Rational) Inv() Rational {
	r = r.fix()
	if r.num == 0 {
		panic("rational: division by zero")
	}
	if r.num == math.MinInt64 {
		return fromBig(bigOf(r.den), bigOf(r.num), r.inexact)
	}
	if r.num < 0 {
		return Rational{num: -r.den, den: -r.num, inexact: r.inexact}
	}
	return Rational{num: r.den, den: r.num, inexact: r.inexact}
}

func (r Rational) MulInt(v int64) Rational {
	return r.Mul(FromInt(v))
}

func (r Rational) DivInt(v int64) Rational {
	return r.Div(FromInt(v))
}

func (r Rational) Neg() Rational {
	r = r.fix()
	if r.num == math.MinInt64 {
		return fromBig(new(big.Int).Neg(bigOf(r.num)), bigOf(r.den), r.inexact)
	}
	r.num = -r.num
	return r
}

func (r Rational) Abs() Rational {
	if r.num < 0 {
		return r.Neg()
	}
	return r.fix()
}

func (r Rational) Sign() int {
	switch {
	case r.num < 0:
		return -1
	case r.num > 0:
		return 1
	}
	return 0
}

func (r Rational) IsZero() bool {
	return r.num == 0
}

// Cmp returns -1, 0 or +1 depending on whether r is less than, equal to or greater than o.
func (r Rational) Cmp(o Rational) int {
	r, o = r.fix(), o.fix()
	ad, ok1 := mul64(r.num, o.den)
	cb, ok2 := mul64(o.num, r.den)
	if ok1 && ok2 {
		switch {
		case ad < cb:
			return -1
		case ad > cb:
			return 1
		}
		return 0
	}
	return new(big.Int).Mul(bigOf(r.num), bigOf(o.den)).Cmp(new(big.Int).Mul(bigOf(o.num), bigOf(r.den)))
}

func (r Rational) LessThan(o Rational) bool {
	return r.Cmp(o) < 0
}

func (r Rational) GreaterThan(o Rational) bool {
	return r.Cmp(o) > 0
}

func (r Rational) Equal(o Rational) bool {
	return r.Cmp(o) == 0
}

// Trunc returns the integer part, rounded toward zero.
func (r Rational) Trunc() int64 {
	r = r.fix()
	return r.num / r.den
}

// Floor returns the greatest integer not above r.
func (r Rational) Floor() int64 {
	r = r.fix()
	q := r.num / r.den
	if r.num%r.den != 0 && r.num < 0 {
		q--
	}
	return q
}

// Round rounds half away from zero.
func (r Rational) Round() int64 {
	r = r.fix()
	if r.num < 0 {
		return -r.Neg().Round()
	}
	q := r.num / r.den
	rem := r.num % r.den
	if rem >= r.den-rem {
		q++
	}
	return q
}

// Frac returns r - Floor(r), always in [0, 1).
func (r Rational) Frac() Rational {
	return r.Sub(FromInt(r.Floor()))
}

// Float64 is for logging only; timing decisions never use it.
func (r Rational) Float64() float64 {
	r = r.fix()
	return float64(r.num) / float64(r.den)
}

func (r Rational) String() string {
	r = r.fix()
	if r.den == 1 {
		return fmt.Sprintf("%d", r.num)
	}
	return fmt.Sprintf("%d/%d", r.num, r.den)
}

// Min returns the smaller of a and b.
func Min(a, b Rational) Rational {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Rational) Rational {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
