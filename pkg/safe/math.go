package safe

import (
	"math"
	"math/bits"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// SafeMul performs int64 multiplication and panics on overflow/underflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > 0 {
		if b > 0 {
			if a > math.MaxInt64/b {
				panic("CORE_SAFE_MUL_OVERFLOW")
			}
		} else if b < math.MinInt64/a {
			panic("CORE_SAFE_MUL_OVERFLOW")
		}
	} else {
		if b > 0 {
			if a < math.MinInt64/b {
				panic("CORE_SAFE_MUL_OVERFLOW")
			}
		} else if a < math.MaxInt64/b {
			panic("CORE_SAFE_MUL_OVERFLOW")
		}
	}
	return a * b
}

// SafeDiv performs int64 division and panics on division by zero.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if a == math.MinInt64 && b == -1 {
		panic("CORE_SAFE_DIV_OVERFLOW")
	}
	return a / b
}

// SafeAbs returns |a| and panics for MinInt64.
func SafeAbs(a int64) int64 {
	if a == math.MinInt64 {
		panic("CORE_SAFE_ABS_OVERFLOW")
	}
	if a < 0 {
		return -a
	}
	return a
}

// MulDiv computes a*b/c with a 128-bit intermediate, truncating toward zero.
// Price x quantity products overflow int64 long before the scaled result does,
// so every fixed-point rescale goes through here.
func MulDiv(a, b, c int64) int64 {
	if c == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	q, ok := CheckedMulDiv(a, b, c)
	if !ok {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	return q
}

// CheckedMulDiv is MulDiv for untrusted input: ok is false when c is zero or
// the result does not fit in int64.
func CheckedMulDiv(a, b, c int64) (int64, bool) {
	if c == 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}

	neg := (a < 0) != (b < 0) != (c < 0)
	ua, ub, uc := abs64(a), abs64(b), abs64(c)

	hi, lo := bits.Mul64(ua, ub)
	if hi >= uc {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, uc)

	if neg {
		if q > 1<<63 {
			return 0, false
		}
		return int64(-q), true
	}
	if q > math.MaxInt64 {
		return 0, false
	}
	return int64(q), true
}

// CheckedAdd reports a+b and whether it fit.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
