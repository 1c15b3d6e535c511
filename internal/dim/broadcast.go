package dim

import "fmt"

// Broadcast applies NumPy-style broadcasting to two dimension-expression
// shapes. Symbolic dimensions broadcast only against an equal expression or a
// literal 1; there is no way to prove S == 1, so S never collapses.
func Broadcast(a, b Shape) (Shape, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	one := Const(1)
	result := make(Shape, n)
	for i := 0; i < n; i++ {
		ad, bd := one, one
		if ai := len(a) - 1 - i; ai >= 0 {
			ad = a[ai]
		}
		if bi := len(b) - 1 - i; bi >= 0 {
			bd = b[bi]
		}
		switch {
		case ad == bd:
			result[n-1-i] = ad
		case ad == one:
			result[n-1-i] = bd
		case bd == one:
			result[n-1-i] = ad
		default:
			return nil, fmt.Errorf("shapes not compatible for broadcasting: %s vs %s", a, b)
		}
	}
	return result, nil
}
