package subscription

// Delta is the minimal set of operations turning one desired set into another.
type Delta struct {
	Add    []Key
	Remove []Key
}

// Empty reports whether the delta carries no operations.
func (d Delta) Empty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Diff computes Add = next - prev and Remove = prev - next, both sorted.
func Diff(prev, next Set) Delta {
	var delta Delta
	for k := range next.m {
		if !prev.Has(k) {
			delta.Add = append(delta.Add, k)
		}
	}
	for k := range prev.m {
		if !next.Has(k) {
			delta.Remove = append(delta.Remove, k)
		}
	}
	sortKeys(delta.Add)
	sortKeys(delta.Remove)
	return delta
}
