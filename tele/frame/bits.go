package frame

// Priority table: four 16-bit fields priority_1..4, each packs four 4-bit ranks,
// most significant nibble first. Field k, nibble i -> slot (k-1)*4+i, rank = nibble+1.
//
// Zero field means "no data": its quarter keeps identity order (slot index+1).
// Any slot that ends up 0 is also replaced with index+1.
// TODO confirm with device protocol owner whether all-zero field is a legitimate table;
// now it is coerced to identity order.
func DecodePriority(fields [4]uint16) [Slots]int {
	var out [Slots]int
	for k, v := range fields {
		if v == 0 {
			continue
		}
		for i := 0; i < 4; i++ {
			shift := uint(12 - 4*i)
			nibble := (v >> shift) & 0xf
			out[k*4+i] = int(nibble) + 1
		}
	}
	for i := range out {
		if out[i] == 0 {
			out[i] = i + 1
		}
	}
	return out
}

// EncodePriority is inverse of DecodePriority for ranks 1..16.
// Used by tools and tests that synthesize frames.
func EncodePriority(ranks [Slots]int) [4]uint16 {
	var fields [4]uint16
	for slot, rank := range ranks {
		nibble := uint16(rank-1) & 0xf
		shift := uint(12 - 4*(slot%4))
		fields[slot/4] |= nibble << shift
	}
	return fields
}

// DecodeCutoff: bit i (LSB=0) -> group G-(i+1), set bit = cutoff engaged.
func DecodeCutoff(bits uint16) [Groups]bool {
	var out [Groups]bool
	for i := 0; i < Groups; i++ {
		out[i] = bits&(1<<uint(i)) != 0
	}
	return out
}

func EncodeCutoff(groups [Groups]bool) uint16 {
	var bits uint16
	for i, on := range groups {
		if on {
			bits |= 1 << uint(i)
		}
	}
	return bits
}
