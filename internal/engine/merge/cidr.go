package merge

import "math/bits"

// MergeAddr reduces two addresses of addrLen bytes to their longest common
// prefix, considering at most the shorter of the two prefix lengths. It returns
// the common prefix with every later bit cleared and its length.
func MergeAddr(a, b [16]byte, addrLen int, la, lb uint8) ([16]byte, uint8) {
	limit := int(min(la, lb))
	if limit > addrLen*8 {
		limit = addrLen * 8
	}

	common := 0
	for i := 0; i < addrLen && common < limit; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			common += 8
			continue
		}
		common += bits.LeadingZeros8(x)
		break
	}
	common = min(common, limit)

	return maskBits(a, addrLen, common), uint8(common)
}

func maskBits(addr [16]byte, addrLen, prefix int) [16]byte {
	full := prefix / 8
	if rem := prefix % 8; rem != 0 {
		addr[full] &= byte(0xFF << (8 - rem))
		full++
	}
	for i := full; i < len(addr); i++ {
		addr[i] = 0
	}
	return addr
}
