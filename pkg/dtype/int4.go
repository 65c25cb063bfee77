package dtype

// Int4At returns the signed 4-bit element i of a packed buffer.
// Element i lives in byte i/2: even indices in the low nibble, odd indices in the high nibble.
// Bit 3 is the sign bit and is extended into bits 4-7.
func Int4At(buf []byte, i int) int8 {
	b := buf[i/2]
	if i%2 == 1 {
		b >>= 4
	}
	b &= 0x0f
	if b&0x08 != 0 {
		b |= 0xf0
	}
	return int8(b)
}

// PutInt4 stores the low four bits of v as element i of a packed buffer,
// leaving the neighbouring nibble untouched.
func PutInt4(buf []byte, i int, v int8) {
	nib := byte(v) & 0x0f
	if i%2 == 0 {
		buf[i/2] = buf[i/2]&0xf0 | nib
		return
	}
	buf[i/2] = buf[i/2]&0x0f | nib<<4
}
