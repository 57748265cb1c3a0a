package checksum

const xorSize = 1

// XOR is the JT/T 808 check code: every body byte folded with exclusive or.
type XOR struct{}

// NewXOR creates a new XOR checker.
func NewXOR() *XOR { return &XOR{} }

func (*XOR) Name() string { return "xor" }

func (*XOR) Size() int { return xorSize }

// Sum folds data with XOR.
func (*XOR) Sum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// Verify checks the last byte against the XOR of the rest.
func (x *XOR) Verify(frame []byte) bool {
	// an empty body folds to zero and would verify a lone 0x00
	if len(frame) < xorSize+1 {
		return false
	}
	body, trailer, _ := split(frame, xorSize)
	return x.Sum(body) == trailer[0]
}

// Seal appends the check code.
func (x *XOR) Seal(body []byte) []byte {
	return seal(body, x.Sum(body))
}
