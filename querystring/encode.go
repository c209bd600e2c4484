package querystring

// DefaultMaxLen is the sequence width used by the production classifier.
const DefaultMaxLen = 1024

// Encode right-aligns b into a zero-padded sequence of exactly maxlen byte
// values. Input longer than maxlen keeps its first maxlen bytes.
func Encode(b []byte, maxlen int) []float32 {
	if maxlen <= 0 {
		panic("querystring: maxlen must be positive")
	}
	seq := make([]float32, maxlen)
	if len(b) > maxlen {
		b = b[:maxlen]
	}
	pad := maxlen - len(b)
	for i, c := range b {
		seq[pad+i] = float32(c)
	}
	return seq
}

// EncodeQuery decodes text and encodes the result into a maxlen sequence.
func EncodeQuery(text string, maxlen int) ([]float32, error) {
	b, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return Encode(b, maxlen), nil
}
