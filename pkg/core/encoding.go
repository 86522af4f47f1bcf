package core

import (
	"fmt"
	"strings"
)

// Encoding is a bit-mask of message encodings used by a venue connection (informational)
type Encoding uint32

// Encodings
const (
	EncodingUndefined Encoding = 0x0
	EncodingFIX       Encoding = 0x1
	EncodingJSON      Encoding = 0x2
	EncodingSBE       Encoding = 0x4
)

var encodingNames = []struct {
	value Encoding
	name  string
}{
	{EncodingFIX, "FIX"},
	{EncodingJSON, "JSON"},
	{EncodingSBE, "SBE"},
}

// Has reports whether all bits of other are set
func (e Encoding) Has(other Encoding) bool {
	return other != EncodingUndefined && e&other == other
}

// String returns the encodings joined by '|'
func (e Encoding) String() string {
	if e == EncodingUndefined {
		return "UNDEFINED"
	}
	parts := make([]string, 0, len(encodingNames))
	rest := e
	for _, n := range encodingNames {
		if e&n.value != 0 {
			parts = append(parts, n.name)
			rest &^= n.value
		}
	}
	if rest != 0 {
		parts = append(parts, "<UNKNOWN>")
	}
	return strings.Join(parts, "|")
}

// ParseEncoding parses names such as "FIX" or "FIX|SBE"
func ParseEncoding(s string) (Encoding, error) {
	if s == "" || s == "UNDEFINED" {
		return EncodingUndefined, nil
	}
	var result Encoding
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, n := range encodingNames {
			if strings.EqualFold(strings.TrimSpace(part), n.name) {
				result |= n.value
				found = true
				break
			}
		}
		if !found {
			return EncodingUndefined, fmt.Errorf("unknown encoding %q", part)
		}
	}
	return result, nil
}
