package agent

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// looseString accepts a JSON string or number. Any other value decodes to ""
// and is left to the caller's validation.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = looseString(n.String())
		return nil
	}
	*s = ""
	return nil
}

// looseInt accepts a JSON number or a numeric string. Fractions are truncated
// and anything unreadable decodes to 0.
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		b = []byte(strings.TrimSpace(str))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		*n = 0
		return nil
	}
	*n = looseInt(f)
	return nil
}

func looseStrings(in []looseString) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(string(s)))
	}
	return out
}
