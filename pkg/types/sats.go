package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Sats is a satoshi amount kept in its decimal string form. The backend sends
// amounts either as JSON strings or numbers.
type Sats string

func (s Sats) String() string {
	return string(s)
}

// Int64 parses the amount.
func (s Sats) Int64() (int64, error) {
	return strconv.ParseInt(string(s), 10, 64)
}

func (s *Sats) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Sats(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid sats amount %s: %w", string(b), err)
	}
	*s = Sats(n.String())
	return nil
}
