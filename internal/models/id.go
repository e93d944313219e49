package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID identifies a backend record. Backends send either strings or integers;
// both decode to the same textual form.
type ID string

func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", data)
	}
	*id = ID(n.String())
	return nil
}
