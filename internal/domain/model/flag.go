package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Flag — булев флаг прав. Пишется как JSON boolean, при чтении
// дополнительно принимает 0/1 и null (старые data.json хранили числа).
type Flag bool

// MarshalJSON сериализует флаг как true/false.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

// UnmarshalJSON принимает true/false, числа (0 — false) и null.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false", "0":
		*f = false
		return nil
	case "true", "1":
		*f = true
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("некорректное значение флага: %s", string(data))
	}
	*f = n != 0
	return nil
}
