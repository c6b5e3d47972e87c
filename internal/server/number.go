package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// flexNumber accepts a JSON number or a string holding one, as sent by HTML
// forms.
type flexNumber struct {
	Value float64
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("must be a number")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", s)
		}
		n.Value = v
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("must be a number")
	}
	n.Value = v
	return nil
}

func (n *flexNumber) toFloat() *float64 {
	if n == nil {
		return nil
	}
	v := n.Value
	return &v
}

// flexInt is a flexNumber that must hold a whole number fitting in 32 bits.
type flexInt struct {
	flexNumber
}

func (n *flexInt) UnmarshalJSON(data []byte) error {
	if err := n.flexNumber.UnmarshalJSON(data); err != nil {
		return err
	}
	v := n.Value
	if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return fmt.Errorf("%v is not a whole number in range", v)
	}
	return nil
}

func (n *flexInt) toInt() *int {
	if n == nil {
		return nil
	}
	v := int(n.Value)
	return &v
}
