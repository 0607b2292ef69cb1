package seqnet

import (
	"bytes"
	"fmt"
)

// setOneHot zeroes row and sets the position of tok to 1.
func setOneHot(row []float32, tok int) {
	for i := range row {
		row[i] = 0
	}
	row[tok] = 1
}

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}
