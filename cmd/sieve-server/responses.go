package main

import (
	"io"
	"strconv"
)

// Pre-allocated buffers for the hottest responses. BF.ADD and BF.EXISTS
// answer 0 or 1 almost exclusively, so these cover the bulk of all traffic
// without allocating.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
	respOne  = []byte(":1\r\n")
	respNil  = []byte("$-1\r\n")
)

func (app *application) writeSimpleStringResponse(w io.Writer, s string) error {
	if s == "OK" {
		_, err := w.Write(respOK)
		return err
	}
	if s == "PONG" {
		_, err := w.Write(respPong)
		return err
	}

	// Format: +string\r\n
	buf := make([]byte, 0, 1+len(s)+2)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeErrorResponse(w io.Writer, errStr string) error {
	// Format: -string\r\n
	buf := make([]byte, 0, 1+len(errStr)+2)
	buf = append(buf, '-')
	buf = append(buf, errStr...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeBulkStringResponse(w io.Writer, s string) error {
	// Format: $length\r\nstring\r\n
	buf := make([]byte, 0, 16+len(s))
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeIntegerResponse(w io.Writer, i int) error {
	return app.writeIntegerResponse64(w, int64(i))
}

func (app *application) writeIntegerResponse64(w io.Writer, i int64) error {
	if i == 0 {
		_, err := w.Write(respZero)
		return err
	}
	if i == 1 {
		_, err := w.Write(respOne)
		return err
	}

	// Format: :integer\r\n
	buf := make([]byte, 0, 24)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, i, 10)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeNilResponse(w io.Writer) error {
	_, err := w.Write(respNil)
	return err
}

// writeIntegerArrayResponse writes a RESP array of integers, the response
// shape of BF.MADD and BF.MEXISTS. The whole response goes out in a single
// Write for atomicity.
func (app *application) writeIntegerArrayResponse(w io.Writer, values []int) error {
	buf := make([]byte, 0, 6+len(values)*5)

	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(values)), 10)
	buf = append(buf, '\r', '\n')

	for _, v := range values {
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(v), 10)
		buf = append(buf, '\r', '\n')
	}

	_, err := w.Write(buf)
	return err
}
