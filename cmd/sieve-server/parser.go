// RESP request parsing.
//
// The server speaks the REdis Serialization Protocol so that redis-cli,
// redis-benchmark and standard client libraries work against it unmodified,
// and so arguments are binary-safe (length-prefixed, no escaping).
//
// Only the request subset is implemented. Clients send commands in two
// shapes:
//
//   - RESP arrays of bulk strings, the programmatic format:
//     "*2\r\n$9\r\nBF.EXISTS\r\n$3\r\nkey\r\n"
//   - Inline commands, the human/debug format used over netcat or telnet:
//     "BF.EXISTS key item\r\n"
//
// The parser is hardened against hostile input: bulk string and array
// headers are bounded before any allocation, and header lines themselves are
// capped so a client that never sends '\n' cannot buffer unboundedly.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// Protocol limits. MaxBulkLength matches Redis's proto-max-bulk-len default.
const (
	MaxBulkLength = 512 * 1024 * 1024
	MaxArrayLen   = 1 << 20
	MaxLineSize   = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

type Parser struct {
	reader *bufio.Reader
}

func NewParser(conn io.Reader) *Parser {
	return &Parser{reader: bufio.NewReaderSize(conn, 4096)}
}

// Parse reads one command, in either supported format, and returns it as a
// command-name-plus-arguments string slice.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	if line[0] == '*' {
		return p.parseRESPArray(line)
	}
	return p.parseInline(line)
}

// Buffered reports how many bytes the client has already sent beyond the
// current command. Nonzero means the client is pipelining, and the response
// flush can be deferred.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// readLine reads up to '\n', enforcing MaxLineSize.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !isPrefix {
		return line, nil
	}

	// The line exceeded the read buffer; accumulate chunks under the cap.
	var buf bytes.Buffer
	buf.Write(line)
	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

func (p *Parser) parseInline(line []byte) ([]string, error) {
	parts := bytes.Fields(line)
	if len(parts) == 0 {
		return nil, ErrInvalidSyntax
	}

	result := make([]string, len(parts))
	for i, part := range parts {
		result[i] = string(part)
	}
	return result, nil
}

func (p *Parser) parseRESPArray(header []byte) ([]string, error) {
	count, err := strconv.Atoi(string(bytes.TrimSpace(header[1:])))
	if err != nil {
		return nil, ErrInvalidSyntax
	}

	// Null (*-1) and empty (*0) arrays.
	if count <= 0 {
		return []string{}, nil
	}
	if count > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	command := make([]string, 0, count)
	for i := 0; i < count; i++ {
		str, err := p.parseBulkString()
		if err != nil {
			return nil, err
		}
		command = append(command, str)
	}
	return command, nil
}

// parseBulkString reads one "$<length>\r\n<data>\r\n" element.
func (p *Parser) parseBulkString() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}

	length, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return "", ErrInvalidSyntax
	}

	// Null bulk string ($-1): commands here don't distinguish null from
	// empty, so collapse it.
	if length == -1 {
		return "", nil
	}
	if length < 0 {
		return "", ErrInvalidSyntax
	}
	if length > MaxBulkLength {
		return "", ErrBulkTooLarge
	}

	// Data plus trailing CRLF in one read.
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		return "", err
	}
	if buf[length] != '\r' || buf[length+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:length]), nil
}
