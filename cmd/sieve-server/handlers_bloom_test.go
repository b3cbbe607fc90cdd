package main

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
)

// testClient dials the running test server and returns a sendCommand helper
// plus a helper for reading the body of a RESP array response.
func testClient(t *testing.T, app *application) (func(string) string, func(int) string) {
	t.Helper()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	reader := bufio.NewReader(conn)

	sendCommand := func(cmd string) string {
		_, err := conn.Write([]byte(cmd + "\r\n"))
		if err != nil {
			t.Fatalf("failed to write command %q: %v", cmd, err)
		}
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read response for %q: %v", cmd, err)
		}
		return response
	}

	readArrayBody := func(count int) string {
		var result strings.Builder
		for i := 0; i < count; i++ {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed to read array element %d: %v", i, err)
			}
			result.WriteString(line)
		}
		return result.String()
	}

	return sendCommand, readArrayBody
}

// =============================================================================
// BF.RESERVE Tests
// =============================================================================

func TestBFReserve(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	sendCommand, _ := testClient(t, app)

	t.Run("basic reserve", func(t *testing.T) {
		resp := sendCommand("BF.RESERVE reserved 0.01 1000")
		if resp != "+OK\r\n" {
			t.Errorf("expected +OK, got %q", resp)
		}
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		sendCommand("BF.RESERVE dup_reserve 0.01 1000")
		resp := sendCommand("BF.RESERVE dup_reserve 0.05 500")
		if resp != "-ERR filter already exists\r\n" {
			t.Errorf("expected already exists error, got %q", resp)
		}
	})

	t.Run("invalid error rate", func(t *testing.T) {
		for _, rate := range []string{"0", "1", "1.5", "-0.1", "notafloat"} {
			resp := sendCommand("BF.RESERVE bad_rate " + rate + " 1000")
			if resp != "-ERR error rate must be a float strictly between 0 and 1\r\n" {
				t.Errorf("rate %q: expected validation error, got %q", rate, resp)
			}
		}
	})

	t.Run("invalid capacity", func(t *testing.T) {
		for _, capacity := range []string{"0", "-5", "2.5", "notanint"} {
			resp := sendCommand("BF.RESERVE bad_capacity 0.01 " + capacity)
			if resp != "-ERR capacity must be a positive integer\r\n" {
				t.Errorf("capacity %q: expected validation error, got %q", capacity, resp)
			}
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.RESERVE onlykey 0.01")
		if resp != "-ERR wrong number of arguments for 'BF.RESERVE' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}

// =============================================================================
// BF.ADD Tests
// =============================================================================

func TestBFAdd(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	sendCommand, _ := testClient(t, app)

	t.Run("basic add single element", func(t *testing.T) {
		resp := sendCommand("BF.ADD bf_test_1 element1")
		if resp != ":1\r\n" {
			t.Errorf("expected :1, got %q", resp)
		}
	})

	t.Run("add duplicate returns 0", func(t *testing.T) {
		sendCommand("BF.ADD bf_test_2 duplicate_elem")
		resp := sendCommand("BF.ADD bf_test_2 duplicate_elem")
		if resp != ":0\r\n" {
			t.Errorf("expected :0 for duplicate, got %q", resp)
		}
	})

	t.Run("add auto-creates filter", func(t *testing.T) {
		sendCommand("BF.ADD autocreated item")
		resp := sendCommand("BF.EXISTS autocreated item")
		if resp != ":1\r\n" {
			t.Errorf("expected :1 after auto-create, got %q", resp)
		}
	})

	t.Run("add into reserved filter", func(t *testing.T) {
		sendCommand("BF.RESERVE reserved_add 0.001 5000")
		resp := sendCommand("BF.ADD reserved_add item")
		if resp != ":1\r\n" {
			t.Errorf("expected :1, got %q", resp)
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.ADD")
		if resp != "-ERR wrong number of arguments for 'BF.ADD' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}

		resp = sendCommand("BF.ADD keyonly")
		if resp != "-ERR wrong number of arguments for 'BF.ADD' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}

// =============================================================================
// BF.EXISTS Tests
// =============================================================================

func TestBFExists(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	sendCommand, _ := testClient(t, app)

	t.Run("element exists", func(t *testing.T) {
		sendCommand("BF.ADD bf_exists_test item1")
		resp := sendCommand("BF.EXISTS bf_exists_test item1")
		if resp != ":1\r\n" {
			t.Errorf("expected :1, got %q", resp)
		}
	})

	t.Run("element does not exist", func(t *testing.T) {
		sendCommand("BF.ADD bf_exists_test_2 item1")
		resp := sendCommand("BF.EXISTS bf_exists_test_2 nonexistent_item")
		if resp != ":0\r\n" {
			t.Errorf("expected :0 for non-existent item, got %q", resp)
		}
	})

	t.Run("non-existent key returns 0", func(t *testing.T) {
		resp := sendCommand("BF.EXISTS nonexistent_bf_key someitem")
		if resp != ":0\r\n" {
			t.Errorf("expected :0 for non-existent key, got %q", resp)
		}
	})

	t.Run("exists does not auto-create", func(t *testing.T) {
		before := app.store.Count()
		sendCommand("BF.EXISTS ghost_probe item")
		if app.store.Count() != before {
			t.Error("BF.EXISTS created a filter")
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.EXISTS keyonly")
		if resp != "-ERR wrong number of arguments for 'BF.EXISTS' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}

// =============================================================================
// BF.MADD Tests
// =============================================================================

func TestBFMAdd(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	sendCommand, readArrayBody := testClient(t, app)

	t.Run("basic madd multiple elements", func(t *testing.T) {
		header := sendCommand("BF.MADD bf_madd_1 elem1 elem2 elem3")
		if header != "*3\r\n" {
			t.Errorf("expected array header *3, got %q", header)
		}
		body := readArrayBody(3)
		expected := ":1\r\n:1\r\n:1\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}
	})

	t.Run("madd with duplicates in same call", func(t *testing.T) {
		header := sendCommand("BF.MADD bf_madd_2 dup dup dup")
		if header != "*3\r\n" {
			t.Errorf("expected array header *3, got %q", header)
		}
		body := readArrayBody(3)
		// First occurrence is 1, subsequent are 0
		expected := ":1\r\n:0\r\n:0\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}
	})

	t.Run("madd with previously existing elements", func(t *testing.T) {
		sendCommand("BF.ADD bf_madd_3 existing1")
		sendCommand("BF.ADD bf_madd_3 existing2")

		header := sendCommand("BF.MADD bf_madd_3 existing1 newelem existing2")
		if header != "*3\r\n" {
			t.Errorf("expected array header *3, got %q", header)
		}
		body := readArrayBody(3)
		// existing1=0, newelem=1, existing2=0
		expected := ":0\r\n:1\r\n:0\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}
	})

	t.Run("madd creates new filter", func(t *testing.T) {
		header := sendCommand("BF.MADD bf_madd_new a b c d e")
		if header != "*5\r\n" {
			t.Errorf("expected array header *5, got %q", header)
		}
		body := readArrayBody(5)
		expected := ":1\r\n:1\r\n:1\r\n:1\r\n:1\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}

		// Verify with BF.EXISTS
		resp := sendCommand("BF.EXISTS bf_madd_new c")
		if resp != ":1\r\n" {
			t.Errorf("expected :1, got %q", resp)
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.MADD keyonly")
		if resp != "-ERR wrong number of arguments for 'BF.MADD' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}

// =============================================================================
// BF.MEXISTS Tests
// =============================================================================

func TestBFMExists(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	sendCommand, readArrayBody := testClient(t, app)

	t.Run("mexists mixed results", func(t *testing.T) {
		// Setup: Add "apple" and "banana"
		sendCommand("BF.MADD fruits apple banana")
		readArrayBody(2) // Consume MADD response

		// Check: apple(yes), cherry(no), banana(yes) -> [1, 0, 1]
		header := sendCommand("BF.MEXISTS fruits apple cherry banana")
		if header != "*3\r\n" {
			t.Errorf("expected *3 header, got %q", header)
		}
		body := readArrayBody(3)
		expected := ":1\r\n:0\r\n:1\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}
	})

	t.Run("mexists non-existent key", func(t *testing.T) {
		// Should return all zeros
		header := sendCommand("BF.MEXISTS ghost_key a b")
		if header != "*2\r\n" {
			t.Errorf("expected *2 header, got %q", header)
		}
		body := readArrayBody(2)
		expected := ":0\r\n:0\r\n"
		if body != expected {
			t.Errorf("expected %q, got %q", expected, body)
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.MEXISTS keyonly")
		if resp != "-ERR wrong number of arguments for 'BF.MEXISTS' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}

// =============================================================================
// Empty Item Tests
// =============================================================================

// TestEmptyItemRejected sends zero-length bulk-string items over raw RESP.
// Inline commands cannot express an empty argument, but the array format can,
// so the wire is the only honest way to exercise this path. The server must
// answer with an error and keep the connection (and the process) alive.
func TestEmptyItemRejected(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	sendRaw := func(raw string) string {
		if _, err := conn.Write([]byte(raw)); err != nil {
			t.Fatalf("failed to write %q: %v", raw, err)
		}
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read response for %q: %v", raw, err)
		}
		return response
	}

	const wantErr = "-ERR item cannot be empty\r\n"

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "BF.ADD empty item",
			raw:  "*3\r\n$6\r\nBF.ADD\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name: "BF.EXISTS empty item",
			raw:  "*3\r\n$9\r\nBF.EXISTS\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name: "BF.MADD empty item among valid ones",
			raw:  "*4\r\n$7\r\nBF.MADD\r\n$1\r\nk\r\n$1\r\na\r\n$0\r\n\r\n",
		},
		{
			name: "BF.MEXISTS empty item among valid ones",
			raw:  "*4\r\n$10\r\nBF.MEXISTS\r\n$1\r\nk\r\n$1\r\na\r\n$0\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sendRaw(tt.raw)
			if resp != wantErr {
				t.Errorf("expected %q, got %q", wantErr, resp)
			}
		})
	}

	// The rejection must be all-or-nothing: the valid item sent alongside the
	// empty one in BF.MADD must not have been added.
	resp := sendRaw("*3\r\n$9\r\nBF.EXISTS\r\n$1\r\nk\r\n$1\r\na\r\n")
	if resp != ":0\r\n" {
		t.Errorf("partial MADD applied before rejection: got %q", resp)
	}

	// And the connection is still serving.
	resp = sendRaw("PING\r\n")
	if resp != "+PONG\r\n" {
		t.Errorf("connection dead after rejections: got %q", resp)
	}
}

// =============================================================================
// BF.INFO Tests
// =============================================================================

func TestBFInfo(t *testing.T) {
	app := newTestApp(t)

	go func() { _ = app.serve() }()
	<-app.readyCh
	defer func() { _ = app.listener.Close() }()

	conn, err := net.Dial("tcp", app.listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)

	sendCommand := func(cmd string) string {
		_, err := conn.Write([]byte(cmd + "\r\n"))
		if err != nil {
			t.Fatalf("failed to write command %q: %v", cmd, err)
		}
		response, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read response for %q: %v", cmd, err)
		}
		return response
	}

	// readBulkBody reads the payload of a bulk string response whose
	// "$<len>\r\n" header line was already consumed.
	readBulkBody := func(header string) string {
		length, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(header, "$"), "\r\n"))
		if err != nil {
			t.Fatalf("bad bulk header %q: %v", header, err)
		}
		buf := make([]byte, length+2) // payload plus trailing CRLF
		if _, err := io.ReadFull(reader, buf); err != nil {
			t.Fatalf("failed to read bulk body: %v", err)
		}
		return string(buf[:length])
	}

	t.Run("info on reserved filter", func(t *testing.T) {
		sendCommand("BF.RESERVE info_test 0.01 1000")

		header := sendCommand("BF.INFO info_test")
		if !strings.HasPrefix(header, "$") {
			t.Fatalf("expected bulk string response, got %q", header)
		}
		body := readBulkBody(header)

		// 1000 elements at a 1% target rate derive to 9585 bits and 7
		// hash rounds.
		for _, want := range []string{
			"error_rate:0.01\r\n",
			"capacity:1000\r\n",
			"hashes:7\r\n",
			"bits:9585\r\n",
			"memory_bytes:1200\r\n",
		} {
			if !strings.Contains(body, want) {
				t.Errorf("BF.INFO body missing %q:\n%s", want, body)
			}
		}
	})

	t.Run("missing key is an error", func(t *testing.T) {
		resp := sendCommand("BF.INFO no_such_key")
		if resp != "-ERR no such filter\r\n" {
			t.Errorf("expected no such filter error, got %q", resp)
		}
	})

	t.Run("wrong number of arguments", func(t *testing.T) {
		resp := sendCommand("BF.INFO")
		if resp != "-ERR wrong number of arguments for 'BF.INFO' command\r\n" {
			t.Errorf("expected wrong args error, got %q", resp)
		}
	})
}
