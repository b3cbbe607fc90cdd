// handlers.go implements general utility commands: PING, INFO, DEL, MEMORY
// and SAVE.

package main

import (
	"fmt"
	"io"
	"strings"
)

// handlePing handles the PING command.
// Syntax: PING
func (app *application) handlePing(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}

	_ = app.writeSimpleStringResponse(w, "PONG")
}

// handleInfo handles the INFO command.
// Syntax: INFO
//
// Reports server counters and store totals in the Redis INFO text format:
// CRLF-terminated key:value lines grouped into # sections.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) > 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	totalConns := app.metrics.TotalConnections.Load()
	totalCmds := app.metrics.TotalCommands.Load()
	activeConns := len(app.connLimiter)

	var b strings.Builder
	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", totalConns)
	fmt.Fprintf(&b, "connections_active:%d\r\n", activeConns)
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", totalCmds)
	b.WriteString("# Filters\r\n")
	fmt.Fprintf(&b, "filters_total:%d\r\n", app.store.Count())

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
//
// Removes the named filters. Missing keys are ignored. Returns the number of
// filters actually deleted.
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	count := 0
	for _, key := range args {
		if app.store.Delete(key) {
			count++
		}
	}

	if count > 0 {
		app.markDirty()
	}
	_ = app.writeIntegerResponse(w, count)
}

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	switch strings.ToUpper(args[0]) {
	case "USAGE":
		app.handleMemoryUsage(w, args[1:])
	default:
		_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", args[0]))
	}
}

// handleMemoryUsage handles MEMORY USAGE <key>.
//
// Reports the bytes backing a filter's bit array (the core's own capacity
// accounting) plus a fixed estimate for the entry's map and header overhead.
// Returns nil for missing keys, matching Redis semantics.
func (app *application) handleMemoryUsage(w io.Writer, args []string) {
	if len(args) != 1 {
		_ = app.writeErrorResponse(w, "ERR wrong number of arguments for 'MEMORY USAGE' command")
		return
	}

	// String header, entry struct, map bucket share.
	const entryOverhead = 96

	key := args[0]
	var size int64
	found := app.store.View(key, func(e *filterEntry) {
		size = int64(len(key)) + e.filter.MemorySize() + entryOverhead
	})

	if !found {
		_ = app.writeNilResponse(w)
		return
	}

	_ = app.writeIntegerResponse64(w, size)
}

// handleSave handles the SAVE command.
// Syntax: SAVE
//
// Triggers a background snapshot. The client gets an immediate answer;
// completion is reported in the server logs. The CAS guard shared with the
// maintenance loop ensures a single save at a time.
func (app *application) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}

	if !app.config.persistence {
		_ = app.writeErrorResponse(w, "ERR persistence is disabled")
		return
	}

	if !app.backgroundSave("save command") {
		_ = app.writeErrorResponse(w, "ERR background save already in progress")
		return
	}

	_ = app.writeSimpleStringResponse(w, "Background saving started")
}
