package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "-ERR max number of clients reached\r\n"
)

// serve starts the TCP server and blocks until shutdown.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// Three coordination problems meet here:
	//
	// 1. CONNECTION LIMITING. A buffered channel acts as a semaphore. A
	//    non-blocking send is a try-acquire: when the buffer is full the
	//    connection is rejected immediately rather than queued, protecting
	//    the server from resource exhaustion.
	//
	// 2. GRACEFUL SHUTDOWN. A goroutine waits for SIGINT/SIGTERM, closes the
	//    listener to stop new connections, then waits for in-flight handlers
	//    (tracked by the WaitGroup) under a timeout so a stuck client cannot
	//    hang shutdown forever.
	//
	// 3. ERROR PROPAGATION. The shutdown goroutine reports back over a
	//    channel so the main loop can return a meaningful error.
	//
	addr := fmt.Sprintf(":%d", app.config.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	app.listener = ln

	serverAddr := ln.Addr().String()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	shutdownError := make(chan error)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("caught signal", "signal", s.String(), "address", serverAddr)
		app.logger.Info("shutting down server", "address", serverAddr)

		ctx, cancel := context.WithTimeout(context.Background(), app.config.shutdownTimeout)
		defer cancel()

		if err := ln.Close(); err != nil {
			shutdownError <- err
		}

		wgDone := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(wgDone)
		}()

		select {
		case <-wgDone:
			shutdownError <- nil
		case <-ctx.Done():
			shutdownError <- ctx.Err()
		}
	}()

	app.logger.Info("server starting", "address", serverAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break // Normal shutdown path
			}
			app.logger.Error("failed to accept connection", "error", err, "address", serverAddr)
			continue
		}

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.logger.Info("rejecting connection, limit reached", "remote_addr", conn.RemoteAddr().String())

			// Strict deadline so a client that never reads cannot pin the
			// accept loop (slowloris).
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))
			_, _ = conn.Write([]byte(errMaxConnectionsResponse))
			_ = conn.Close()
		}
	}

	err = <-shutdownError
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("server stopped with error", "error", err, "address", serverAddr)
		return err
	}

	app.logger.Info("server stopped gracefully", "address", serverAddr)
	return nil
}

// handleConnection manages the lifecycle of a single client connection.
func (app *application) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// Responses accumulate in a bufio.Writer so several responses can share
	// one write syscall. The flush is "smart": after dispatching a command,
	// we only flush when the parser's buffer is empty. If the client
	// pipelined several commands in one TCP segment, the buffer still holds
	// data, and we keep processing, batching all their responses into a
	// single flush at the end of the burst.
	//
	// The deferred cleanup releases the semaphore slot, decrements the
	// shutdown WaitGroup, flushes whatever is buffered (responses to
	// commands that succeeded before a mid-pipeline parse error must still
	// reach the client), and closes the connection.
	//
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.TotalConnections.Add(1)

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Info("new connection", "remote_addr", remoteAddr)

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
				app.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			if err == io.EOF {
				app.logger.Info("client disconnected", "remote_addr", remoteAddr)
			} else {
				app.logger.Error("parser error", "error", err, "remote_addr", remoteAddr)
			}
			return
		}

		app.router.Dispatch(app, writer, parts)

		if parser.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				app.logger.Error("failed to flush response", "error", err, "remote_addr", remoteAddr)
				return
			}
		}
	}
}
