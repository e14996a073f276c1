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
	writeTimeout              = 5 * time.Second
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "-ERR max number of clients reached\r\n"
)

// serve starts the TCP server and blocks until shutdown.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// 1. CONNECTION LIMITING
	//    `connLimiter` is a buffered channel used as a semaphore. A non-blocking
	//    send is a try-acquire; when the buffer is full the connection is
	//    rejected immediately.
	//
	// 2. GRACEFUL SHUTDOWN
	//    A goroutine waits for SIGINT/SIGTERM (or app.shutdownCh in tests),
	//    closes the listener and waits for in-flight handlers, bounded by
	//    ShutdownTimeout.
	//
	// 3. ERROR PROPAGATION
	//    The shutdown goroutine reports its result on a channel that serve
	//    returns from.
	//
	addr := fmt.Sprintf(":%d", app.config.Port)

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
		defer signal.Stop(quit)

		select {
		case s := <-quit:
			app.logger.Info("caught signal", "signal", s.String(), "address", serverAddr)
		case <-app.shutdownCh:
		}

		app.logger.Info("shutting down server", "address", serverAddr)

		ctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()

		if err := ln.Close(); err != nil {
			shutdownError <- err
			return
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

	app.logger.Info("server starting", "address", serverAddr, "commands", app.router.Commands())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
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

			// A client that never reads must not stall the accept loop.
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))

			_, _ = io.WriteString(conn, errMaxConnectionsResponse)
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

// handleConnection runs the request/response loop for one client.
//
// Replies accumulate in a 4KB bufio.Writer and are flushed only once the
// parser has no pipelined request left, so a pipelined batch is answered in
// a single write.
func (app *application) handleConnection(conn net.Conn) {
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.connectionAccepted()

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Info("new connection", "remote_addr", remoteAddr)

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)

	// Replies to requests parsed before an error still reach the client.
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.IdleTimeout)); err != nil {
				app.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			switch {
			case err == io.EOF:
				app.logger.Info("client disconnected", "remote_addr", remoteAddr)
			case isProtocolError(err):
				app.logger.Error("parser error", "error", err, "remote_addr", remoteAddr)
				_ = app.writeErrorResponse(writer, err.Error())
			default:
				app.logger.Error("read error", "error", err, "remote_addr", remoteAddr)
			}
			return
		}

		app.router.Dispatch(app, writer, parts)

		if parser.Buffered() == 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := writer.Flush(); err != nil {
				app.logger.Error("failed to flush response", "error", err, "remote_addr", remoteAddr)
				return
			}
		}
	}
}

func isProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidSyntax) ||
		errors.Is(err, ErrLineTooLong) ||
		errors.Is(err, ErrBulkTooLarge) ||
		errors.Is(err, ErrArrayTooLong)
}
