package main

import (
	"io"
	"strings"
)

// CommandHandler defines the function signature for a command handler.
// Handlers write their RESP reply to w, which is typically a buffered writer
// wrapping the connection.
type CommandHandler func(w io.Writer, args []string)

// Router holds the mapping of command names to their handlers.
type Router struct {
	handlers map[string]CommandHandler
}

// NewRouter creates a new, empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers a handler. Names are case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Commands returns the number of registered commands.
func (r *Router) Commands() int {
	return len(r.handlers)
}

// Dispatch finds the handler for a given command and executes it.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	commandName := strings.ToUpper(parts[0])
	args := parts[1:]

	handler, found := r.handlers[commandName]
	if !found {
		// Unknown names share one label to keep metric cardinality bounded.
		app.metrics.commandDispatched("unknown")
		app.metrics.commandFailed("unknown")
		app.unknownCommandResponse(w, commandName)
		return
	}

	app.metrics.commandDispatched(commandName)

	tracker := replyTracker{Writer: w}
	handler(&tracker, args)
	if tracker.failed {
		app.metrics.commandFailed(commandName)
	}
}

// replyTracker records whether a handler answered with a RESP error.
type replyTracker struct {
	io.Writer
	started bool
	failed  bool
}

func (t *replyTracker) Write(p []byte) (int, error) {
	if !t.started && len(p) > 0 {
		t.started = true
		t.failed = p[0] == '-'
	}
	return t.Writer.Write(p)
}
