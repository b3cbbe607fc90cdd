package main

import (
	"io"
	"strings"
)

// CommandHandler is the signature every command handler implements. The
// writer is typically a buffered writer wrapping the client connection.
type CommandHandler func(w io.Writer, args []string)

// Router maps command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

// NewRouter creates a new, empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]CommandHandler)}
}

// Handle registers a handler. Names are case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch finds the handler for a parsed command and executes it.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	app.metrics.TotalCommands.Add(1)

	commandName := strings.ToUpper(parts[0])
	handler, found := r.handlers[commandName]
	if !found {
		app.unknownCommandResponse(w, commandName)
		return
	}

	handler(w, parts[1:])
}

// unknownCommandResponse sends an unknown command error to the client.
func (app *application) unknownCommandResponse(w io.Writer, commandName string) {
	_ = app.writeErrorResponse(w, "ERR unknown command '"+commandName+"'")
}

// wrongNumberOfArgsResponse sends a wrong number of arguments error.
func (app *application) wrongNumberOfArgsResponse(w io.Writer, commandName string) {
	_ = app.writeErrorResponse(w, "ERR wrong number of arguments for '"+commandName+"' command")
}
