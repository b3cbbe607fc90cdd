package main

// commands creates a new router and registers all the application's command
// handlers. This is the single source of truth for what the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic Commands
	router.Handle("PING", app.handlePing)
	router.Handle("DEL", app.handleDel)
	router.Handle("MEMORY", app.handleMemory)

	// Persistence Control
	router.Handle("SAVE", app.handleSave)

	// Metrics
	router.Handle("INFO", app.handleInfo)

	// Bloom Filters
	router.Handle("BF.RESERVE", app.handleBFReserve)
	router.Handle("BF.ADD", app.handleBFAdd)
	router.Handle("BF.MADD", app.handleBFMAdd)
	router.Handle("BF.EXISTS", app.handleBFExists)
	router.Handle("BF.MEXISTS", app.handleBFMExists)
	router.Handle("BF.INFO", app.handleBFInfo)

	return router
}
