/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payment certificate engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the document coordinator and janitor
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: certificates.db)
            Use ":memory:" for an in-memory database
  -docs     Directory for rendered certificate documents
  -janitor  Interval for sweeping stuck generation flags (0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for in-flight document renders
  4. Stop the janitor, close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/certificates.db" -docs="./data/documents"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - docgen/coordinator.go: Background document generation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/certificate-engine/api"
	"github.com/warp/certificate-engine/docgen"
	"github.com/warp/certificate-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "certificates.db", "SQLite database path")
	docsDir := flag.String("docs", "./documents", "directory for rendered documents")
	janitorInterval := flag.Duration("janitor", 10*time.Minute, "stuck-flag sweep interval (0 disables)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Document pipeline: renderer -> blob store -> coordinator
	coordinator := docgen.NewCoordinator(store, docgen.TabularRenderer{}, docgen.NewFSBlobStore(*docsDir))

	// Janitor frees generation flags left behind by dead workers
	janitor := docgen.NewJanitor(store)
	if *janitorInterval > 0 {
		janitor.CheckInterval = *janitorInterval
		janitor.Start()
		defer janitor.Stop()
	}

	// Initialize handler and router
	handler := api.NewHandler(store, coordinator)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Let in-flight document renders finish before the store closes.
	coordinator.Wait()

	log.Println("Server stopped")
}
