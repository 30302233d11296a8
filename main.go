package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "territory.db", "SQLite database path")
	tuningPath := flag.String("tuning", "", "YAML tuning file (optional, defaults built in)")
	clientDir := flag.String("client", "", "Path to client directory (optional)")
	flag.Parse()

	cfg, err := LoadTuning(*tuningPath)
	if err != nil {
		log.Fatalf("load tuning: %v", err)
	}

	db, err := OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	diag := NewDiagnostics(db)
	defer diag.Stop()

	hub := NewHub(db, cfg, diag)
	go hub.Run()

	mux := SetupRoutes(hub, *clientDir)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
}
