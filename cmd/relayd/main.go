// Relayd is the standalone message relay for peerlink signaling.
//
// Serves the relay wire contract over plain HTTP with an in-memory record
// store. Records live only until they are consumed; the relay is a
// rendezvous mailbox, not an audit log. A WebSocket endpoint at /monitor
// streams every appended record for debugging.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/nkondo/peerlink/internal/relay"
	"github.com/nkondo/peerlink/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8787", "Listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink relay v%s", version))

	server := &http.Server{
		Addr:         *addr,
		Handler:      relay.NewServer(relay.NewStore()).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.LogWarning("shutdown: %v", err)
		}
	}()

	util.LogInfo("relay listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}
