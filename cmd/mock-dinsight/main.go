// Command mock-dinsight runs a standalone mock of the D'insight backend API
// for local harness runs of stream-replay.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dinsight-analytics/stream-replay/internal/mockdinsight"
)

func main() {
	fs := flag.NewFlagSet("mock-dinsight", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "Listen address")
	baselineID := fs.Int64("baseline-id", 1, "Baseline id to pre-seed as ready")
	baselinePoints := fs.Int("baseline-points", 100, "Coordinate points on the pre-seeded baseline")
	readyAfter := fs.Int("ready-after-polls", 3, "Empty dinsight polls before an analyzed upload becomes ready")
	_ = fs.Parse(os.Args[1:])

	srv := mockdinsight.New()
	srv.SetReadyAfterPolls(*readyAfter)

	x := make([]float64, *baselinePoints)
	y := make([]float64, *baselinePoints)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(-i)
	}
	srv.SeedBaseline(*baselineID, x, y)

	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("mock dinsight backend listening on %s (baseline id=%d)", *addr, *baselineID)

	hs := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := hs.ListenAndServe(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "mock-dinsight: %v\n", err)
		os.Exit(1)
	}
}
