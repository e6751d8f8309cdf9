package main

import (
	"context"
	"log"
	"time"

	"github.com/protohackers/speed-daemon/internal/store"
)

// runDemoSource feeds a synthetic pair of cameras on a single road,
// standing in for real hardware so the ticket pipeline (and the admin
// plane's live feed) can be exercised without a serial ALPR device or
// protocol-speaking camera clients. Mirrors the teacher's demo ECU/GPS
// providers: a fixed, repeating data source selected by -demo instead
// of a real one.
func runDemoSource(ctx context.Context, st *store.Store) {
	const road = 7
	const limit = 60
	const mile1 = 0
	const mile2 = 1

	st.SetLimit(road, limit)
	log.Printf("[demo] synthetic cameras active on road %d (mile %d and %d, limit %d mph)", road, mile1, mile2, limit)

	plates := []string{"DEMO001", "DEMO002", "DEMO003"}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var ts uint32
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			plate := plates[i%len(plates)]
			i++

			st.Record(store.Observation{Plate: plate, Road: road, Mile: mile1, Timestamp: ts})
			ts += 30 // 1 mile in 30s: 120mph, well over the limit
			st.Record(store.Observation{Plate: plate, Road: road, Mile: mile2, Timestamp: ts})
			ts += 40
		}
	}
}
