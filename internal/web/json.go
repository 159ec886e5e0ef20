package web

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/sweeney/dial-tester/internal/status"
)

// CyclesJSON is the /cycles.json document.
type CyclesJSON struct {
	Timestamp string             `json:"timestamp"`
	Count     int                `json:"count"`
	Cycles    []status.CycleJSON `json:"cycles"` // newest first
}

func formatCycles(snap status.Snapshot) []byte {
	recent := status.RecentJSON(snap)
	data, _ := json.MarshalIndent(CyclesJSON{
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Count:     len(recent),
		Cycles:    recent,
	}, "", "  ")
	return data
}
