package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// Register wires /healthz and /readyz onto the given mux. Liveness follows
// refresh recency; readiness flips once the first snapshot is installed.
func Register(mux *http.ServeMux, tracker *Tracker, pollInterval time.Duration) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), pollInterval) {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	})
}

func writeJSON(w http.ResponseWriter, status int, payload Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
