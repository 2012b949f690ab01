package api

import "net/http"

// handleMeterLatest returns the most recent raw value for every broker
// tag seen this session. Dashboards poll this for an initial snapshot
// before switching to the websocket stream.
func (s *Server) handleMeterLatest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.commander.Snapshot())
}
