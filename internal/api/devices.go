package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eversmart/homecore/internal/audit"
	"github.com/eversmart/homecore/internal/bridge"
	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/hub"
)

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if d.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	if err := s.devices.Create(r.Context(), &d); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidKind):
			writeBadRequest(w, err.Error())
		case errors.Is(err, device.ErrExists):
			writeConflict(w, "device already exists")
		default:
			s.logger.Error("creating device", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.recordAudit(r, audit.ActionCreate, audit.EntityDevice, d.ID, map[string]any{
		"name": d.Name,
		"kind": string(d.Kind),
	})
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("fetching device", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies a partial update to a device's metadata.
// Only name, room, and tag can be patched; kind and attributes are
// owned by the broker feed.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("fetching device", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	var patch struct {
		Name *string `json:"name"`
		Room *string `json:"room"`
		Tag  *string `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			writeBadRequest(w, "name cannot be empty")
			return
		}
		d.Name = *patch.Name
	}
	if patch.Room != nil {
		d.Room = *patch.Room
	}
	if patch.Tag != nil {
		d.Tag = *patch.Tag
	}

	if err := s.devices.Update(r.Context(), d); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("updating device", "device_id", id, "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	s.recordAudit(r, audit.ActionUpdate, audit.EntityDevice, d.ID, nil)
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting device", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r, audit.ActionDelete, audit.EntityDevice, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// commandRequest is the body of POST /api/devices/{id}/command.
type commandRequest struct {
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
}

// handleDeviceCommand sends a write request to the device's broker tag.
//
// The command is accepted, not confirmed: the authoritative state change
// arrives later as a tag update on the event stream. While the broker
// session is down commands are declined with 409 rather than queued.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Attribute == "" {
		writeBadRequest(w, "attribute is required")
		return
	}

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("fetching device", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	if err := s.commander.SendCommand(d.Tag, req.Attribute, req.Value); err != nil {
		switch {
		case errors.Is(err, bridge.ErrNotConnected):
			writeConflict(w, "broker not connected")
		case errors.Is(err, bridge.ErrUnknownCommand), errors.Is(err, bridge.ErrNoTag):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("sending device command",
				"device_id", id, "attribute", req.Attribute, "error", err)
			writeInternalError(w, "failed to send command")
		}
		return
	}

	s.recordAudit(r, audit.ActionCommand, audit.EntityDevice, d.ID, map[string]any{
		"attribute": req.Attribute,
		"value":     req.Value,
	})

	s.events.Publish(bridge.EventGroup, hub.Event{
		Kind:      hub.KindDeviceUpdate,
		DeviceID:  d.ID,
		Attribute: req.Attribute,
		Value:     req.Value,
		Status:    "accepted",
		Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": d.ID,
		"attribute": req.Attribute,
	})
}
