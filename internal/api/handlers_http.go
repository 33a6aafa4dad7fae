package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"parkledger/internal/export"
	"parkledger/internal/models"

	"github.com/gorilla/mux"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type bookingOp func(ctx context.Context, bookingID int64, requesterID string) error

var requests = newRequestValidator()

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	var body createBookingRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	booking, err := s.ledger.AllocateAndBook(r.Context(), body.LotID, requester, body.VehicleRef, body.EntryTime, body.ExitTime)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}

	bookings, err := s.ledger.GetUserBookings(r.Context(), requester)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	booking, err := s.ledger.GetBooking(r.Context(), id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if booking.RequesterID != requester {
		writeError(w, http.StatusForbidden, "requester does not own the booking")
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleReleaseBooking(w http.ResponseWriter, r *http.Request) {
	s.finishBooking(w, r, s.ledger.ReleaseBooking, models.StatusCompleted)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	s.finishBooking(w, r, s.ledger.CancelBooking, models.StatusCancelled)
}

func (s *HTTPServer) finishBooking(w http.ResponseWriter, r *http.Request, op bookingOp, status string) {
	requester, ok := requireRequester(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := op(r.Context(), id, requester); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (s *HTTPServer) handleListLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.lots.ListLots(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if lots == nil {
		lots = []*models.Lot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (s *HTTPServer) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var body createLotRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	lot := &models.Lot{
		ID:           body.ID,
		Name:         body.Name,
		Address:      body.Address,
		Pincode:      body.Pincode,
		PricePerHour: body.PricePerHour,
		Capacity:     body.Capacity,
		Spots:        body.Spots,
	}
	if err := s.lots.CreateLot(r.Context(), lot); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

func (s *HTTPServer) handleGetLot(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	lot, err := s.lots.GetLot(r.Context(), lotID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

func (s *HTTPServer) handleUpdateRate(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	var body updateRateRequest
	if !decodeAndValidate(w, r, &body) {
		return
	}

	if err := s.lots.UpdateRate(r.Context(), lotID, *body.PricePerHour); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": lotID, "price_per_hour": *body.PricePerHour})
}

func (s *HTTPServer) handleDeleteLot(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	if err := s.lots.DeleteLot(r.Context(), lotID); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleIntervals(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	intervals, err := s.ledger.ListActiveIntervalsForLot(r.Context(), lotID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if intervals == nil {
		intervals = []models.SpotInterval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lot_id": lotID, "intervals": intervals})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}

	from, errFrom := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	to, errTo := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil {
		writeError(w, http.StatusBadRequest, "from and to must be RFC3339 timestamps")
		return
	}

	availability, err := s.ledger.Availability(r.Context(), lotID, models.NewInterval(from, to))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	lotID, ok := pathID(w, r, "lotID")
	if !ok {
		return
	}
	if s.reports == nil {
		writeError(w, http.StatusNotImplemented, "exports are disabled")
		return
	}

	var buf bytes.Buffer
	if err := s.reports.WriteLotReport(r.Context(), lotID, &buf); err != nil {
		s.writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(lotID, time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func requireRequester(w http.ResponseWriter, r *http.Request) (string, bool) {
	requester := RequesterFrom(r.Context())
	if requester == "" {
		writeError(w, http.StatusUnauthorized, errMissingRequester.Error())
		return "", false
	}
	return requester, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	if err := requests.Struct(dst); err != nil {
		var fields FieldErrors
		if errors.As(err, &fields) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
