// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/swapvisor"
	"github.com/gdamore/swapvisor/proc"
)

// bulk deletions are detached from the request context
const deleteTimeout = 5 * time.Minute

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s      *swapvisor.Supervisor
	log    *swapvisor.Log
	r      *mux.Router
	user   string
	hash   []byte
	host   func() (proc.Host, error)
	logger logrus.FieldLogger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJsonCode(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonCode(w, http.StatusOK, v)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	h.writeJsonCode(w, e.Code, e)
}

func pollTime(r *http.Request) time.Duration {
	secs, err := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if err != nil || secs < 0 {
		return 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return time.Duration(secs) * time.Second
}

// notModified handles If-None-Match, waiting with watch when the client
// asked for a long poll.  It reports whether a 304 was sent.
func notModified(w http.ResponseWriter, r *http.Request, current int64, watch func(int64, time.Duration) int64) bool {
	tag := r.Header.Get("If-None-Match")
	if tag == "" {
		return false
	}
	old, err := strconv.ParseInt(tag, 10, 64)
	if err != nil {
		return false
	}
	if current == old && r.Header.Get(PollEtagHeader) == tag {
		current = watch(old, pollTime(r))
	}
	if current != old {
		return false
	}
	w.WriteHeader(http.StatusNotModified)
	return true
}

func statusInfo(st swapvisor.Status, host proc.Host) *StatusInfo {
	cfg := &st.Config
	info := &StatusInfo{
		ContainerName: cfg.ContainerName,
		TargetProcess: cfg.TargetProcess,
		Pid:           st.Pid,
		CgroupName:    cfg.CgroupName,
		MemoryLimit:   cfg.MemoryLimit.String(),
		SwapLimit:     cfg.SwapLimit.String(),
		SwapFile:      cfg.SwapPath(),
		SwapSize:      units.BytesSize(float64(cfg.SwapSize)),
		Swappiness:    st.Swappiness,
		LastUpdated:   st.Updated,
		Message:       st.Message,
		ErrorKind:     st.ErrorKind,
		SwapStatus:    string(st.SwapStatus),
		SwapDevice:    st.SwapDevice,
		SwapCreated:   NotAvailable,
		CgroupStatus:  string(st.CgroupStatus),
		Cgroup2:       st.Cgroup2,
		MemoryUsage:   NotAvailable,
		SwapUsage:     NotAvailable,
		Restarts:      st.Restarts,
		HostTotalRAM:  host.TotalRAM,
		HostTotalSwap: host.TotalSwap,
		HostFreeSwap:  host.FreeSwap,
		Started:       st.Started,
		etag:          strconv.FormatInt(st.Serial, 10),
	}
	if st.Error != "" {
		e := st.Error
		info.Error = &e
	}
	if !st.SwapCreated.IsZero() {
		info.SwapCreated = st.SwapCreated.Format(timeFormat)
	}
	if st.UsageValid {
		info.MemoryUsage = proc.Format(st.Memory)
		info.SwapUsage = proc.Format(st.Swap)
	}
	return info
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	state := h.s.State()
	if notModified(w, r, state.Serial(), state.WatchSerial) {
		return
	}
	state.Touch()
	host, err := h.host()
	if err != nil {
		h.logger.Debugf("Host totals unavailable: %v", err)
	}
	info := statusInfo(state.Snapshot(), host)
	w.Header().Set("Etag", info.etag)
	h.writeJson(w, info)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	_, id := h.log.GetRecords(0)
	if notModified(w, r, id, h.log.Watch) {
		return
	}
	recs, id := h.log.GetRecords(0)
	if recs == nil {
		recs = []swapvisor.LogRecord{}
	}
	w.Header().Set("Etag", strconv.FormatInt(id, 10))
	h.writeJson(w, recs)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.user == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) == nil
}

func (h *Handler) deleteSwap(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="swapvisor"`)
		h.writeError(w, &Error{http.StatusUnauthorized, "Authorization required"})
		return
	}
	detach := h.s.State().Snapshot().Config.DetachAllOnDelete
	if q := r.URL.Query().Get("detach_all"); q != "" {
		b, err := strconv.ParseBool(q)
		if err != nil {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad detach_all value"})
			return
		}
		detach = b
	}
	h.logger.Infof("Bulk swap file deletion requested by %s", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	rep := h.s.DeleteSwapFiles(ctx, detach)

	res := &DeleteResult{Deleted: rep.Deleted, Errors: rep.Errors}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if rep.OK() {
		res.Message = "Swap file deletion completed successfully."
		h.writeJson(w, res)
		return
	}
	res.Message = "Swap file deletion completed with errors."
	h.writeJsonCode(w, http.StatusInternalServerError, res)
}

// SetAuth requires HTTP basic auth, checked against a bcrypt hash, for
// the deletion endpoints.  An empty user disables the check.
func (h *Handler) SetAuth(user string, hash []byte) {
	h.user = user
	h.hash = hash
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns a Handler for s, serving the records kept by log.
func NewHandler(s *swapvisor.Supervisor, log *swapvisor.Log, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := mux.NewRouter()
	h := &Handler{
		s:      s,
		log:    log,
		r:      r,
		host:   proc.HostTotals,
		logger: logger.WithField("component", "http"),
	}
	r.HandleFunc("/", h.getStatus).Methods("GET")
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/delete_all_swap", h.deleteSwap).Methods("POST")
	r.HandleFunc("/swap/delete", h.deleteSwap).Methods("POST")
	return h
}
