package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	accountPrefix  = "/subscriptions/{sub}/resourceGroups/{rg}/providers/Microsoft.Automation/automationAccounts/{account}"
	insightsPrefix = "/subscriptions/{sub}/resourceGroups/{rg}/providers/Microsoft.Insights"
	// Jobs report Running for this many polls before completing.
	runningPolls = 2
)

var sampleRunbook = `param(
    [string]$VMName,
    [string]$ResourceGroupName
)
Write-Output "Cleaning temp files on $VMName"
Remove-Item -Path C:\Windows\Temp\* -Recurse -Force
`

type mockJob struct {
	Runbook    string            `json:"runbook"`
	Parameters map[string]string `json:"parameters"`
	polls      int
}

type state struct {
	mu           sync.Mutex
	jobs         map[string]*mockJob
	schedules    map[string]json.RawMessage
	jobSchedules map[string]json.RawMessage
	monitor      map[string]json.RawMessage
	incidents    map[string]string
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	s := &state{
		jobs:         map[string]*mockJob{},
		schedules:    map[string]json.RawMessage{},
		jobSchedules: map[string]json.RawMessage{},
		monitor:      map[string]json.RawMessage{},
		incidents:    map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET "+accountPrefix+"/runbooks", func(w http.ResponseWriter, _ *http.Request) {
		modified := time.Now().Add(-24 * time.Hour).UTC()
		writeJSON(w, http.StatusOK, map[string]any{
			"value": []map[string]any{{
				"name": "CleanTempFiles",
				"properties": map[string]any{
					"runbookType":      "PowerShell",
					"state":            "Published",
					"lastModifiedTime": modified,
				},
			}},
		})
	})
	mux.HandleFunc("GET "+accountPrefix+"/runbooks/{name}/content", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "CleanTempFiles" {
			writeJSON(w, http.StatusNotFound, armError("ResourceNotFound", "runbook not found"))
			return
		}
		w.Header().Set("Content-Type", "text/powershell")
		_, _ = w.Write([]byte(sampleRunbook))
	})

	mux.HandleFunc("PUT "+accountPrefix+"/jobs/{job}", s.createJob)
	mux.HandleFunc("GET "+accountPrefix+"/jobs/{job}", s.getJob)
	mux.HandleFunc("GET "+accountPrefix+"/jobs/{job}/streams", s.getStreams)
	mux.HandleFunc("PUT "+accountPrefix+"/schedules/{name}", s.storeIn(func() map[string]json.RawMessage { return s.schedules }))
	mux.HandleFunc("PUT "+accountPrefix+"/jobSchedules/{name}", s.storeIn(func() map[string]json.RawMessage { return s.jobSchedules }))

	mux.HandleFunc("GET "+insightsPrefix+"/{collection}/{name}", s.getMonitor)
	mux.HandleFunc("PUT "+insightsPrefix+"/{collection}/{name}", s.putMonitor)

	mux.HandleFunc("GET /api/now/table/incident/{sysID}", s.getIncident)
	mux.HandleFunc("PATCH /api/now/table/incident/{sysID}", s.patchIncident)

	logger := log.New(os.Stdout, "mock-azure ", log.LstdFlags|log.Lmicroseconds)
	server := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Printf("listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func (s *state) createJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Properties struct {
			Runbook struct {
				Name string `json:"name"`
			} `json:"runbook"`
			Parameters map[string]string `json:"parameters"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, armError("BadRequest", err.Error()))
		return
	}
	s.mu.Lock()
	s.jobs[r.PathValue("job")] = &mockJob{Runbook: body.Properties.Runbook.Name, Parameters: body.Properties.Parameters}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"name": r.PathValue("job"), "properties": map[string]string{"status": "New"}})
}

func (s *state) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[r.PathValue("job")]
	status := "Running"
	if ok {
		job.polls++
		if job.polls > runningPolls {
			status = "Completed"
		}
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, armError("ResourceNotFound", "job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": map[string]string{"status": status}})
}

func (s *state) getStreams(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[r.PathValue("job")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, armError("ResourceNotFound", "job not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value": []map[string]any{
			{"properties": map[string]string{"streamType": "Output", "summary": "Running " + job.Runbook}},
			{"properties": map[string]string{"streamType": "Output", "summary": "Done"}},
		},
	})
}

func (s *state) storeIn(target func() map[string]json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, armError("BadRequest", err.Error()))
			return
		}
		s.mu.Lock()
		target()[r.PathValue("name")] = body
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"name": r.PathValue("name")})
	}
}

func (s *state) getMonitor(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("collection") + "/" + r.PathValue("name")
	s.mu.Lock()
	_, ok := s.monitor[key]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, armError("ResourceNotFound", key+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.URL.Path})
}

func (s *state) putMonitor(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, armError("BadRequest", err.Error()))
		return
	}
	s.mu.Lock()
	s.monitor[r.PathValue("collection")+"/"+r.PathValue("name")] = body
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"id": r.URL.Path})
}

func (s *state) getIncident(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	desc := s.incidents[r.PathValue("sysID")]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]string{"sys_id": r.PathValue("sysID"), "description": desc}})
}

func (s *state) patchIncident(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.incidents[r.PathValue("sysID")] = body.Description
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"result": map[string]string{"sys_id": r.PathValue("sysID"), "description": body.Description}})
}

func armError(code, message string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": message}}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
