// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmesh/checkpointd/internal/checkpointapi"
	"github.com/agentmesh/checkpointd/internal/config"
	"github.com/agentmesh/checkpointd/internal/ledger"
	"github.com/agentmesh/checkpointd/internal/recovery"
	"github.com/agentmesh/checkpointd/internal/runtimeEnv"
	"github.com/agentmesh/checkpointd/internal/taskmanager"
	"github.com/agentmesh/checkpointd/pkg/backend"
	"github.com/agentmesh/checkpointd/pkg/backend/s3backend"
	"github.com/agentmesh/checkpointd/pkg/log"
	"github.com/agentmesh/checkpointd/pkg/metrics"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// entity is one CRDT task list host under management: its façade, and the
// last payload submitted to it, used as the timer tick's payload source.
type entity struct {
	mu      sync.RWMutex
	facade  *checkpointapi.Facade
	payload []byte
}

func (e *entity) setPayload(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payload = p
}

func (e *entity) getPayload() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payload
}

// host is the process-wide registry of managed entities. It supplies the
// taskmanager.Manager its active-set and payload-source callbacks, and
// backs the diagnostic HTTP surface.
type host struct {
	mu       sync.RWMutex
	entities map[string]*entity
	ledger   *ledger.Ledger
}

func newHost(l *ledger.Ledger) *host {
	return &host{entities: make(map[string]*entity), ledger: l}
}

func (h *host) active() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.entities))
	for id := range h.entities {
		out[id] = true
	}
	return out
}

func (h *host) payloadFor(entityID string) []byte {
	h.mu.RLock()
	e, ok := h.entities[entityID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.getPayload()
}

func (h *host) get(entityID string) (*entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entities[entityID]
	return e, ok
}

func (h *host) record(entityID string, kind ledger.EventKind, mutationCount uint64, detail string) {
	if h.ledger == nil {
		return
	}
	if err := h.ledger.RecordEvent(entityID, kind, mutationCount, detail); err != nil {
		log.Warnf("checkpointd: ledger record %s for %q: %v", kind, entityID, err)
	}
}

func newBackend(cfg schema.BackendConfig) (backend.Backend, error) {
	switch cfg.Kind {
	case "", "file":
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("checkpointd: create backend root %q: %w", cfg.Path, err)
		}
		return backend.NewFsBackend(cfg.Path)
	case "s3":
		return s3backend.New(context.Background(), s3backend.Config{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("checkpointd: unknown backend kind %q", cfg.Kind)
	}
}

func decodeRaw(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	var v json.RawMessage
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("checkpointd: decode snapshot payload: %w", err)
	}
	return v, nil
}

func migrateIdentity(payload []byte) ([]byte, error) {
	return payload, nil
}

// bootstrapEntity recovers entityID's startup state and registers it with
// h and the taskmanager.
func bootstrapEntity(ctx context.Context, b backend.Backend, policy schema.PersistencePolicy, root, entityID string, h *host, tm *taskmanager.Manager) error {
	result, err := recovery.RecoverTaskListStartup[json.RawMessage](
		ctx, b, policy, root, entityID, json.RawMessage("null"), decodeRaw, migrateIdentity)
	if err != nil {
		return fmt.Errorf("checkpointd: recover entity %q: %w", entityID, err)
	}

	log.Infof("checkpointd: entity %q recovered: outcome=%s degraded=%v", entityID, result.Recovery.Outcome, result.Recovery.Degraded)
	h.record(entityID, ledger.EventRecovered, 0, string(result.Recovery.Outcome))

	e := &entity{facade: checkpointapi.New(b, policy, entityID, result.Recovery), payload: result.Value}
	h.mu.Lock()
	h.entities[entityID] = e
	h.mu.Unlock()
	tm.RegisterFacade(entityID, e.facade)
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func (h *host) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	contracts := make(map[string]checkpointapi.PersistenceObservabilityContract, len(h.entities))
	for id, e := range h.entities {
		contracts[id] = e.facade.ObservabilityContract()
	}
	h.mu.RUnlock()
	writeJSON(rw, http.StatusOK, contracts)
}

func (h *host) handlePutEntity(rw http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["id"]
	e, ok := h.get(entityID)
	if !ok {
		http.Error(rw, fmt.Sprintf("unknown entity %q", entityID), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	e.setPayload(body)
	outcome, err := e.facade.RecordMutationAndMaybeCheckpoint(r.Context(), body)
	if err != nil {
		log.Errorf("checkpointd: checkpoint entity %q: %v", entityID, err)
		h.record(entityID, ledger.EventDegradedFallback, 0, err.Error())
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if outcome == checkpointapi.AutomaticPersisted {
		h.record(entityID, ledger.EventPersisted, 0, "automatic")
	} else {
		h.record(entityID, ledger.EventSkipped, 0, string(outcome))
	}

	writeJSON(rw, http.StatusAccepted, map[string]string{"outcome": string(outcome)})
}

func (h *host) handleGetEntity(rw http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["id"]
	e, ok := h.get(entityID)
	if !ok {
		http.Error(rw, fmt.Sprintf("unknown entity %q", entityID), http.StatusNotFound)
		return
	}

	raw, err := e.facade.LoadLatest(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Write(raw)
}

func (h *host) handleExplicitCheckpoint(rw http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["id"]
	e, ok := h.get(entityID)
	if !ok {
		http.Error(rw, fmt.Sprintf("unknown entity %q", entityID), http.StatusNotFound)
		return
	}

	outcome, err := e.facade.RequestExplicitCheckpoint(r.Context(), e.getPayload())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if outcome == checkpointapi.ExplicitPersisted {
		h.record(entityID, ledger.EventPersisted, 0, "explicit")
	}
	writeJSON(rw, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func main() {
	var flagGops bool
	var flagConfigFile, flagEntities string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.StringVar(&flagEntities, "entities", "default", "Comma-separated list of entity ids this process recovers and manages")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)
	metrics.Register()

	b, err := newBackend(config.Keys.Backend)
	if err != nil {
		log.Fatal(err)
	}

	var led *ledger.Ledger
	if config.Keys.Ledger.Enabled {
		led, err = ledger.Open(config.Keys.Ledger.DSN)
		if err != nil {
			log.Fatal(err)
		}
	}

	h := newHost(led)

	tm, err := taskmanager.New(config.Keys.Backend.Path, int(config.Keys.Persistence.Retention.CheckpointsToKeep), h.active, h.payloadFor)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for _, entityID := range strings.Split(flagEntities, ",") {
		entityID = strings.TrimSpace(entityID)
		if entityID == "" {
			continue
		}
		if err := bootstrapEntity(ctx, b, config.Keys.Persistence, config.Keys.Backend.Path, entityID, h, tm); err != nil {
			log.Fatal(err)
		}
	}

	if err := tm.Start(config.Keys.Schedule); err != nil {
		log.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/entities/{id}", h.handleGetEntity).Methods(http.MethodGet)
	r.HandleFunc("/entities/{id}", h.handlePutEntity).Methods(http.MethodPut)
	r.HandleFunc("/entities/{id}/checkpoint", h.handleExplicitCheckpoint).Methods(http.MethodPost)

	var wg sync.WaitGroup
	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      r,
		Addr:         config.Keys.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("checkpointd diagnostic server listening at %s...", config.Keys.Addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")

		server.Shutdown(context.Background())

		h.mu.RLock()
		for entityID, e := range h.entities {
			result, err := e.facade.GracefulShutdown(context.Background(), e.getPayload())
			if err != nil {
				log.Errorf("checkpointd: graceful shutdown for %q: %v", entityID, err)
				continue
			}
			if result == checkpointapi.ShutdownCheckpointPersisted {
				h.record(entityID, ledger.EventPersisted, 0, "shutdown")
			}
		}
		h.mu.RUnlock()

		if err := tm.Shutdown(); err != nil {
			log.Warnf("checkpointd: taskmanager shutdown: %v", err)
		}
		if led != nil {
			led.Close()
		}
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Print("Gracefull shutdown completed!")
}
