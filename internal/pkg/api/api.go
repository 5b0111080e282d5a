package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gethiox/midmx/internal/pkg/dmx"
	"github.com/gethiox/midmx/internal/pkg/learn"
	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/gethiox/midmx/internal/pkg/midi"
	"github.com/gethiox/midmx/internal/pkg/notify"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"github.com/gethiox/midmx/internal/pkg/server"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Backend is the set of server operations exposed over HTTP.
type Backend interface {
	StartLearn(channel int) (learn.Session, error)
	StartSceneLearn(name string) (learn.Session, error)
	CancelLearn() bool
	CancelSceneLearn() bool
	LearnState() []learn.Session
	Mappings() map[int]mapping.Binding
	RemoveMapping(channel int) (bool, error)
	ClearMappings()
	SetChannel(channel, value int) error
	Channels() []uint8
	Blackout()
	SaveScene(name, oscAddress string, values interface{}) error
	LoadScene(name string) error
	DeleteScene(name string) error
	Scenes() []scene.Scene
	ImportScenes(scenes []scene.Scene) error
	ArtNet() dmx.ArtNetConfig
	SetArtNet(cfg dmx.ArtNetConfig) error
	InjectSynthetic(ctx context.Context, s midi.Synthetic) error
	Hub() *notify.Hub
}

type API struct {
	backend Backend
	mux     *http.ServeMux
}

func New(backend Backend) *API {
	a := &API{backend: backend, mux: http.NewServeMux()}
	a.mux.HandleFunc("/api/channels", a.channels)
	a.mux.HandleFunc("/api/blackout", a.blackout)
	a.mux.HandleFunc("/api/mappings", a.mappings)
	a.mux.HandleFunc("/api/mappings/", a.mapping)
	a.mux.HandleFunc("/api/learn", a.learn)
	a.mux.HandleFunc("/api/scenes", a.scenes)
	a.mux.HandleFunc("/api/scenes/", a.scene)
	a.mux.HandleFunc("/api/scene-import", a.importScenes)
	a.mux.HandleFunc("/api/scene-learn", a.sceneLearn)
	a.mux.HandleFunc("/api/scene-load", a.loadScene)
	a.mux.HandleFunc("/api/artnet", a.artnet)
	a.mux.HandleFunc("/api/midi", a.midi)
	a.mux.HandleFunc("/api/events", a.events)
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Serve runs HTTP server until context is done.
func (a *API) Serve(ctx context.Context, address string) error {
	srv := &http.Server{Addr: address, Handler: a}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("http server listening", zap.String("address", address), logger.Info)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scene.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrInvalidFormat),
		errors.Is(err, dmx.ErrInvalidChannel),
		errors.Is(err, dmx.ErrInvalidConfig),
		errors.Is(err, server.ErrInvalidValue),
		errors.Is(err, learn.ErrInvalidTarget),
		errors.Is(err, mapping.ErrInvalidBinding),
		errors.Is(err, midi.ErrMalformedEvent),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Info(fmt.Sprintf("writing response failed: %s", err), logger.Debug)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Info(fmt.Sprintf("request failed: %s", err), logger.Error)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		return fmt.Errorf("%w: %s", errBadRequest, err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func levels(values []uint8) []int {
	var out = make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

func pathParam(r *http.Request, prefix string) string {
	return strings.TrimPrefix(r.URL.Path, prefix)
}

func (a *API) channels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, levels(a.backend.Channels()))
	case http.MethodPost:
		var req struct {
			Channel *int `json:"channel"`
			Value   *int `json:"value"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Channel == nil || req.Value == nil {
			writeError(w, fmt.Errorf("%w: channel and value are required", errBadRequest))
			return
		}
		if err := a.backend.SetChannel(*req.Channel, *req.Value); err != nil {
			writeError(w, err)
			return
		}
		ok(w)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) blackout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	a.backend.Blackout()
	ok(w)
}

func (a *API) mappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.backend.Mappings())
	case http.MethodDelete:
		a.backend.ClearMappings()
		ok(w)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) mapping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	channel, err := strconv.Atoi(pathParam(r, "/api/mappings/"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: channel is not a number", errBadRequest))
		return
	}
	removed, err := a.backend.RemoveMapping(channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (a *API) learn(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.backend.LearnState())
	case http.MethodPost:
		var req struct {
			Channel *int `json:"channel"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Channel == nil {
			writeError(w, fmt.Errorf("%w: channel is required", errBadRequest))
			return
		}
		session, err := a.backend.StartLearn(*req.Channel)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": a.backend.CancelLearn()})
	default:
		methodNotAllowed(w)
	}
}

type sceneRequest struct {
	Name          string           `json:"name"`
	OSCAddress    string           `json:"oscAddress"`
	ChannelValues interface{}      `json:"channelValues"`
	MidiMapping   *mapping.Binding `json:"midiMapping,omitempty"`
}

func (a *API) scenes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.backend.Scenes())
	case http.MethodPost:
		var req sceneRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := a.backend.SaveScene(req.Name, req.OSCAddress, req.ChannelValues); err != nil {
			writeError(w, err)
			return
		}
		ok(w)
	default:
		methodNotAllowed(w)
	}
}

// scene serves /api/scenes/{name}, any scene name is accepted.
func (a *API) scene(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		if err := a.backend.DeleteScene(pathParam(r, "/api/scenes/")); err != nil {
			writeError(w, err)
			return
		}
		ok(w)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) importScenes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req []sceneRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var scenes = make([]scene.Scene, 0, len(req))
	for _, sr := range req {
		var values = []int{}
		if sr.ChannelValues != nil {
			var err error
			values, err = scene.Normalize(sr.ChannelValues)
			if err != nil {
				writeError(w, fmt.Errorf("scene %q: %w", sr.Name, err))
				return
			}
		}
		scenes = append(scenes, scene.Scene{
			Name:          sr.Name,
			ChannelValues: values,
			OSCAddress:    sr.OSCAddress,
			MidiMapping:   sr.MidiMapping,
		})
	}
	if err := a.backend.ImportScenes(scenes); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) sceneLearn(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		session, err := a.backend.StartSceneLearn(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": a.backend.CancelSceneLearn()})
	default:
		methodNotAllowed(w)
	}
}

func (a *API) loadScene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.backend.LoadScene(req.Name); err != nil {
		writeError(w, err)
		return
	}
	ok(w)
}

func (a *API) artnet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.backend.ArtNet())
	case http.MethodPut, http.MethodPost:
		var cfg dmx.ArtNetConfig
		if err := readJSON(r, &cfg); err != nil {
			writeError(w, err)
			return
		}
		if err := a.backend.SetArtNet(cfg); err != nil {
			writeError(w, err)
			return
		}
		ok(w)
	default:
		methodNotAllowed(w)
	}
}

func (a *API) midi(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var s midi.Synthetic
	if err := readJSON(r, &s); err != nil {
		writeError(w, err)
		return
	}
	if err := a.backend.InjectSynthetic(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}
