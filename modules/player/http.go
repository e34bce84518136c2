package player

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zachfi/rtpcast/pkg/resolver"
	"github.com/zachfi/rtpcast/pkg/shoutcast"
	"github.com/zachfi/rtpcast/pkg/transcoder"
)

// RegisterRoutes mounts the playback control endpoints under /player.
func (p *Player) RegisterRoutes(router *mux.Router) {
	sub := router.PathPrefix("/player").Subrouter()
	sub.HandleFunc("/play", p.handlePlay).Methods(http.MethodPost)
	sub.HandleFunc("/pause", p.handlePause).Methods(http.MethodPost)
	sub.HandleFunc("/resume", p.handleResume).Methods(http.MethodPost)
	sub.HandleFunc("/stop", p.handleStop).Methods(http.MethodPost)
	sub.HandleFunc("/disconnect", p.handleDisconnect).Methods(http.MethodPost)
	sub.HandleFunc("/status", p.handleStatus).Methods(http.MethodGet)
}

func (p *Player) handlePlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var err error
	switch {
	case q.Get("file") != "":
		err = p.PlayFile(ctx, q.Get("file"))
	case q.Get("url") != "":
		err = p.PlayResolvedURL(ctx, q.Get("url"))
	case q.Get("stream") != "":
		var stream *shoutcast.Stream
		stream, err = shoutcast.Open(ctx, q.Get("stream"), *p.logger)
		if err != nil {
			break
		}
		stream.MetadataCallbackFunc = func(m *shoutcast.Metadata) {
			p.logger.Info("now playing", "title", m.StreamTitle)
		}
		err = p.PlayStream(ctx, stream, true)
	default:
		err = ErrInvalidArgument
	}

	if err != nil {
		p.writeError(w, err)
		return
	}
	p.writeStatus(w, http.StatusAccepted)
}

func (p *Player) handlePause(w http.ResponseWriter, _ *http.Request) {
	p.Pause()
	p.writeStatus(w, http.StatusOK)
}

func (p *Player) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := p.Resume(r.Context()); err != nil {
		p.writeError(w, err)
		return
	}
	p.writeStatus(w, http.StatusOK)
}

func (p *Player) handleStop(w http.ResponseWriter, _ *http.Request) {
	p.Stop()
	p.writeStatus(w, http.StatusOK)
}

func (p *Player) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p.Disconnect(r.URL.Query().Get("destroy") == "true")
	p.writeStatus(w, http.StatusOK)
}

func (p *Player) handleStatus(w http.ResponseWriter, _ *http.Request) {
	p.writeStatus(w, http.StatusOK)
}

func (p *Player) writeStatus(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(p.Status()); err != nil {
		p.logger.Warn("error writing status", "err", err)
	}
}

func (p *Player) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, ErrSuperseded):
		code = http.StatusConflict
	case errors.Is(err, resolver.ErrResolution):
		code = http.StatusBadGateway
	case errors.Is(err, transcoder.ErrSpawn), errors.Is(err, ErrRelayUnavailable):
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
