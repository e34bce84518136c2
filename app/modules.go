package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/zachfi/rtpcast/modules/player"
	"github.com/zachfi/rtpcast/modules/relay"
	"github.com/zachfi/rtpcast/pkg/resolver"
	"github.com/zachfi/rtpcast/pkg/track"
	"github.com/zachfi/rtpcast/pkg/transcoder"
)

const (
	Server string = "server"

	Relay  string = "relay"
	Player string = "player"

	All string = "all"
)

func (a *App) setupModuleManager() error {
	mm := modules.NewManager(kitlog.NewLogfmtLogger(os.Stderr))
	mm.RegisterModule(Server, a.initServer, modules.UserInvisibleModule)

	mm.RegisterModule(Relay, a.initRelay)
	mm.RegisterModule(Player, a.initPlayer)

	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		// Server:       nil,
		Relay:  {Server},
		Player: {Server, Relay},

		All: {Player},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	a.ModuleManager = mm

	return nil
}

func (a *App) initRelay() (services.Service, error) {
	r, err := relay.New(a.cfg.Relay, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init relay")
	}

	a.Relay = r
	return r, nil
}

func (a *App) initPlayer() (services.Service, error) {
	cfg := a.cfg.Player

	res, err := resolver.New(cfg.Resolver, a.logger)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init resolver")
	}

	newTrack := func() (relay.Sink, error) {
		return track.New(cfg.TrackID, cfg.StreamID)
	}

	p, err := player.New(cfg, a.Relay, transcoder.New(cfg.Transcoder, a.logger), res, a.logger,
		player.WithTrackFactory(newTrack),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init player")
	}

	p.RegisterRoutes(a.Server.HTTP)

	a.Player = p
	return p, nil
}

func (a *App) initServer() (services.Service, error) {
	a.cfg.Server.MetricsNamespace = metricsNamespace
	a.cfg.Server.ExcludeRequestInLog = true
	a.cfg.Server.RegisterInstrumentation = true
	a.cfg.Server.Log = kitlog.NewLogfmtLogger(os.Stderr)

	server, err := server.New(a.cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range a.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}

		return svs
	}

	a.Server = server

	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- server.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}

			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server.
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// shutdown HTTP and gRPC servers (this also unblocks Run)
		server.Shutdown()

		// if not closed yet, wait until server stops.
		<-serverDone
		slog.Info("server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}
