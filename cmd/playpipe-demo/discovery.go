package main

import (
	"context"
	"log/slog"

	"github.com/brutella/dnssd"

	"playpipe/pipeline"
)

// staticPlaylist is the demo's filler.URIProvider: a single synthetic
// track, played once. NullTrackID/NextTrackID/PrevTrackID follow the
// "id 0 means before the start" convention pipeline/filler documents.
type staticPlaylist struct {
	track pipeline.Track
}

func (staticPlaylist) NullTrackID() uint32 { return 0 }

func (p staticPlaylist) NextTrackID(afterID uint32) (pipeline.Track, uint32, bool) {
	if afterID != 0 {
		return pipeline.Track{}, 0, false
	}
	return p.track, 1, true
}

func (p staticPlaylist) PrevTrackID(beforeID uint32) (pipeline.Track, uint32, bool) {
	return pipeline.Track{}, 0, false
}

// announceDiscovery advertises the demo player on the local network via
// mDNS/DNS-SD, the same brutella/dnssd Config/NewService/NewResponder/Add
// sequence dns_sd.go uses to announce a KISS-TNC service. Registration
// failures are logged and otherwise ignored: discovery is cosmetic here,
// never load-bearing for playback.
func announceDiscovery(ctx context.Context, name string, port int, log *slog.Logger) {
	cfg := dnssd.Config{
		Name: name,
		Type: "_playpipe._tcp",
		Port: port,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		log.Warn("discovery: failed to create service", "err", err)
		return
	}
	resp, err := dnssd.NewResponder()
	if err != nil {
		log.Warn("discovery: failed to create responder", "err", err)
		return
	}
	if _, err := resp.Add(svc); err != nil {
		log.Warn("discovery: failed to add service", "err", err)
		return
	}
	go func() {
		if err := resp.Respond(ctx); err != nil && ctx.Err() == nil {
			log.Warn("discovery: responder stopped", "err", err)
		}
	}()
}
