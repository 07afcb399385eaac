package discovery

import (
	"context"

	"github.com/brutella/dnssd"

	"github.com/hpsdr/hpsdrd/internal/logx"
)

const ServiceType = "_hpsdr._udp"

// AnnounceMDNS advertises an _hpsdr._udp DNS-SD service on the local
// segment using the same pure-Go mDNS responder the teacher uses in
// dns_sd.go to advertise its KISS-over-TCP service. This is a convenience
// companion to the UDP discovery protocol of §4.3, which remains the
// protocol of record (SPEC_FULL "mDNS companion advertisement").
func AnnounceMDNS(ctx context.Context, name string) {
	log := logx.For("discovery")

	if name == "" {
		name = "hpsdrd"
	}

	cfg := dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: ServiceType,
		Port: Port,
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		log.Errorf("mDNS: failed to create service: %v", err)

		return
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		log.Errorf("mDNS: failed to create responder: %v", err)

		return
	}

	if _, err := rp.Add(sv); err != nil {
		log.Errorf("mDNS: failed to add service: %v", err)

		return
	}

	log.Infof("mDNS: announcing %s on UDP port %d as %q", ServiceType, Port, name)

	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("mDNS: responder error: %v", err)
		}
	}()
}
