// Package discovery browses mDNS for HiSLIP instruments advertising the
// "_hislip._tcp" service, so a caller can locate an instrument without
// knowing its address in advance.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type HiSLIP instruments advertise.
const ServiceType = "_hislip._tcp"

// Instrument is one discovered HiSLIP endpoint.
type Instrument struct {
	Name  string
	Host  string
	Port  int
	Addrs []net.IP
	TXT   []string
}

// Discover browses the local network for timeout and returns every
// instrument found. Browsing stops early if ctx is cancelled first.
func Discover(ctx context.Context, timeout time.Duration) ([]Instrument, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: new resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var found []Instrument
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)
			found = append(found, Instrument{
				Name:  e.Instance,
				Host:  e.HostName,
				Port:  e.Port,
				Addrs: addrs,
				TXT:   e.Text,
			})
		}
	}()

	if err := resolver.Browse(browseCtx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-browseCtx.Done()
	<-done
	return found, nil
}
