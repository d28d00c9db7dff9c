package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/saagar210/Echolocate/internal/logging"
)

const defaultMDNSTimeout = 5 * time.Second

// mdnsServiceTypes are the service types browsed during mDNS discovery.
var mdnsServiceTypes = []string{
	"_workstation._tcp",
	"_googlecast._tcp",
	"_airplay._tcp",
	"_printer._tcp",
	"_ipp._tcp",
	"_spotify-connect._tcp",
	"_hap._tcp", // HomeKit
	"_http._tcp",
	"_smb._tcp",
}

// MDNSBrowser discovers hostnames via multicast DNS service browsing.
type MDNSBrowser struct {
	Timeout time.Duration
}

// NewMDNSBrowser creates an mDNS browser. Zero timeout selects the default.
func NewMDNSBrowser(timeout time.Duration) *MDNSBrowser {
	if timeout <= 0 {
		timeout = defaultMDNSTimeout
	}
	return &MDNSBrowser{Timeout: timeout}
}

// Hostnames browses common mDNS service types and returns a map of IPv4
// address to advertised name. Browse failures are logged and skipped; the
// result is best-effort.
func (b *MDNSBrowser) Hostnames(ctx context.Context) map[string]string {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logging.Warn("Failed to initialize mDNS resolver", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	var mu sync.Mutex
	names := make(map[string]string)

	var wg sync.WaitGroup
	for _, service := range mdnsServiceTypes {
		wg.Add(1)
		go func(srv string) {
			defer wg.Done()

			entries := make(chan *zeroconf.ServiceEntry)
			go collectEntries(entries, names, &mu)

			if err := resolver.Browse(ctx, srv, "local.", entries); err != nil {
				logging.Debug("mDNS browse failed", "service", srv, "error", err)
				// Browse never took ownership of the channel, so the
				// reader must be released here.
				close(entries)
				return
			}
			<-ctx.Done()
		}(service)
	}

	wg.Wait()
	return names
}

// collectEntries drains browse results into the shared name map, first
// advertised name per IP winning. It returns when the channel closes.
func collectEntries(results <-chan *zeroconf.ServiceEntry, names map[string]string, mu *sync.Mutex) {
	for entry := range results {
		if len(entry.AddrIPv4) == 0 {
			continue
		}
		name := cleanInstanceName(entry.Instance)
		if name == "" {
			name = strings.TrimSuffix(entry.HostName, ".local.")
		}
		if name == "" {
			continue
		}
		ip := entry.AddrIPv4[0].String()
		mu.Lock()
		if _, exists := names[ip]; !exists {
			names[ip] = name
		}
		mu.Unlock()
	}
}

// cleanInstanceName strips the "@ hostname" suffix some services advertise.
func cleanInstanceName(name string) string {
	if idx := strings.Index(name, "@"); idx != -1 {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}
