package websvc

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/lanstead/dhcpc/internal/dhcpc"
)

// statusResp is the response of [PathStatus].
type statusResp struct {
	Lease     *leaseResp `json:"lease,omitempty"`
	Interface string     `json:"interface"`
	State     string     `json:"state"`
	UptimeSec int64      `json:"uptime_seconds"`
	HasLease  bool       `json:"has_lease"`
}

// leaseResp is the lease part of [statusResp].
type leaseResp struct {
	IP            netip.Addr   `json:"ip"`
	Server        netip.Addr   `json:"server"`
	DNS           []netip.Addr `json:"dns,omitempty"`
	Router        string       `json:"router,omitempty"`
	Prefix        string       `json:"prefix"`
	LeaseTime     uint32       `json:"lease_time"`
	RenewalTime   uint32       `json:"renewal_time"`
	RebindingTime uint32       `json:"rebinding_time"`
}

// handleStatus serves the current state and lease of the client.
func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	// Take a single snapshot of the lease.  The client is mutated by the
	// event loop while this handler runs, so the lease may be withdrawn at
	// any point.
	lease := svc.client.LeaseOrNil()

	resp := &statusResp{
		Interface: svc.iface,
		State:     svc.client.State().String(),
		UptimeSec: int64(time.Since(svc.start).Seconds()),
		HasLease:  lease != nil,
	}

	if lease != nil {
		resp.Lease = newLeaseResp(lease)
	}

	w.Header().Set(httphdr.ContentType, "application/json")

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		svc.logger.ErrorContext(r.Context(), "writing status", slogutil.KeyError, err)
	}
}

// newLeaseResp converts l into its status representation.
func newLeaseResp(l *dhcpc.Lease) (resp *leaseResp) {
	resp = &leaseResp{
		IP:            l.IP,
		Server:        l.ServerAddr,
		DNS:           l.DNS,
		Prefix:        l.Prefix().String(),
		LeaseTime:     l.LeaseTime,
		RenewalTime:   l.RenewalTime,
		RebindingTime: l.RebindingTime,
	}

	if l.Router.IsValid() {
		resp.Router = l.Router.String()
	}

	return resp
}
