package transport

import (
	"context"
	"errors"
	"net"

	"presence-rpc/registry"
	"presence-rpc/rpcerror"
)

// Dial connects to the first reachable endpoint, in order.
func Dial(ctx context.Context, endpoints []registry.Endpoint) (net.Conn, registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, registry.Endpoint{}, &rpcerror.TransportError{Op: "dial", Err: registry.ErrNotFound}
	}

	var (
		dialer net.Dialer
		errs   []error
	)
	for _, ep := range endpoints {
		network := ep.Network
		if network == "" {
			network = "unix"
		}
		conn, err := dialer.DialContext(ctx, network, ep.Addr)
		if err == nil {
			return conn, ep, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, registry.Endpoint{}, &rpcerror.TransportError{Op: "dial", Err: errors.Join(errs...)}
}
