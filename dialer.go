package kafka

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/3dna/kafka/sasl"
)

// The Dialer type mirrors the net.Dialer API but is designed to open kafka
// connections instead of raw network connections: it layers TLS and the SASL
// handshake on top of the TCP session before handing the Conn out, so the
// rest of the client can treat authentication as an opaque step.
type Dialer struct {
	// Unique identifier for client connections established by this Dialer.
	ClientID string

	// Timeout is the maximum amount of time a dial will wait for a connect to
	// complete.
	//
	// The default is no timeout.
	Timeout time.Duration

	// ReadTimeout bounds each request/response exchange on the connections
	// established by this dialer. Zero means no timeout.
	ReadTimeout time.Duration

	// LocalAddr is the local address to use when dialing an address.
	LocalAddr net.Addr

	// KeepAlive specifies the keep-alive period for an active network
	// connection. If zero, keep-alives are not enabled.
	KeepAlive time.Duration

	// Resolver optionally specifies an alternate resolver to use.
	Resolver *net.Resolver

	// TLS enables the Dialer to secure connections. If nil, standard net.Conn
	// will be used.
	TLS *tls.Config

	// SASLMechanism configures the Dialer to use SASL authentication. If nil,
	// no authentication will be performed.
	SASLMechanism sasl.Mechanism
}

// DefaultDialer is a Dialer with a 10 second connect timeout. A cluster
// configured without a Dialer does not use it: ClusterConfig.Validate builds
// one from the cluster's own client id and timeouts.
var DefaultDialer = &Dialer{
	Timeout: 10 * time.Second,
}

// Dial connects to the address on the named network.
func (d *Dialer) Dial(network, address string) (*Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext connects to the address on the named network using the
// provided context.
//
// The provided Context must be non-nil. If the context expires before the
// connection is complete, an error is returned. Once successfully connected,
// any expiration of the context will not affect the connection.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (*Conn, error) {
	if d.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	dialer := net.Dialer{
		LocalAddr: d.LocalAddr,
		KeepAlive: d.KeepAlive,
		Resolver:  d.Resolver,
	}

	c, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: address, Err: err}
	}

	host, _, _ := net.SplitHostPort(address)

	if d.TLS != nil {
		config := d.TLS
		if config.ServerName == "" && !config.InsecureSkipVerify {
			config = config.Clone()
			config.ServerName = host
		}
		tc := tls.Client(c, config)
		if err := tc.HandshakeContext(ctx); err != nil {
			c.Close()
			return nil, &ConnectionError{Op: "tls", Addr: address, Err: err}
		}
		c = tc
	}

	conn := NewConnWith(c, ConnConfig{
		ClientID:    d.ClientID,
		ReadTimeout: d.ReadTimeout,
	})

	if d.SASLMechanism != nil {
		if err := d.authenticate(ctx, conn, host); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

// authenticate performs the SASL handshake followed by the raw token
// exchange used by 0.9-era brokers.
func (d *Dialer) authenticate(ctx context.Context, conn *Conn, host string) error {
	mechanism := d.SASLMechanism
	if nh, ok := mechanism.(sasl.NeedsHost); ok {
		mechanism = nh.WithHost(host)
	}

	res, err := conn.saslHandshake(mechanism.Name())
	if err != nil {
		return err
	}
	if res.ErrorCode != 0 {
		return Error(res.ErrorCode)
	}

	sess, state, err := mechanism.Start(ctx)
	if err != nil {
		return err
	}

	for completed := false; !completed; {
		challenge, err := conn.saslAuthenticate(state)
		if err != nil {
			return err
		}

		completed, state, err = sess.Next(ctx, challenge)
		if err != nil {
			return err
		}
	}

	return nil
}

func sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func backoff(attempt int, min, max time.Duration) time.Duration {
	d := time.Duration(attempt*attempt) * min
	if d > max {
		d = max
	}
	return d
}
