package conntrack

import (
	"errors"
	"time"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/model"
)

// ErrForeignPacket is returned when a packet does not belong to the connection.
var ErrForeignPacket = errors.New("packet does not belong to connection")

// Options controls application protocol detection.
type Options struct {
	sslPorts  map[uint16]struct{}
	signature bool
}

// NewOptions builds detection options from the extractor configuration.
func NewOptions(cfg config.ExtractorConfig) Options {
	opts := Options{
		sslPorts:  make(map[uint16]struct{}, len(cfg.SSLPorts)),
		signature: cfg.SSLDetection == config.SSLDetectionSignature,
	}
	for _, p := range cfg.SSLPorts {
		opts.sslPorts[p] = struct{}{}
	}
	return opts
}

// Counters are the running totals of a connection. Bytes counts TCP payload only.
type Counters struct {
	Packets uint64
	Control uint64
	Data    uint64
	Bytes   uint64
}

// Events is what a connection reports for one packet. States are the values
// after the packet was applied; the Changed flags tell which ones moved.
type Events struct {
	FromClient bool

	TCP        TCPState
	TCPChanged bool

	Phase        TalkPhase
	PhaseChanged bool

	SSL        SSLState
	SSLChanged bool

	App      AppProtocol
	Counters Counters
}

// Connection tracks one TCP connection, oriented at the endpoint that sent the
// initial SYN (the client).
type Connection struct {
	key     model.FiveTuple
	started time.Time
	opts    Options

	tcp   TCPState
	phase TalkPhase
	ssl   SSLState

	app        AppProtocol
	appDecided bool

	count Counters
}

// New creates a connection for the flow whose client side is key.src.
func New(ts time.Time, key model.FiveTuple, opts Options) *Connection {
	c := &Connection{
		key:     key,
		started: ts,
		opts:    opts,
	}
	if _, ok := opts.sslPorts[key.DstPort]; ok {
		c.app = AppSSL
	}
	c.appDecided = !opts.signature
	return c
}

// FiveTuple returns the client-oriented 5-tuple of the connection.
func (c *Connection) FiveTuple() model.FiveTuple { return c.key }

// Started returns the timestamp of the packet that opened the connection.
func (c *Connection) Started() time.Time { return c.started }

// App returns the detected application protocol.
func (c *Connection) App() AppProtocol { return c.app }

// Counters returns the running totals.
func (c *Connection) Counters() Counters { return c.count }

// String returns the connection name.
func (c *Connection) String() string { return c.key.String() }

// Next applies one packet to the connection. Every transition is computed from
// the state before the packet, then all of them are applied together.
func (c *Connection) Next(p *model.PacketInfo) (Events, error) {
	var forward bool
	switch p.FiveTuple {
	case c.key:
		forward = true
	case c.key.Reverse():
		forward = false
	default:
		return Events{}, ErrForeignPacket
	}

	c.detectApp(p)

	tcp, tcpChanged := c.nextTCP(p, forward)
	phase, phaseChanged := c.nextPhase(p, forward)
	ssl, sslChanged := c.ssl, false
	if c.app == AppSSL {
		ssl, sslChanged = c.nextSSL(p, forward)
	}

	c.count.Packets++
	if p.PayloadLength == 0 {
		c.count.Control++
	} else {
		c.count.Data++
	}
	c.count.Bytes += uint64(p.PayloadLength)

	c.tcp, c.phase, c.ssl = tcp, phase, ssl

	return Events{
		FromClient:   forward,
		TCP:          c.tcp,
		TCPChanged:   tcpChanged,
		Phase:        c.phase,
		PhaseChanged: phaseChanged,
		SSL:          c.ssl,
		SSLChanged:   sslChanged,
		App:          c.app,
		Counters:     c.count,
	}, nil
}

// detectApp decides the application protocol from the first payload after the
// handshake when signature detection is on.
func (c *Connection) detectApp(p *model.PacketInfo) {
	if c.appDecided || c.tcp != TCPEstablished || p.PayloadLength == 0 {
		return
	}
	c.appDecided = true
	if len(p.Payload) < tlsRecordHeaderLen {
		// Nothing captured to look at; keep the port based guess.
		return
	}
	if looksLikeTLS(p.Payload) {
		c.app = AppSSL
	} else {
		c.app = AppUnknown
	}
}

func (c *Connection) nextTCP(p *model.PacketInfo, forward bool) (TCPState, bool) {
	switch c.tcp {
	case TCPDisconnected:
		if forward && p.Flags.IsInitialSYN() {
			return TCPSynSent, true
		}
	case TCPSynSent:
		if !forward && p.Flags.Has(model.FlagSYN|model.FlagACK) && !p.Flags.Has(model.FlagRST) {
			return TCPSynReceived, true
		}
	case TCPSynReceived:
		if forward && p.Flags.Has(model.FlagACK) &&
			!p.Flags.Has(model.FlagSYN) && !p.Flags.Has(model.FlagFIN) && !p.Flags.Has(model.FlagRST) {
			return TCPEstablished, true
		}
	}
	return c.tcp, false
}

func (c *Connection) nextPhase(p *model.PacketInfo, forward bool) (TalkPhase, bool) {
	if c.tcp != TCPEstablished || p.PayloadLength <= 0 {
		return c.phase, false
	}
	if c.app == AppSSL && c.ssl != SSLExchangeMessages {
		return c.phase, false
	}

	next := c.phase
	switch c.phase {
	case PhaseWaiting:
		if forward {
			next = PhaseTalkAClientToServer
		} else {
			next = PhaseTalkAServerToClient
		}
	case PhaseTalkAClientToServer:
		if !forward {
			next = PhaseTalkBServerToClient
		}
	case PhaseTalkAServerToClient:
		if forward {
			next = PhaseTalkBClientToServer
		}
	case PhaseTalkBServerToClient:
		if forward {
			next = PhaseTerminal
		}
	case PhaseTalkBClientToServer:
		if !forward {
			next = PhaseTerminal
		}
	}
	return next, next != c.phase
}

func (c *Connection) nextSSL(p *model.PacketInfo, forward bool) (SSLState, bool) {
	if c.tcp != TCPEstablished || p.PayloadLength <= 0 {
		return c.ssl, false
	}

	next := c.ssl
	switch c.ssl {
	case SSLDisconnected:
		if !forward {
			next = SSLServerHello
		}
	case SSLServerHello:
		if forward {
			next = SSLClientKeyExchange
		}
	case SSLClientKeyExchange:
		if !forward {
			next = SSLServerFinished
		}
	case SSLServerFinished:
		next = SSLExchangeMessages
	}
	return next, next != c.ssl
}
