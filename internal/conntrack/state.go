package conntrack

// TCPState is the handshake progress of a connection. Only the opening
// handshake is tracked; teardown is irrelevant to feature extraction.
type TCPState int

const (
	TCPDisconnected TCPState = iota
	TCPSynSent
	TCPSynReceived
	TCPEstablished
)

func (s TCPState) String() string {
	switch s {
	case TCPDisconnected:
		return "disconnected"
	case TCPSynSent:
		return "syn-sent"
	case TCPSynReceived:
		return "syn-received"
	case TCPEstablished:
		return "established"
	}
	return "invalid"
}

// TalkPhase tracks the first request/response round of the application
// conversation. Side A is whoever speaks first, side B answers.
type TalkPhase int

const (
	// PhaseWaiting: no payload exchanged yet.
	PhaseWaiting TalkPhase = iota
	// PhaseTalkAClientToServer: the client spoke first.
	PhaseTalkAClientToServer
	// PhaseTalkAServerToClient: the server spoke first.
	PhaseTalkAServerToClient
	// PhaseTalkBServerToClient: the server answers the client; side A is done.
	PhaseTalkBServerToClient
	// PhaseTalkBClientToServer: the client answers the server; side A is done.
	PhaseTalkBClientToServer
	// PhaseTerminal: side A spoke again, so side B is done.
	PhaseTerminal
)

// SideAComplete reports whether the phase means side A finished talking.
func (p TalkPhase) SideAComplete() bool {
	return p == PhaseTalkBServerToClient || p == PhaseTalkBClientToServer
}

// SideBComplete reports whether the phase means side B finished talking.
func (p TalkPhase) SideBComplete() bool {
	return p == PhaseTerminal
}

func (p TalkPhase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseTalkAClientToServer:
		return "talk-a-c2s"
	case PhaseTalkAServerToClient:
		return "talk-a-s2c"
	case PhaseTalkBServerToClient:
		return "talk-b-s2c"
	case PhaseTalkBClientToServer:
		return "talk-b-c2s"
	case PhaseTerminal:
		return "terminal"
	}
	return "invalid"
}

// SSLState follows the four-flight TLS handshake by payload direction only,
// since TCP is a stream and record boundaries are not reliable per segment.
type SSLState int

const (
	SSLDisconnected SSLState = iota
	SSLServerHello
	SSLClientKeyExchange
	SSLServerFinished
	SSLExchangeMessages
)

func (s SSLState) String() string {
	switch s {
	case SSLDisconnected:
		return "disconnected"
	case SSLServerHello:
		return "server-hello"
	case SSLClientKeyExchange:
		return "client-key-exchange"
	case SSLServerFinished:
		return "server-finished"
	case SSLExchangeMessages:
		return "exchange-messages"
	}
	return "invalid"
}

// AppProtocol is the application protocol detected for a connection.
type AppProtocol int

const (
	AppUnknown AppProtocol = iota
	AppSSL
)

func (a AppProtocol) String() string {
	if a == AppSSL {
		return "SSL"
	}
	return "unknown"
}
