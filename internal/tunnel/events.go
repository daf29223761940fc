package tunnel

// Events carries the optional observer callbacks a caller can attach to a
// Supervisor, matching the "Open / Connected / Disconnected / Closed" event
// enum design note. Any field left nil is simply never called; there is no
// default behavior attached to an event firing.
type Events struct {
	// OnOpen fires once per pool connection, right after it completes the
	// handshake and is added to the pool.
	OnOpen func(conn *RemoteConnection)

	// OnConnected fires once per bridge, after the local and remote sides
	// are wired together and piping has started.
	OnConnected func(conn *RemoteConnection)

	// OnDisconnected fires when a remote dial fails with ECONNREFUSED.
	OnDisconnected func(err error)

	// OnClose fires once, after Close has torn down every pool connection.
	OnClose func()
}

func (e *Events) open(conn *RemoteConnection) {
	if e != nil && e.OnOpen != nil {
		e.OnOpen(conn)
	}
}

func (e *Events) connected(conn *RemoteConnection) {
	if e != nil && e.OnConnected != nil {
		e.OnConnected(conn)
	}
}

func (e *Events) disconnected(err error) {
	if e != nil && e.OnDisconnected != nil {
		e.OnDisconnected(err)
	}
}

func (e *Events) closed() {
	if e != nil && e.OnClose != nil {
		e.OnClose()
	}
}
