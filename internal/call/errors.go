package call

// PermissionError reports that the microphone could not be acquired. It is
// fatal to Connect and never retried automatically.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return "call: microphone access denied: " + e.Err.Error()
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ChannelError reports that the remote channel failed to open or dropped
// mid-call. The session moves to [StateError]; there is no automatic
// reconnect.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return "call: channel failed: " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error { return e.Err }
