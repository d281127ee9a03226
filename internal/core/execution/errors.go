package execution

import "errors"

var (
	ErrMissingParameters = errors.New("connection parameters not found")
	ErrListenTimeout     = errors.New("listener timed out")
	ErrNoDataReceived    = errors.New("no data received")
)

// noDataMessage is recorded for listeners that never received a message.
const noDataMessage = "No data received"
