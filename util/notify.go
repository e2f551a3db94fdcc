package util

import (
	"errors"
	"net"
	"os"
)

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set")

// Notify sends state to the service manager (see sd_notify(3)).
// An error is returned when not running under a service manager.
func Notify(state string) error {
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return errNoNotifySocket
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(state))
	return err
}
