// Package statusclient queries a node's status endpoint over a plain TCP
// connection, in the same request-over-conn shape the daemon client uses
// to fetch the daemon's version.
package statusclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/fieldmesh/overlay/statusserver"
)

// ErrStatusUnavailable is returned when the status endpoint cannot be
// reached or responds with anything other than 200 OK.
var ErrStatusUnavailable = errors.New("statusclient: status endpoint unavailable")

// RequestStatusOver issues GET /status over an already-dialed conn.
func RequestStatusOver(conn net.Conn) (statusserver.Status, error) {
	var status statusserver.Status

	httpRequest, err := http.NewRequest("GET", "/status", nil)
	if err != nil {
		return status, err
	}
	if err := httpRequest.Write(conn); err != nil {
		return status, ErrStatusUnavailable
	}

	responseReader := bufio.NewReader(conn)
	httpResponse, err := http.ReadResponse(responseReader, httpRequest)
	if err != nil {
		return status, ErrStatusUnavailable
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		return status, ErrStatusUnavailable
	}

	if err := json.NewDecoder(httpResponse.Body).Decode(&status); err != nil {
		return status, err
	}
	return status, nil
}

// RequestStatus dials addr (host:port) and fetches its status.
func RequestStatus(addr string) (statusserver.Status, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return statusserver.Status{}, ErrStatusUnavailable
	}
	defer conn.Close()
	return RequestStatusOver(conn)
}
