// Package statusserver exposes a node's live state over HTTP: its own
// identity, cached upstream selection, and per-RSU table sizes. It
// mirrors the daemon's control-server idiom — a ServeMux with one
// handler per endpoint, JSON in and out.
package statusserver

// Status is the JSON body returned by GET /status.
type Status struct {
	NodeType       string         `json:"node_type"`
	Self           string         `json:"self"`
	CachedUpstream string         `json:"cached_upstream,omitempty"`
	RSUTableSizes  map[string]int `json:"rsu_table_sizes,omitempty"`
	ClientCount    int            `json:"client_count"`
}
