// Package config loads and validates the logrelay configuration file.
package config

// File represents a logrelay.yaml configuration file.
type File struct {
	Version     int         `yaml:"version"     json:"version"`
	Distributor Distributor `yaml:"distributor" json:"distributor"`
	Codec       Codec       `yaml:"codec"       json:"codec"`
	Listeners   []Listener  `yaml:"listeners"   json:"listeners"`
	Control     Control     `yaml:"control"     json:"control"`
}

// Distributor configures the queue-draining service.
type Distributor struct {
	Transport        string     `yaml:"transport"                    json:"transport"`
	PollIntervalMs   int        `yaml:"poll_interval_ms"             json:"poll_interval_ms"`
	ServiceName      string     `yaml:"service_name"                 json:"service_name"`
	ReceiveTimeoutMs int        `yaml:"receive_timeout_ms,omitempty" json:"receive_timeout_ms,omitempty"`
	MaxPerTick       int        `yaml:"max_per_tick,omitempty"       json:"max_per_tick,omitempty"`
	Enrich           bool       `yaml:"enrich,omitempty"             json:"enrich,omitempty"`
	Redelivery       Redelivery `yaml:"redelivery,omitempty"         json:"redelivery,omitempty"`
}

// Redelivery controls what happens to messages that no listener accepted
// and to messages that cannot be decoded.
type Redelivery struct {
	MaxAttempts int  `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	DeadLetter  bool `yaml:"dead_letter,omitempty"  json:"dead_letter,omitempty"`
}

// Codec selects how producers encode entries. The distributor detects the
// encoding of each message on its own.
type Codec struct {
	Format      string `yaml:"format,omitempty"      json:"format,omitempty"`      // json|cbor
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"` // none|zstd|lz4
}

// Listener is a configured entry destination.
type Listener struct {
	Name       string   `yaml:"name"                 json:"name"`
	Kind       string   `yaml:"kind"                 json:"kind"`                 // console|file|journald
	Path       string   `yaml:"path,omitempty"       json:"path,omitempty"`       // file
	Identifier string   `yaml:"identifier,omitempty" json:"identifier,omitempty"` // journald
	Color      *bool    `yaml:"color,omitempty"      json:"color,omitempty"`      // console
	MinLevel   string   `yaml:"min_level,omitempty"  json:"min_level,omitempty"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Control configures the operator-facing surfaces of logrelayd.
type Control struct {
	Socket      string `yaml:"socket,omitempty"       json:"socket,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// Defaults applied by Load and Parse for omitted optional fields.
const (
	DefaultReceiveTimeoutMs = 100
	DefaultSocket           = "/tmp/logrelay.sock"
	DefaultFormat           = "json"
	DefaultCompression      = "none"
)

func applyDefaults(f *File) {
	if f.Distributor.ReceiveTimeoutMs == 0 {
		f.Distributor.ReceiveTimeoutMs = DefaultReceiveTimeoutMs
	}
	if f.Codec.Format == "" {
		f.Codec.Format = DefaultFormat
	}
	if f.Codec.Compression == "" {
		f.Codec.Compression = DefaultCompression
	}
	if f.Control.Socket == "" {
		f.Control.Socket = DefaultSocket
	}
	for i := range f.Listeners {
		if f.Listeners[i].Name == "" {
			f.Listeners[i].Name = f.Listeners[i].Kind
		}
	}
}
