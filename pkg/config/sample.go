package config

import "strings"

// Sample returns a starter configuration for the given transport path.
// Redis transports get a compressed CBOR codec; file queues keep plain
// JSON so the queue file stays greppable.
func Sample(transport string) *File {
	f := &File{
		Version: 1,
		Distributor: Distributor{
			Transport:        transport,
			PollIntervalMs:   1000,
			ServiceName:      "logrelay",
			ReceiveTimeoutMs: DefaultReceiveTimeoutMs,
			Enrich:           true,
		},
		Codec: Codec{Format: "json", Compression: "none"},
		Listeners: []Listener{
			{Name: "console", Kind: "console"},
		},
		Control: Control{
			Socket:      DefaultSocket,
			MetricsAddr: "127.0.0.1:9464",
		},
	}

	if strings.HasPrefix(transport, "redis://") || strings.HasPrefix(transport, "rediss://") {
		f.Codec = Codec{Format: "cbor", Compression: "zstd"}
		f.Distributor.Redelivery = Redelivery{MaxAttempts: 3, DeadLetter: true}
		f.Listeners = append(f.Listeners, Listener{Name: "journal", Kind: "journald"})
	} else {
		f.Listeners = append(f.Listeners, Listener{
			Name: "archive",
			Kind: "file",
			Path: "${HOME}/.local/state/logrelay/entries.jsonl",
		})
	}
	return f
}
