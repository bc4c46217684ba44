package models

// CacheStats reports cache occupancy and performance.
type CacheStats struct {
	Entries       int     `json:"entries"`
	Bytes         int64   `json:"bytes"`
	MaxEntries    int     `json:"max_entries"`
	CapacityBytes int64   `json:"capacity_bytes"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     int64   `json:"evictions"`
	Expirations   int64   `json:"expirations"`
	Tier          string  `json:"tier,omitempty"`
}

// CacheClearResult is returned by the cache clear endpoint.
type CacheClearResult struct {
	EntriesRemoved int   `json:"entries_removed"`
	BytesFreed     int64 `json:"bytes_freed"`
}
