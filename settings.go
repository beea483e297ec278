package tiercache

import (
	"strconv"
	"time"
)

// Settings carries per-tier configuration the way deployment config
// delivers it: loosely typed string keys. Recognized keys by tier:
//
//	network_kv, network_cluster: host, port, prefix, persistent,
//	    retry_attempts, retry_delay, connect_timeout
//	shared_memory:  base_key, segment_size
//	memory_mapped:  file_size
//	filesystem:     base_path
//	sqlite_file:    db_path, table_name
//	sql_table:      table_name
//
// Unrecognized keys are ignored. Missing keys fall back to the tier's
// defaults. Durations accept a time.Duration, a number of seconds, or a
// time.ParseDuration string.
type Settings map[string]any

func (s Settings) str(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (s Settings) integer(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s Settings) boolean(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (s Settings) seconds(key string, def time.Duration) time.Duration {
	switch v := s[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
