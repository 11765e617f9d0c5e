package prefs

import "fmt"

// Open builds the store named by backend ("file", "redis" or "memory").
func Open(backend, path, redisURL string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path)
	case "redis":
		return NewRedisStore(redisURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown prefs backend %q", backend)
	}
}
