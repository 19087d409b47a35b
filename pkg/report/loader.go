package report

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// loadConcurrency bounds parallel report reads to avoid file descriptor
// exhaustion on big result sets.
const loadConcurrency = 16

// Load reads the raw contents of all given report files in parallel. A file
// whose read fails is dropped from the result, not fatal: reports can vanish
// between discovery and read when a build pipeline rewrites them.
func Load(ctx context.Context, paths []string) map[string][]byte {
	if len(paths) == 0 {
		return map[string][]byte{}
	}

	var mu sync.Mutex
	payloads := make(map[string][]byte, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for _, path := range paths {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			data, err := os.ReadFile(path)
			if err != nil {
				// Missing or unreadable files are excluded, not reported.
				return nil
			}
			mu.Lock()
			payloads[path] = data
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes completion.
	_ = g.Wait()
	return payloads
}
