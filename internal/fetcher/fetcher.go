// Package fetcher loads ingestion datasets from local files or HTTP sources.
package fetcher

import (
	"context"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Fetch downloads location and returns the full body.
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ReadDataset returns the bytes at location, downloading through f when it
// is a URL and reading from disk otherwise.
func ReadDataset(ctx context.Context, f Fetcher, location string) ([]byte, error) {
	if IsRemote(location) {
		if f == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", location)
		}
		return f.Fetch(ctx, location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", location)
	}
	return data, nil
}
