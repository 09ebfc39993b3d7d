package storage

import "montage/internal/ports"

// Provider is the output storage contract used by the API and the worker.
// It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
