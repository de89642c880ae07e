package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/nodelist-registry/interfaces"
)

// ErrContentMismatch is returned when stored content does not hash to its ID.
var ErrContentMismatch = errors.New("content does not match its ID")

// Publish JSON-encodes v and stores it in backend.
func Publish(ctx context.Context, backend interfaces.StorageBackend, contentType interfaces.ContentType, v any) (interfaces.ContentID, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("encoding %s snapshot: %w", contentType, err)
	}
	return backend.Store(ctx, data, contentType)
}

// PublishChainData stores a resolved chain snapshot.
func PublishChainData(ctx context.Context, backend interfaces.StorageBackend, data *interfaces.ChainData) (interfaces.ContentID, error) {
	return Publish(ctx, backend, interfaces.ChainDataType, data)
}

// PublishRegistration stores a registration result.
func PublishRegistration(ctx context.Context, backend interfaces.StorageBackend, result *interfaces.RegistrationResult) (interfaces.ContentID, error) {
	return Publish(ctx, backend, interfaces.RegistrationType, result)
}

// LoadChainData fetches and decodes a chain snapshot.
func LoadChainData(ctx context.Context, backend interfaces.StorageBackend, id interfaces.ContentID) (*interfaces.ChainData, error) {
	raw, err := backend.Fetch(ctx, id, interfaces.ChainDataType)
	if err != nil {
		return nil, err
	}
	var data interfaces.ChainData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding chain snapshot %s: %w", id, err)
	}
	return &data, nil
}
