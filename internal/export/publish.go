package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/querydeck/querydeck/internal/storage"
)

type Published struct {
	storage.ObjectInfo
	URL  string `json:"url,omitempty"`
	Rows int    `json:"rows"`
}

// Publisher uploads rendered exports to the object store under a per
// session prefix.
type Publisher struct {
	store     storage.ObjectStore
	urlExpiry time.Duration
	now       func() time.Time
}

func NewPublisher(store storage.ObjectStore, urlExpiry time.Duration) *Publisher {
	return &Publisher{store: store, urlExpiry: urlExpiry, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, principal, sessionID string, file File) (Published, error) {
	key, err := storage.BuildExportPath(principal, sessionID, p.now(), file.Format.Extension())
	if err != nil {
		return Published{}, err
	}
	info, err := p.store.Put(ctx, key, bytes.NewReader(file.Data), int64(len(file.Data)), storage.PutOptions{ContentType: file.ContentType()})
	if err != nil {
		return Published{}, fmt.Errorf("publish export: %w", err)
	}
	if info.Key == "" {
		info.Key = key
	}
	if info.Size == 0 {
		info.Size = int64(len(file.Data))
	}
	link, err := p.store.PresignGet(ctx, key, p.urlExpiry)
	if err != nil {
		return Published{}, fmt.Errorf("presign export: %w", err)
	}
	return Published{ObjectInfo: info, URL: link, Rows: file.Rows}, nil
}

// List returns the published exports of the session with fresh download
// URLs, ordered by key.
func (p *Publisher) List(ctx context.Context, principal, sessionID string) ([]Published, error) {
	infos, err := p.list(ctx, principal, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]Published, 0, len(infos))
	for _, info := range infos {
		link, err := p.store.PresignGet(ctx, info.Key, p.urlExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign export: %w", err)
		}
		out = append(out, Published{ObjectInfo: info, URL: link})
	}
	return out, nil
}

// Open streams one published export of the session. key is either the
// full object key or the part below the session's export prefix.
func (p *Publisher) Open(ctx context.Context, principal, sessionID, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	key, err := p.resolve(principal, sessionID, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := p.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return body, info, nil
}

func (p *Publisher) Remove(ctx context.Context, principal, sessionID, key string) error {
	key, err := p.resolve(principal, sessionID, key)
	if err != nil {
		return err
	}
	return p.store.Delete(ctx, key)
}

func (p *Publisher) list(ctx context.Context, principal, sessionID string) ([]storage.ObjectInfo, error) {
	prefix, err := storage.ExportPrefix(principal, sessionID)
	if err != nil {
		return nil, err
	}
	return p.store.List(ctx, prefix)
}

// resolve maps key to a full object key inside the session's prefix.
// Keys that escape the prefix are reported as not found.
func (p *Publisher) resolve(principal, sessionID, key string) (string, error) {
	prefix, err := storage.ExportPrefix(principal, sessionID)
	if err != nil {
		return "", err
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", storage.ErrObjectNotFound
	}
	if !strings.HasPrefix(key, prefix) {
		key = prefix + key
	}
	cleaned := path.Clean(key)
	if len(cleaned) <= len(prefix) || !strings.HasPrefix(cleaned, prefix) {
		return "", storage.ErrObjectNotFound
	}
	return cleaned, nil
}
