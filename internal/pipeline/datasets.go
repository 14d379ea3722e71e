package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/ingest"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/profile"
	"github.com/querydeck/querydeck/internal/session"
)

const (
	previewHeadRows = 10
	previewTailRows = 5
)

type UploadFile struct {
	Filename string
	Data     []byte
}

type LoadedDataset struct {
	session.DatasetInfo
	Replaced bool `json:"replaced"`
}

type FailedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadResult reports each file separately. A file that cannot be parsed
// does not stop the others from loading.
type UploadResult struct {
	Loaded []LoadedDataset `json:"loaded"`
	Failed []FailedFile    `json:"failed"`
}

// Upload parses each file and stores it under its sanitized base name, or
// under name when exactly one file is given.
func (s *Service) Upload(ctx context.Context, principal, sessionID string, files []UploadFile, name string) (UploadResult, error) {
	if len(files) == 0 {
		return UploadResult{}, fmt.Errorf("%w: at least one file is required", ErrInvalidRequest)
	}
	if name != "" && len(files) > 1 {
		return UploadResult{}, fmt.Errorf("%w: a dataset name can only be given for a single file", ErrInvalidRequest)
	}
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return UploadResult{}, err
	}
	defer release()

	result := UploadResult{Loaded: []LoadedDataset{}, Failed: []FailedFile{}}
	for _, file := range files {
		table, err := ingest.Parse(file.Filename, file.Data)
		observability.ObserveIngestedFile(table.RowCount(), err)
		if err != nil {
			s.logger.WarnContext(ctx, "dataset upload failed",
				slog.String("session_id", sessionID),
				slog.String("filename", file.Filename),
				slog.String("error", err.Error()),
			)
			result.Failed = append(result.Failed, FailedFile{Filename: file.Filename, Error: err.Error()})
			continue
		}

		datasetName := dataset.SanitizeName(file.Filename)
		if name != "" {
			datasetName = dataset.SanitizeName(name)
		}
		ds := dataset.Dataset{
			Name:     datasetName,
			Source:   file.Filename,
			Table:    table,
			LoadedAt: time.Now().UTC(),
		}
		replaced := sess.PutDataset(ds)
		s.logger.InfoContext(ctx, "dataset loaded",
			slog.String("session_id", sessionID),
			slog.String("dataset", datasetName),
			slog.String("filename", file.Filename),
			slog.Int("rows", table.RowCount()),
			slog.Int("columns", len(table.Columns)),
			slog.Bool("replaced", replaced),
		)
		loaded, _ := sess.Dataset(datasetName)
		result.Loaded = append(result.Loaded, LoadedDataset{DatasetInfo: infoOf(loaded), Replaced: replaced})
	}
	return result, nil
}

func infoOf(ds dataset.Dataset) session.DatasetInfo {
	return session.DatasetInfo{
		Name:     ds.Name,
		Source:   ds.Source,
		Rows:     ds.Table.RowCount(),
		Columns:  ds.Table.Columns,
		LoadedAt: ds.LoadedAt,
	}
}

type DatasetPreview struct {
	session.DatasetInfo
	Head dataset.Table `json:"-"`
	Tail dataset.Table `json:"-"`
}

func (s *Service) Datasets(principal, sessionID string) ([]session.DatasetInfo, error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return nil, err
	}
	return sess.DatasetInfos(), nil
}

// PreviewDataset returns the first ten and the last five rows.
func (s *Service) PreviewDataset(principal, sessionID, name string) (DatasetPreview, error) {
	ds, err := s.dataset(principal, sessionID, name)
	if err != nil {
		return DatasetPreview{}, err
	}
	return DatasetPreview{
		DatasetInfo: infoOf(ds),
		Head:        ds.Table.Head(previewHeadRows),
		Tail:        ds.Table.Tail(previewTailRows),
	}, nil
}

func (s *Service) ProfileDataset(principal, sessionID, name string) (profile.Report, error) {
	ds, err := s.dataset(principal, sessionID, name)
	if err != nil {
		return profile.Report{}, err
	}
	return profile.Build(ds.Table), nil
}

func (s *Service) RemoveDataset(ctx context.Context, principal, sessionID, name string) error {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return sess.RemoveDataset(name)
}

func (s *Service) dataset(principal, sessionID, name string) (dataset.Dataset, error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return sess.Dataset(name)
}
