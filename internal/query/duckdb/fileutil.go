package duckdb

import (
	"os"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/parquetio"
)

func writeParquetFile(path string, table dataset.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := parquetio.Encode(file, table); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
