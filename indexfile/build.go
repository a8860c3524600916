package indexfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lidarkit/cloudpipe/blobstore"
	"github.com/lidarkit/cloudpipe/pointcloud"
	"github.com/lidarkit/cloudpipe/reader"
)

// Build scans every record of r once and returns a completed writer. The
// id of a record is its position in the file.
func Build(ctx context.Context, r reader.FormatReader) (*Writer, error) {
	h := r.Header()
	w := NewWriter(h.Extent)
	p := pointcloud.NewPoint(h.Schema)
	for id := uint64(0); ; id++ {
		if id&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		err := r.ReadPoint(p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if id > uint64(pointcloud.MaxPoints) {
			return nil, fmt.Errorf("indexfile: %s: %w", h.Source, pointcloud.ErrCapacity)
		}
		if err := w.Add(p.X(), p.Y(), uint32(id)); err != nil {
			return nil, err
		}
	}
	w.Complete()
	return w, nil
}

// WriteFile indexes name from src and stores the result as name+Extension.
func WriteFile(ctx context.Context, src reader.Source, store blobstore.BlobStore, name string) (*Writer, error) {
	r, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w, err := Build(ctx, r)
	if err != nil {
		return nil, err
	}
	out, err := store.Create(ctx, name+Extension)
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteTo(out); err != nil {
		_ = out.Close()
		return nil, err
	}
	return w, out.Close()
}

// Load reads the index stored next to name.
func Load(ctx context.Context, store blobstore.BlobStore, name string) (*Index, error) {
	data, err := blobstore.ReadAll(ctx, store, name+Extension)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(data))
}
