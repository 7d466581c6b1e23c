// Package output provides the storage backends snapshots are written to: a
// local directory or a GCS bucket prefix.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"github.com/m-lab/go/uploader"
	"github.com/rs/zerolog/log"
	"github.com/trendy-data/trendy/partition"
	"google.golang.org/api/iterator"
)

var (
	// ErrNotFound is returned when reading or listing a missing path.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedScheme is returned by Open for URIs other than gs:// and
	// local paths.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")
	// ErrLowDiskSpace is returned by LocalWriter when the output volume is
	// almost full.
	ErrLowDiskSpace = errors.New("not enough free space on output volume")
)

const gcsScheme = "gs://"

// Store reads and writes files under a root. All paths are relative to the
// root and use forward slashes.
type Store interface {
	Write(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	// List returns the sorted names of the immediate children of dir.
	List(ctx context.Context, dir string) ([]string, error)
	// Root returns the location of the store, e.g. gs://bucket/prefix.
	Root() string
}

// Open returns the Store for a local directory or a gs://bucket/prefix URI.
func Open(ctx context.Context, uri string) (Store, error) {
	if strings.HasPrefix(uri, gcsScheme) {
		bucket, prefix, err := splitGCS(uri)
		if err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot create GCS client: %w", err)
		}
		return NewGCSWriter(stiface.AdaptClient(client), bucket, prefix), nil
	}
	if strings.Contains(uri, "://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
	return NewLocalWriter(uri), nil
}

// ReadFile reads a single file given by a local path or a gs:// URI.
func ReadFile(ctx context.Context, uri string) ([]byte, error) {
	dir, name := ".", uri
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		dir, name = uri[:i], uri[i+1:]
		if dir == "" {
			dir = "/"
		}
	}
	if strings.HasSuffix(dir, ":/") {
		// gs://bucket with no object name.
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	s, err := Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, name)
}

// PublicURL returns the public HTTPS address of a gs:// location.
func PublicURL(uri string) (string, error) {
	bucket, prefix, err := splitGCS(uri)
	if err != nil {
		return "", err
	}
	return partition.Join("https://storage.googleapis.com", bucket, prefix), nil
}

func splitGCS(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, gcsScheme) {
		return "", "", fmt.Errorf("%w: not a gs:// URI: %s", ErrUnsupportedScheme, uri)
	}
	rest := strings.TrimPrefix(uri, gcsScheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket: %s", ErrUnsupportedScheme, uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// GCSWriter provides Store operations on a GCS bucket prefix.
type GCSWriter struct {
	client stiface.Client
	up     *uploader.Uploader
	bucket string
	prefix string
}

// NewGCSWriter creates a new GCSWriter rooted at gs://bucket/prefix.
func NewGCSWriter(client stiface.Client, bucket, prefix string) *GCSWriter {
	return &GCSWriter{
		client: client,
		up:     uploader.New(client, bucket),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (u *GCSWriter) object(path string) string {
	return partition.Join(u.prefix, path)
}

// Write creates a new object at path containing content.
func (u *GCSWriter) Write(ctx context.Context, path string, content []byte) error {
	_, err := u.up.Upload(ctx, u.object(path), content)
	return err
}

// Read returns the content of the object at path.
func (u *GCSWriter) Read(ctx context.Context, path string) ([]byte, error) {
	r, err := u.client.Bucket(u.bucket).Object(u.object(path)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, partition.Join(u.Root(), path))
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// List returns the names of the objects and pseudo-directories directly
// under dir.
func (u *GCSWriter) List(ctx context.Context, dir string) ([]string, error) {
	prefix := u.object(dir)
	if prefix != "" {
		prefix += "/"
	}
	it := u.client.Bucket(u.bucket).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Prefix
		if name == "" {
			name = attrs.Name
		}
		name = strings.TrimSuffix(strings.TrimPrefix(name, prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Root returns gs://bucket/prefix.
func (u *GCSWriter) Root() string {
	return partition.Join(gcsScheme+u.bucket, u.prefix)
}

// LocalWriter provides Store operations on a local directory.
type LocalWriter struct {
	dir string
	// minFree is the minimum fraction of free blocks and inodes required on
	// the output volume before writing.
	minFree float64
}

// NewLocalWriter creates a new LocalWriter for the given output directory.
func NewLocalWriter(dir string) *LocalWriter {
	return &LocalWriter{dir: dir, minFree: 0.1}
}

// checkFreeSpace gates writes to the output volume.
func (lu *LocalWriter) checkFreeSpace(dir string) error {
	stat := syscall.Statfs_t{}
	err := syscall.Statfs(dir, &stat)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Reading statfs failed")
		return err
	}
	if float64(stat.Ffree)/float64(stat.Files) < lu.minFree ||
		float64(stat.Bfree)/float64(stat.Blocks) < lu.minFree {
		return fmt.Errorf("%w: %s", ErrLowDiskSpace, dir)
	}
	return nil
}

// Write creates a new file at path containing content.
func (lu *LocalWriter) Write(ctx context.Context, path string, content []byte) error {
	p := filepath.Join(lu.dir, filepath.FromSlash(path))
	d := filepath.Dir(p) // path may include additional directory elements.
	err := os.MkdirAll(d, os.ModePerm)
	if err != nil {
		return err
	}
	if err := lu.checkFreeSpace(d); err != nil {
		return err
	}
	return os.WriteFile(p, content, 0664)
}

// Read returns the content of the file at path.
func (lu *LocalWriter) Read(ctx context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(lu.dir, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, partition.Join(lu.dir, path))
	}
	return b, err
}

// List returns the names of the entries of dir.
func (lu *LocalWriter) List(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(lu.dir, filepath.FromSlash(dir)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, partition.Join(lu.dir, dir))
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Root returns the output directory.
func (lu *LocalWriter) Root() string {
	return lu.dir
}
