package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"romdl/internal/romdl"
)

// prefixParam is the handle query parameter that scopes a location to a
// key prefix inside its bucket. It is stripped before the bucket is opened.
const prefixParam = "prefix"

// BlobStorage implements romdl.StorageManager over gocloud.dev/blob.
//
// A location handle is a bucket URL, optionally with a prefix parameter:
//
//	file:///home/user/roms/snes
//	mem://?prefix=snes/
//	s3://my-roms?prefix=gba/
//
// Buckets are opened once per bucket URL and shared by every handle that
// points into them, so all mem:// handles see the same in-memory bucket.
type BlobStorage struct {
	s3 S3Options

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewBlobStorage creates a BlobStorage. s3 is only consulted for s3://
// handles.
func NewBlobStorage(s3 S3Options) *BlobStorage {
	return &BlobStorage{
		s3:      s3,
		buckets: make(map[string]*blob.Bucket),
	}
}

// location is a parsed handle.
type location struct {
	u         *url.URL
	bucketURL string
	prefix    string
}

func (l location) key(name string) string {
	return l.prefix + strings.TrimPrefix(filepath.ToSlash(name), "/")
}

func parseHandle(handle string) (location, error) {
	u, err := url.Parse(handle)
	if err != nil {
		return location{}, fmt.Errorf("invalid location handle %q: %w", handle, err)
	}
	if u.Scheme == "" {
		return location{}, fmt.Errorf("invalid location handle %q: missing scheme", handle)
	}

	q := u.Query()
	prefix := strings.Trim(q.Get(prefixParam), "/")
	if prefix != "" {
		prefix += "/"
	}
	q.Del(prefixParam)

	b := *u
	b.RawQuery = q.Encode()
	return location{u: u, bucketURL: b.String(), prefix: prefix}, nil
}

// withPrefix returns the handle for prefix inside l's bucket.
func (l location) withPrefix(prefix string) string {
	u := *l.u
	q := u.Query()
	q.Set(prefixParam, prefix)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *BlobStorage) bucket(ctx context.Context, loc location) (*blob.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[loc.bucketURL]; ok {
		return b, nil
	}

	var (
		b   *blob.Bucket
		err error
	)
	switch loc.u.Scheme {
	case "file":
		b, err = fileblob.OpenBucket(filepath.FromSlash(loc.u.Path), &fileblob.Options{
			Metadata:  fileblob.MetadataDontWrite,
			NoTempDir: true,
		})
	case "s3":
		b, err = openS3Bucket(ctx, loc.u.Host, s.s3)
	default:
		b, err = blob.OpenBucket(ctx, loc.bucketURL)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", loc.bucketURL, err)
	}
	s.buckets[loc.bucketURL] = b
	return b, nil
}

func (s *BlobStorage) open(ctx context.Context, handle string) (location, *blob.Bucket, error) {
	loc, err := parseHandle(handle)
	if err != nil {
		return location{}, nil, err
	}
	b, err := s.bucket(ctx, loc)
	if err != nil {
		return location{}, nil, err
	}
	return loc, b, nil
}

// Probe lists the first page of the location to confirm it is reachable.
func (s *BlobStorage) Probe(ctx context.Context, handle string) error {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return err
	}
	if loc.u.Scheme == "file" {
		if _, err := os.Stat(filepath.FromSlash(loc.u.Path)); err != nil {
			return fmt.Errorf("probing %s: %w", handle, err)
		}
	}

	_, _, err = b.ListPage(ctx, blob.FirstPageToken, 1, &blob.ListOptions{Prefix: loc.prefix, Delimiter: "/"})
	if err != nil {
		return fmt.Errorf("probing %s: %w", handle, err)
	}
	return nil
}

func (s *BlobStorage) List(ctx context.Context, handle string) ([]romdl.Entry, error) {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return nil, err
	}

	var entries []romdl.Entry
	iter := b.List(&blob.ListOptions{Prefix: loc.prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", handle, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, loc.prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, romdl.Entry{Name: name, Size: obj.Size, IsDir: obj.IsDir})
	}
	return entries, nil
}

func (s *BlobStorage) Exists(ctx context.Context, handle, name string) (bool, error) {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return false, err
	}
	ok, err := b.Exists(ctx, loc.key(name))
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return ok, nil
}

func (s *BlobStorage) Size(ctx context.Context, handle, name string) (int64, error) {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return 0, err
	}
	attrs, err := b.Attributes(ctx, loc.key(name))
	if err != nil {
		return 0, fmt.Errorf("reading attributes of %s: %w", name, err)
	}
	return attrs.Size, nil
}

// Checksum returns the stored MD5 when the backend keeps one and otherwise
// hashes the content.
func (s *BlobStorage) Checksum(ctx context.Context, handle, name string) (string, error) {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return "", err
	}
	key := loc.key(name)

	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading attributes of %s: %w", name, err)
	}
	if len(attrs.MD5) > 0 {
		return hex.EncodeToString(attrs.MD5), nil
	}

	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", name, err)
	}
	defer r.Close()

	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MoveIn copies localPath into the location, replacing any existing entry,
// then removes localPath.
func (s *BlobStorage) MoveIn(ctx context.Context, handle, name, localPath string) error {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	w, err := b.NewWriter(ctx, loc.key(name), nil)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	f.Close()
	if err := os.Remove(localPath); err != nil {
		return fmt.Errorf("removing %s: %w", localPath, err)
	}
	return nil
}

// Delete removes name. Deleting a missing entry is not an error.
func (s *BlobStorage) Delete(ctx context.Context, handle, name string) error {
	loc, b, err := s.open(ctx, handle)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, loc.key(name)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// CreateChild creates the child location name. For file:// handles this is
// a real directory; other backends get a prefixed handle.
func (s *BlobStorage) CreateChild(ctx context.Context, handle, name string) (string, error) {
	loc, err := parseHandle(handle)
	if err != nil {
		return "", err
	}
	child, err := s.ChildHandle(handle, name)
	if err != nil {
		return "", err
	}

	if loc.u.Scheme == "file" {
		dir := filepath.Join(filepath.FromSlash(loc.u.Path), name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return child, nil
}

func (s *BlobStorage) ChildHandle(handle, name string) (string, error) {
	loc, err := parseHandle(handle)
	if err != nil {
		return "", err
	}
	name = strings.Trim(filepath.ToSlash(name), "/")
	if name == "" || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid child name %q", name)
	}

	if loc.u.Scheme == "file" {
		u := *loc.u
		u.Path = path.Join(u.Path, name)
		return u.String(), nil
	}
	return loc.withPrefix(loc.prefix + name + "/"), nil
}

// DisplayName returns the last path segment of the location.
func (s *BlobStorage) DisplayName(handle string) string {
	loc, err := parseHandle(handle)
	if err != nil {
		return handle
	}
	if loc.prefix != "" {
		return path.Base(strings.TrimSuffix(loc.prefix, "/"))
	}
	if loc.u.Scheme == "file" {
		return path.Base(loc.u.Path)
	}
	if loc.u.Host != "" {
		return loc.u.Host
	}
	return loc.u.Scheme
}

// Close closes every open bucket.
func (s *BlobStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for k, b := range s.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", k, err))
		}
		delete(s.buckets, k)
	}
	return errors.Join(errs...)
}

// FileHandle returns the file:// handle for a local directory.
func FileHandle(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

var _ romdl.StorageManager = (*BlobStorage)(nil)
