package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/slok/repoready/internal/log"
	"github.com/slok/repoready/internal/model"
)

const (
	// DefaultMaxArchiveBytes is the default maximum size of a downloaded archive.
	DefaultMaxArchiveBytes = 200 * 1024 * 1024
	// DefaultMaxTreeBytes is the default maximum size of the decompressed archive files.
	DefaultMaxTreeBytes = 1024 * 1024 * 1024
)

// FetcherConfig is the configuration of the archive fetcher.
type FetcherConfig struct {
	Resolver        LinkResolver
	HTTPClient      *http.Client
	MaxArchiveBytes int64
	// MaxTreeBytes limits the decompressed size of all the archive files.
	MaxTreeBytes    int64
	Logger          log.Logger
}

func (c *FetcherConfig) defaults() error {
	if c.Resolver == nil {
		c.Resolver = HEADLinkResolver{}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.MaxArchiveBytes == 0 {
		c.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if c.MaxArchiveBytes < 0 {
		return fmt.Errorf("max archive bytes can't be negative")
	}
	if c.MaxTreeBytes == 0 {
		c.MaxTreeBytes = DefaultMaxTreeBytes
	}
	if c.MaxTreeBytes < 0 {
		return fmt.Errorf("max tree bytes can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "archive.Fetcher"})
	return nil
}

// Fetcher downloads repository archives and decodes them into file trees.
type Fetcher struct {
	resolver     LinkResolver
	httpClient   *http.Client
	maxBytes     int64
	maxTreeBytes int64
	logger       log.Logger
}

// NewFetcher returns a new archive fetcher.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Fetcher{
		resolver:     cfg.Resolver,
		httpClient:   cfg.HTTPClient,
		maxBytes:     cfg.MaxArchiveBytes,
		maxTreeBytes: cfg.MaxTreeBytes,
		logger:       cfg.Logger,
	}, nil
}

// Fetch downloads the default branch archive of the repository and returns its file tree.
// Retrieval failures are model.FetchError and undecodable or empty archives model.ArchiveError.
func (f *Fetcher) Fetch(ctx context.Context, ref model.RepositoryRef) (*model.FileTree, error) {
	u, err := f.resolver.ArchiveURL(ctx, ref)
	if err != nil {
		return nil, model.NewFetchError("could not resolve archive URL", err)
	}

	f.logger.Debugf("Downloading archive %s", u)
	data, err := f.download(ctx, u)
	if err != nil {
		return nil, err
	}
	f.logger.Infof("Downloaded %s archive of %s", humanize.Bytes(uint64(len(data))), ref)

	return DecodeWithLimit(data, f.maxTreeBytes)
}

func (f *Fetcher) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, model.NewFetchError("creating request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, model.NewFetchError("executing request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFetchError(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, u), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, model.NewFetchError("reading archive", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, model.NewFetchError(fmt.Sprintf("archive is bigger than %s", humanize.Bytes(uint64(f.maxBytes))), nil)
	}

	return data, nil
}

// Decode decodes a zip archive into a file tree with the default decompressed size limit.
func Decode(data []byte) (*model.FileTree, error) {
	return DecodeWithLimit(data, DefaultMaxTreeBytes)
}

// DecodeWithLimit decodes a zip archive into a file tree. The top-level folder of the first entry
// is the archive wrapper and is stripped from all the paths. Directory entries are
// ignored, directories are created as files need them. Archives whose files decompress
// to more than maxBytes are rejected.
func DecodeWithLimit(data []byte, maxBytes int64) (*model.FileTree, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, model.NewArchiveError("invalid zip archive", err)
	}
	if len(zr.File) == 0 {
		return nil, model.NewArchiveError("archive has no entries", nil)
	}

	wrapper, _, ok := strings.Cut(zr.File[0].Name, "/")
	if !ok || wrapper == "" {
		return nil, model.NewArchiveError(fmt.Sprintf("could not determine the wrapper folder from %q", zr.File[0].Name), nil)
	}
	prefix := wrapper + "/"

	tree := model.NewFileTree()
	remaining := maxBytes
	for _, zf := range zr.File {
		rel, ok := strings.CutPrefix(zf.Name, prefix)
		if !ok {
			return nil, model.NewArchiveError(fmt.Sprintf("entry %q is outside of the %q wrapper folder", zf.Name, wrapper), nil)
		}
		if rel == "" || zf.FileInfo().IsDir() {
			continue
		}

		contents, err := readZipFile(zf, remaining)
		if errors.Is(err, errTreeTooBig) {
			return nil, model.NewArchiveError(fmt.Sprintf("archive files are bigger than %s once decompressed", humanize.IBytes(uint64(maxBytes))), nil)
		}
		if err != nil {
			return nil, model.NewArchiveError(fmt.Sprintf("could not read %q", zf.Name), err)
		}
		remaining -= int64(len(contents))
		if err := tree.AddFile(rel, contents); err != nil {
			return nil, model.NewArchiveError("invalid archive entry", err)
		}
	}

	if tree.Len() == 0 {
		return nil, model.NewArchiveError("archive has no files", nil)
	}

	return tree, nil
}

var errTreeTooBig = errors.New("decompressed archive is too big")

// readZipFile reads a file up to limit bytes, the declared size is not trusted.
func readZipFile(zf *zip.File, limit int64) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTreeTooBig
	}

	return data, nil
}
