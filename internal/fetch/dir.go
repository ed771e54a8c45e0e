package fetch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/security"
)

// DirBackend reads labs from <root>/<name>/<resource>.
type DirBackend struct {
	root string
}

// NewDirBackend creates a backend rooted at dir.
func NewDirBackend(dir string) *DirBackend {
	return &DirBackend{root: dir}
}

// Root returns the labs directory.
func (b *DirBackend) Root() string {
	return b.root
}

// ReadResource reads one lab file.
func (b *DirBackend) ReadResource(ctx context.Context, lab, resource string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}

	f, err := os.Open(filepath.Join(b.root, lab, resource))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &labkit.NotFoundError{Lab: lab, Resource: resource}
		}
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxResourceSize+1))
	if err != nil {
		return "", &labkit.FetchError{Lab: lab, Resource: resource, Err: err}
	}
	if len(data) > maxResourceSize {
		return "", tooLarge(lab, resource)
	}
	return string(data), nil
}

// Summary describes a lab for index listings.
type Summary struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// List returns the labs under the root that have a description, sorted by
// name. Incomplete bundles still appear; loading them reports what is missing.
func (b *DirBackend) List() ([]Summary, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var labs []Summary
	for _, e := range entries {
		if !e.IsDir() || !security.ValidLabName(e.Name()) {
			continue
		}
		desc, err := os.ReadFile(filepath.Join(b.root, e.Name(), labkit.ResourceDescription))
		if err != nil {
			continue
		}
		labs = append(labs, Summary{Name: e.Name(), Title: labkit.DeriveTitle(string(desc))})
	}

	sort.Slice(labs, func(i, j int) bool { return labs[i].Name < labs[j].Name })
	return labs, nil
}
