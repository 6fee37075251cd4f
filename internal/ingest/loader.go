package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"ragagent/internal/domain"
)

// Document types recorded under domain.MetaDocumentType.
const (
	TypeText = "text"
	TypePDF  = "pdf"
)

var textExts = map[string]bool{".txt": true, ".md": true}

// Source is one input file with the documents loaded from it.
type Source struct {
	Path      string
	Kind      string
	Documents []domain.Document
}

// ExpandPaths resolves globs and walks directories, returning the supported
// files in sorted order without duplicates.
func ExpandPaths(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !supported(p) || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExts[ext] || ext == ".pdf"
}

// LoadFile reads a text file as one document or a PDF as one document per
// non-empty page.
func LoadFile(path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		docs, err := loadPDF(abs)
		return Source{Path: abs, Kind: TypePDF, Documents: docs}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Source{}, err
	}
	doc := domain.Document{
		ID:      hashString(abs),
		Path:    abs,
		Content: string(data),
		Metadata: map[string]any{
			domain.MetaFilePath:     abs,
			domain.MetaDocumentType: TypeText,
		},
	}
	return Source{Path: abs, Kind: TypeText, Documents: []domain.Document{doc}}, nil
}

func loadPDF(abs string) ([]domain.Document, error) {
	f, r, err := pdf.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", abs, err)
	}
	defer f.Close()

	url := "file://" + filepath.ToSlash(abs)
	base := hashString(abs)
	var docs []domain.Document
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d of %s: %w", i, abs, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			ID:      base + ":p" + strconv.Itoa(i),
			Path:    abs,
			Content: text,
			Metadata: map[string]any{
				domain.MetaFilePath:     abs,
				domain.MetaDocumentType: TypePDF,
				domain.MetaPDFURL:       url,
				domain.MetaPageIdx:      i,
			},
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("pdf %s has no extractable text", abs)
	}
	return docs, nil
}

// LoadAll loads every path. Files that fail are reported in the joined error
// while the rest are still returned.
func LoadAll(paths []string) ([]Source, error) {
	var sources []Source
	var errs []error
	for _, p := range paths {
		src, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, src)
	}
	return sources, errors.Join(errs...)
}

// CollectionName derives a collection name from a source: "<kind>_<stem>"
// with the stem lower-cased and reduced to [a-z0-9_].
func CollectionName(src Source) string {
	stem := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = hashString(src.Path)
	}
	return src.Kind + "_" + name
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
