package tokenizer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"

	tk "github.com/sugarme/tokenizer"
)

const (
	tokenizerJSON = "tokenizer.json"
	vocabTXT      = "vocab.txt"
)

// downloader fetches a named artifact into the local cache. Tests replace it.
var downloader = tk.CachedPath

// Load resolves identifier to a tokenizer artifact and builds an encoder.
//
// Resolution order: a file path (tokenizer.json or vocab.txt), a directory
// holding either file, <SearchDirs>/<identifier>/, and finally, when
// opts.AllowDownload is set, tokenizer.json fetched by model name into the
// sugarme cache. Anything else fails with common.ErrTokenization.
func Load(identifier string, opts Options) (*SugarEncoder, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, common.Errorf(common.ErrTokenization, "tokenizer identifier is empty")
	}

	if enc, ok, err := loadPath(identifier, opts); ok || err != nil {
		return enc, err
	}
	for _, dir := range opts.SearchDirs {
		if dir == "" {
			continue
		}
		if enc, ok, err := loadPath(filepath.Join(dir, identifier), opts); ok || err != nil {
			return enc, err
		}
	}
	if opts.AllowDownload {
		path, err := downloader(identifier, tokenizerJSON)
		if err != nil {
			return nil, common.Wrap(common.ErrTokenization, err, "download tokenizer %q", identifier)
		}
		return NewFromFile(path, opts)
	}
	return nil, common.Errorf(common.ErrTokenization, "cannot resolve tokenizer %q", identifier)
}

// loadPath reports ok=false when path holds no tokenizer artifact at all.
func loadPath(path string, opts Options) (*SugarEncoder, bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, nil
	}
	if !fi.IsDir() {
		enc, err := loadFile(path, opts)
		return enc, true, err
	}
	for _, name := range []string{tokenizerJSON, vocabTXT} {
		candidate := filepath.Join(path, name)
		if cfi, err := os.Stat(candidate); err == nil && !cfi.IsDir() {
			enc, err := loadFile(candidate, opts)
			return enc, true, err
		}
	}
	return nil, false, nil
}

func loadFile(path string, opts Options) (*SugarEncoder, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewFromFile(path, opts)
	}
	return NewFromVocab(path, opts)
}
