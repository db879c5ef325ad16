// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// The downloads package implements the pipeline's second stage: it consults
// the configured article sources in order, fans each source's work out over a
// bounded worker pool, and persists the retrieved files under the article's
// data directory. Every source implements the Source interface and registers
// itself at startup.
package downloads

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
)

// FileType classifies a downloaded file by its content.
type FileType string

const (
	FileTypePdf    FileType = "pdf"
	FileTypeXml    FileType = "xml"
	FileTypeHtml   FileType = "html"
	FileTypeText   FileType = "text"
	FileTypeCsv    FileType = "csv"
	FileTypeJson   FileType = "json"
	FileTypeBinary FileType = "binary"
)

// DownloadedFile describes one file a source wrote to disk.
type DownloadedFile struct {
	Path         string    `json:"path"`
	FileType     FileType  `json:"file_type"`
	ContentType  string    `json:"content_type,omitempty"`
	Source       string    `json:"source"`
	DownloadedAt time.Time `json:"downloaded_at"`
	MD5          string    `json:"md5,omitempty"`
}

// Result reports one source's attempt to retrieve one article. Sources
// return a Result even on failure, with Success unset and ErrorMessage
// explaining what went wrong.
type Result struct {
	Identifier   *identifiers.Identifier `json:"identifier"`
	Source       string                  `json:"source"`
	Success      bool                    `json:"success"`
	Files        []DownloadedFile        `json:"files,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
}

// File returns the first downloaded file of the given type, if any.
func (r *Result) File(fileType FileType) (DownloadedFile, bool) {
	for _, file := range r.Files {
		if file.FileType == fileType {
			return file, true
		}
	}
	return DownloadedFile{}, false
}

// ArtifactDir returns the directory a source's files for an article go
// into: data_root/<slug>/source/<source>.
func ArtifactDir(id *identifiers.Identifier, sourceName string) string {
	return filepath.Join(config.Dirs.DataRoot, id.Slug(), "source", sourceName)
}

// WriteArtifact writes data to dir/name (creating directories as needed)
// and returns its DownloadedFile record, stamped with the MD5 of the bytes.
func WriteArtifact(dir, name string, data []byte, fileType FileType, contentType, sourceName string) (DownloadedFile, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return DownloadedFile{}, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return DownloadedFile{}, err
	}
	checksum := md5.Sum(data)
	return DownloadedFile{
		Path:         path,
		FileType:     fileType,
		ContentType:  contentType,
		Source:       sourceName,
		DownloadedAt: time.Now().UTC(),
		MD5:          hex.EncodeToString(checksum[:]),
	}, nil
}
