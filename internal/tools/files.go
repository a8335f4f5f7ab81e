package tools

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/vinayprograms/hackmate/internal/conversation"
)

// File is one generated source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// codeOutput is the coding stage's reply shape.
type codeOutput struct {
	Files        []File   `json:"files"`
	Readme       string   `json:"readme"`
	Requirements []string `json:"requirements"`
}

// FilesFromOutput extracts generated files from a coding stage reply.
// A non-empty readme becomes README.md unless the reply already has one.
func FilesFromOutput(text string) ([]File, error) {
	var out codeOutput
	if err := conversation.DecodeJSON(text, &out); err != nil {
		return nil, fmt.Errorf("parse coding output: %w", err)
	}

	var files []File
	hasReadme := false
	for _, f := range out.Files {
		if f.Path == "" {
			continue
		}
		if err := checkPath(f.Path); err != nil {
			return nil, err
		}
		if filepath.Base(f.Path) == "README.md" && filepath.Dir(filepath.Clean(f.Path)) == "." {
			hasReadme = true
		}
		files = append(files, File{Path: filepath.ToSlash(filepath.Clean(f.Path)), Content: f.Content})
	}
	if out.Readme != "" && !hasReadme {
		files = append(files, File{Path: "README.md", Content: out.Readme})
	}
	if len(files) == 0 {
		return nil, errors.New("coding output has no files")
	}
	return files, nil
}

// checkPath rejects paths that would escape the repository.
func checkPath(p string) error {
	if !filepath.IsLocal(p) {
		return fmt.Errorf("file path %q escapes the repository", p)
	}
	return nil
}
