// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
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

// Command license lists or stamps the repository's license header on Go
// source files.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// licenseDefaultFile is the name of the license file.
	licenseDefaultFile = "LICENSE"

	// licenseHeaderPrefix is the unique prefix identifying a license header.
	licenseHeaderPrefix = "// MIT License"
)

// Directories to be excluded.
var excluded = map[string]struct{}{
	"vendor":  {},
	".git":    {},
	".vscode": {},
}

func main() {
	licenseFile := flag.String("license", licenseDefaultFile, "License file")
	root := flag.String("dir", ".", "Root directory path")
	list := flag.Bool("list", false, "List all files without a license header (no update)")
	force := flag.Bool("force", false, "Force an update of the license header")

	flag.Parse()

	license, err := os.ReadFile(*licenseFile)
	if err != nil {
		fmt.Printf("Error reading license file: %v\n", err)
		os.Exit(1)
	}

	files, err := collect(*root, *force)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *list {
		fmt.Println("Source files without license headers:")
		for _, file := range files {
			fmt.Println(file)
		}
		return
	}

	header := makeComment(string(license), "//")
	for _, file := range files {
		if err := stampHeader(file, header, *force); err != nil {
			fmt.Printf("Error updating %s: %v\n", file, err)
			os.Exit(1)
		}
	}
}

// collect walks root and returns the Go source files missing a header, or
// all Go source files when force is set.
func collect(root string, force bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, ok := excluded[d.Name()]; ok {
				return filepath.SkipDir
			}
			return nil
		}

		// Only stamp .go files, but leave generated ones alone.
		if !strings.HasSuffix(d.Name(), ".go") || strings.HasSuffix(d.Name(), ".pb.go") {
			return nil
		}

		if force || !hasHeader(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// makeComment wraps the given string in a line comment.
func makeComment(s, prefix string) string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			lines = append(lines, prefix+"\n")
		} else {
			lines = append(lines, fmt.Sprintf("%s %s\n", prefix, line))
		}
	}
	lines = append(lines, "\n")
	return strings.Join(lines, "")
}

// hasHeader checks if a file starts with a license header.
func hasHeader(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(data), licenseHeaderPrefix)
}

// stampHeader prefixes the source file with the header, replacing an
// existing one on update.
func stampHeader(path, header string, update bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	source := string(data)
	if update {
		source = stripHeader(source)
	}

	return os.WriteFile(path, []byte(header+source), 0o644)
}

// stripHeader removes a leading license header, if present.
func stripHeader(s string) string {
	if !strings.HasPrefix(s, licenseHeaderPrefix) {
		return s
	}

	// Remove lines until a line without a comment prefix is found.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "//") {
			lines = lines[i:]
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}
