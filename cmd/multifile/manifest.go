package multifile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fetchkit/pfetch/pkg/download"
)

// A text manifest is a file consisting of pairs of URLs and paths:
//
// http://example.com/foo/bar.txt     foo/bar.txt
// http://example.com/foo/bar/baz.txt foo/bar/baz.txt
//
// A manifest may contain blank lines and lines starting with '#'.
// The pairs are separated by arbitrary whitespace.
//
// A YAML manifest is a list of entries:
//
//   - link: http://example.com/foo/bar.txt
//     op: foo/bar.txt
//   - link: http://example.com/baz.txt
//
// An entry without an output path is saved under the last element of the URL path.

const (
	formatAuto = "auto"
	formatText = "text"
	formatYAML = "yaml"
)

type yamlEntry struct {
	Link       string `yaml:"link"`
	OutputPath string `yaml:"op,omitempty"`
}

func manifestFile(manifestPath string) (*os.File, error) {
	if manifestPath == "-" {
		return os.Stdin, nil
	}
	if _, err := os.Stat(manifestPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest file %s does not exist", manifestPath)
	}
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("error opening manifest file %s: %w", manifestPath, err)
	}
	return file, err
}

// manifestFormat resolves "auto" by the manifest's extension; stdin is read as text.
func manifestFormat(format, manifestPath string) (string, error) {
	switch format {
	case formatText, formatYAML:
		return format, nil
	case formatAuto, "":
		switch strings.ToLower(filepath.Ext(manifestPath)) {
		case ".yaml", ".yml":
			return formatYAML, nil
		}
		return formatText, nil
	default:
		return "", fmt.Errorf("unknown manifest format %q (want %s, %s or %s)", format, formatAuto, formatText, formatYAML)
	}
}

func parseManifest(r io.Reader, format string) ([]download.Request, error) {
	var (
		reqs []download.Request
		err  error
	)
	switch format {
	case formatYAML:
		reqs, err = parseYAMLManifest(r)
	default:
		reqs, err = parseTextManifest(r)
	}
	if err != nil {
		return nil, err
	}

	seenDestinations := make(map[string]string, len(reqs))
	for _, req := range reqs {
		if err := checkSeenDestinations(seenDestinations, req.Dest, req.URL); err != nil {
			return nil, err
		}
		seenDestinations[req.Dest] = req.URL
	}
	return reqs, nil
}

func parseLine(line string) (urlString, dest string, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("error parsing manifest invalid line format `%s`", line)
	}
	return fields[0], fields[1], nil
}

func parseTextManifest(r io.Reader) ([]download.Request, error) {
	var reqs []download.Request
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urlString, dest, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		if err := validateURL(urlString); err != nil {
			return nil, err
		}
		reqs = append(reqs, download.Request{URL: urlString, Dest: dest})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return reqs, nil
}

func parseYAMLManifest(r io.Reader) ([]download.Request, error) {
	var entries []yamlEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing YAML manifest: %w", err)
	}
	reqs := make([]download.Request, 0, len(entries))
	for i, entry := range entries {
		if entry.Link == "" {
			return nil, fmt.Errorf("entry %d has no link", i+1)
		}
		if err := validateURL(entry.Link); err != nil {
			return nil, err
		}
		dest := entry.OutputPath
		if dest == "" {
			var err error
			if dest, err = defaultDestination(entry.Link); err != nil {
				return nil, err
			}
		}
		reqs = append(reqs, download.Request{URL: entry.Link, Dest: dest})
	}
	return reqs, nil
}

func validateURL(urlString string) error {
	u, err := url.Parse(urlString)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", urlString, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url %s: scheme must be http or https", urlString)
	}
	return nil
}

func defaultDestination(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", urlString, err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "", fmt.Errorf("cannot derive a file name from %s, set op", urlString)
	}
	return base, nil
}

func checkSeenDestinations(destinations map[string]string, dest string, urlString string) error {
	if seenURL, ok := destinations[dest]; ok {
		if seenURL != urlString {
			return fmt.Errorf("duplicate destination %s with different urls: %s and %s", dest, seenURL, urlString)
		}
		return fmt.Errorf("duplicate entry: %s %s", urlString, dest)
	}
	return nil
}
