package runner

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// readTarEntry reads one entry from the output container. The container
// is a pre-sized file the guest writes a tar into; the tar reader stops
// at the zero padding after the last entry.
func readTarEntry(tarPath string, name string) ([]byte, error) {
	f, err := os.Open(tarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open output container: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read output container: %w", err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
		}
		return data, nil
	}

	return nil, errors.New("entry " + name + " not found in output container")
}

func readTarEntryBestEffort(tarPath string, name string) string {
	data, err := readTarEntry(tarPath, name)
	if err != nil {
		return ""
	}
	return string(data)
}
