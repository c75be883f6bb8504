package gate

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// spool writes the uploaded archive to a temp file outside the work
// directory (which is nuked on every run start). Zstd-compressed
// uploads are decompressed transparently, sniffed by magic.
func (g *Gate) spool(upload io.Reader) (string, error) {
	out, err := os.CreateTemp("", "sandbox-upload-*.tar")
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	defer out.Close()

	br := bufio.NewReader(upload)
	var src io.Reader = br

	magic, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(magic, zstdMagic) {
		d, err := zstd.NewReader(br)
		if err != nil {
			_ = os.Remove(out.Name())
			return "", fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer d.Close()
		src = d
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("failed to spool upload: %w", err)
	}

	return out.Name(), nil
}
