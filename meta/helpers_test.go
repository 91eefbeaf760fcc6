package meta

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	veritySegment    = "1 4096 4096 1000 1001 sha256 aabbccdd 0011"
	integritySegment = "1000 4096 1 journal_sectors:1024"
)

// metadataString assembles a metadata string including its terminator.
func metadataString(fsType, mode, keyword, verint, crypt string) []byte {
	var b bytes.Buffer
	b.WriteString(Version + " " + fsType + " " + mode + " " + keyword)
	b.WriteByte(SegmentDelimiter)
	b.WriteString(verint)
	b.WriteByte(SegmentDelimiter)
	b.WriteString(crypt)
	b.WriteByte(0)
	return b.Bytes()
}

// buildRegion lays out message, signature and zero padding in a region of size bytes.
func buildRegion(t *testing.T, size int, message, signature []byte) []byte {
	t.Helper()
	require.LessOrEqual(t, len(message)+len(signature), size, "message and signature must fit the region")
	region := make([]byte, size)
	copy(region, message)
	copy(region[len(message):], signature)
	return region
}

// writeImage writes a partition image of prefix filler bytes followed by region.
func writeImage(t *testing.T, prefix int, region []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rootfs.img")
	data := bytes.Repeat([]byte{0xA5}, prefix)
	data = append(data, region...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

type ed25519Signer struct {
	priv    ed25519.PrivateKey
	keyFile string
}

// newEd25519Signer generates a key pair and writes the public key as PEM.
func newEd25519Signer(t *testing.T) *ed25519Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "rootfs-pub.pem")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return &ed25519Signer{priv: priv, keyFile: keyFile}
}

// sign returns a SignatureLength blob holding the signature over message.
func (s *ed25519Signer) sign(message []byte) []byte {
	blob := make([]byte, SignatureLength)
	copy(blob, ed25519.Sign(s.priv, message))
	return blob
}

func staticKeys(keys map[string][]byte) KeyResolver {
	return KeyResolverFunc(func(descriptor string) ([]byte, error) {
		k, ok := keys[descriptor]
		if !ok {
			return nil, os.ErrNotExist
		}
		return k, nil
	})
}

func nullLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// fakeDevice serves an in-memory image and records whether it was closed.
type fakeDevice struct {
	*bytes.Reader
	size    uint64
	sizeErr error
	chunk   int
	closed  bool
}

func newFakeDevice(data []byte) *fakeDevice {
	return &fakeDevice{Reader: bytes.NewReader(data), size: uint64(len(data))}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if d.chunk > 0 && len(p) > d.chunk {
		p = p[:d.chunk]
	}
	return d.Reader.Read(p)
}

func (d *fakeDevice) Size() (uint64, error) {
	return d.size, d.sizeErr
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

var _ Device = (*fakeDevice)(nil)
var _ io.ReadSeeker = (*fakeDevice)(nil)
