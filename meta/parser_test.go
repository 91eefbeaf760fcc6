package meta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(keys KeyResolver) (*Parser, *test.Hook) {
	logger, hook := nullLogger()
	return &Parser{Keys: keys, Limits: DefaultLimits, Logger: logger}, hook
}

func logMessages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func TestParse_Verity(t *testing.T) {
	p, hook := newTestParser(nil)
	msg := metadataString("ext4", "ro", "verity", veritySegment, "")

	m, err := p.Parse("/dev/sda2", msg)
	require.NoError(t, err)

	assert.Equal(t, "/dev/sda2", m.DevicePath)
	assert.Equal(t, "ext4", m.FSType)
	assert.True(t, m.ReadOnly)
	assert.Equal(t, CryptVerity, m.Crypt)
	assert.True(t, strings.HasPrefix(m.VerintTable, "1 /dev/sda2 /dev/sda2 4096 4096 1000 1001 sha256 "), m.VerintTable)
	assert.Empty(t, m.CryptTable)
	assert.Equal(t, uint64(4096000), m.DataSizeBytes)

	assert.Contains(t, logMessages(hook), "using rootfs")
	assert.Contains(t, logMessages(hook), "dm-verity hash algorithm")
}

func TestParse_Integrity(t *testing.T) {
	keys := staticKeys(map[string][]byte{"mykey": {0xAB, 0xCD}})
	p, hook := newTestParser(keys)
	msg := metadataString("xfs", "rw", "integrity", "1000 4096 1 internal_hash:sha256::mykey", "")

	m, err := p.Parse("/dev/sda3", msg)
	require.NoError(t, err)

	assert.False(t, m.ReadOnly)
	assert.Equal(t, "/dev/sda3 0 - J 2 block_size:4096 internal_hash:sha256:abcd", m.VerintTable)
	assert.Equal(t, uint64(4096000), m.DataSizeBytes)
	assert.Contains(t, logMessages(hook), "dm-integrity algorithm")
}

func TestParse_RoundTrip(t *testing.T) {
	segments := map[string]string{
		"plain":           "",
		"verity":          veritySegment,
		"integrity":       integritySegment,
		"crypt":           "",
		"crypt-verity":    veritySegment,
		"crypt-integrity": integritySegment,
	}
	for _, fsType := range []string{"ext4", "squashfs", "btrfs"} {
		for _, mode := range []string{"ro", "rw"} {
			for keyword, seg := range segments {
				p, _ := newTestParser(nil)
				m, err := p.Parse("/dev/vdb1", metadataString(fsType, mode, keyword, seg, ""))
				require.NoError(t, err, "%s %s %s", fsType, mode, keyword)

				assert.Equal(t, fsType, m.FSType)
				assert.Equal(t, mode, m.Mode())
				assert.Equal(t, keyword, m.Crypt.Keyword())
				if m.Crypt.Has(CryptCrypt) || m.Crypt == CryptNone {
					assert.Empty(t, m.VerintTable, keyword)
					assert.Zero(t, m.DataSizeBytes, keyword)
				} else {
					assert.NotEmpty(t, m.VerintTable, keyword)
				}
				assert.Empty(t, m.CryptTable, keyword)
			}
		}
	}
}

func TestParse_CryptRecordsIgnoreSegments(t *testing.T) {
	p, _ := newTestParser(nil)
	m, err := p.Parse("/dev/sda2", metadataString("ext4", "ro", "crypt-verity", "garbage", "aes-xts-plain64 key"))
	require.NoError(t, err)
	assert.Equal(t, CryptCrypt|CryptVerity, m.Crypt)
	assert.Empty(t, m.VerintTable)
	assert.Empty(t, m.CryptTable)
}

func TestParse_WithoutTerminator(t *testing.T) {
	p, _ := newTestParser(nil)
	msg := metadataString("ext4", "ro", "plain", "", "")
	m, err := p.Parse("/dev/sda2", msg[:len(msg)-1])
	require.NoError(t, err)
	assert.Equal(t, CryptNone, m.Crypt)
}

func TestParse_BytesAfterTerminatorIgnored(t *testing.T) {
	p, _ := newTestParser(nil)
	msg := append(metadataString("ext4", "rw", "plain", "", ""), []byte("COMINIT-META-1 xfs ro verity")...)
	m, err := p.Parse("/dev/sda2", msg)
	require.NoError(t, err)
	assert.Equal(t, "ext4", m.FSType)
}

func TestParse_DoesNotModifyInput(t *testing.T) {
	p, _ := newTestParser(nil)
	msg := metadataString("ext4", "ro", "verity", veritySegment, "")
	orig := bytes.Clone(msg)

	_, err := p.Parse("/dev/sda2", msg)
	require.NoError(t, err)
	assert.Equal(t, orig, msg)
}

func TestParse_FSTypeTruncated(t *testing.T) {
	p, _ := newTestParser(nil)
	long := strings.Repeat("f", 40)
	m, err := p.Parse("/dev/sda2", metadataString(long, "ro", "plain", "", ""))
	require.NoError(t, err)
	assert.Equal(t, long[:FSTypeMaxLen], m.FSType)
}

func TestParse_VersionIsPrefix(t *testing.T) {
	p, _ := newTestParser(nil)
	msg := []byte("COMINIT-META-1x ext4 ro plain\xff\xff\x00")
	m, err := p.Parse("/dev/sda2", msg)
	require.NoError(t, err)
	assert.Equal(t, "ext4", m.FSType)
}

func TestParse_GrammarErrors(t *testing.T) {
	cases := []struct {
		name string
		msg  []byte
		want error
	}{
		{"bad version", []byte("COMINIT-META-2 ext4 ro plain\xff\xff\x00"), ErrBadVersion},
		{"lowercase version", []byte("cominit-meta-1 ext4 ro plain\xff\xff\x00"), ErrBadVersion},
		{"bad mode", metadataString("ext4", "rx", "plain", "", ""), ErrBadMode},
		{"bad keyword", metadataString("ext4", "ro", "foo", "", ""), ErrBadCryptKeyword},
		{"no delimiter", []byte("COMINIT-META-1 ext4 ro plain\x00"), ErrTruncated},
		{"one delimiter", []byte("COMINIT-META-1 ext4 ro plain\xff\x00"), ErrTruncated},
		{"missing fs type", []byte("COMINIT-META-1\xff\xff\x00"), ErrTruncated},
		{"missing mode", []byte("COMINIT-META-1 ext4\xff\xff\x00"), ErrTruncated},
		{"missing keyword", []byte("COMINIT-META-1 ext4 ro\xff\xff\x00"), ErrTruncated},
		{"verity segment short", metadataString("ext4", "ro", "verity", "1 4096 4096 1000", ""), ErrTruncated},
		{"integrity segment short", metadataString("ext4", "ro", "integrity", "1000 4096", ""), ErrTruncated},
		{"verity overflow", metadataString("ext4", "ro", "verity", "1 4096 4096 18446744073709551615 1 sha256", ""), ErrNumericOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestParser(nil)
			m, err := p.Parse("/dev/sda2", tc.msg)
			require.ErrorIs(t, err, tc.want)
			assert.Nil(t, m, "no record on failure")
		})
	}
}

func TestParse_ExclusiveOptionsRejected(t *testing.T) {
	p, _ := newTestParser(nil)
	p.Keywords = map[string]CryptOptions{
		"verity":           CryptVerity,
		"verity-integrity": CryptVerity | CryptIntegrity,
	}
	require.ErrorIs(t, (CryptVerity | CryptIntegrity).Validate(), ErrExclusiveOptions)

	for _, seg := range []string{veritySegment, integritySegment, "", "garbage"} {
		m, err := p.Parse("/dev/sda2", metadataString("ext4", "ro", "verity-integrity", seg, ""))
		require.ErrorIs(t, err, ErrExclusiveOptions, "segment %q", seg)
		assert.Nil(t, m)
	}

	m, err := p.Parse("/dev/sda2", metadataString("ext4", "ro", "verity", veritySegment, ""))
	require.NoError(t, err, "custom table still maps regular keywords")
	assert.Equal(t, CryptVerity, m.Crypt)

	_, err = p.Parse("/dev/sda2", metadataString("ext4", "ro", "plain", "", ""))
	assert.ErrorIs(t, err, ErrBadCryptKeyword, "only the injected table is consulted")
}

func TestParse_LogsCryptKeyword(t *testing.T) {
	p, hook := newTestParser(nil)
	_, err := p.Parse("/dev/sda2", metadataString("ext4", "ro", "crypt-verity", "", ""))
	require.NoError(t, err)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "rootfs cryptographic features" {
			found = true
			assert.Equal(t, "crypt-verity", e.Data["keyword"])
			assert.Equal(t, "dm-verity dm-crypt", e.Data["features"])
		}
	}
	assert.True(t, found)
}

func TestParse_InvalidArguments(t *testing.T) {
	p, _ := newTestParser(nil)
	_, err := p.Parse("", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = p.Parse("/dev/sda2", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
