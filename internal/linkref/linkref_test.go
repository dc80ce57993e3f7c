package linkref

import (
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestParseLiberal(t *testing.T) {
	hex := strings.Repeat("a", 64)

	cases := []struct {
		name    string
		content string
		want    digest.Digest
	}{
		{"exact", "sha256:" + hex, digest.Digest("sha256:" + hex)},
		{"trailing newline", "sha256:" + hex + "\n", digest.Digest("sha256:" + hex)},
		{"trailing garbage", "sha256:" + hex + " some junk", digest.Digest("sha256:" + hex)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.content))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"notadigest",
		"sha256:tooshort",
		"sha256:",
	}
	for _, c := range cases {
		_, err := Parse([]byte(c))
		require.Error(t, err)
	}
}

// Property P5: parse("sha256:" + d + trailing_noise) == d whenever d is 64 hex chars.
func TestParseProperty_P5(t *testing.T) {
	digests := []string{
		strings.Repeat("0", 64),
		strings.Repeat("f", 64),
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
	}
	noises := []string{"", "\n", " trailing", "\r\n", "-extra.stuff"}

	for _, d := range digests {
		for _, noise := range noises {
			got, err := Parse([]byte("sha256:" + d + noise))
			require.NoError(t, err)
			require.Equal(t, d, got.Hex())
		}
	}
}
