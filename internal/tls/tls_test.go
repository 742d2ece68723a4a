package tls

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClientConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "tls")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	invalidCA := filepath.Join(dir, "ca.pem")
	require.NoError(t, ioutil.WriteFile(invalidCA, []byte("foo"), 0600))

	tests := []struct {
		Name          string
		CACert        string
		TLSCert       string
		TLSKey        string
		ExpectedNil   bool
		ExpectedError bool
	}{
		{
			Name:        "no tls",
			ExpectedNil: true,
		},
		{
			Name:          "missing ca certificate",
			CACert:        filepath.Join(dir, "missing.pem"),
			ExpectedError: true,
		},
		{
			Name:          "invalid ca certificate",
			CACert:        invalidCA,
			ExpectedError: true,
		},
		{
			Name:          "key without certificate",
			TLSKey:        filepath.Join(dir, "key.pem"),
			ExpectedError: true,
		},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			conf, err := NewClientConfig(tst.CACert, tst.TLSCert, tst.TLSKey)
			if tst.ExpectedError {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tst.ExpectedNil, conf == nil)
		})
	}
}
