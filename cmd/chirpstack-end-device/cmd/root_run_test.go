package cmd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/certification"
	"github.com/brocaar/chirpstack-end-device/internal/mac"
	"github.com/brocaar/chirpstack-end-device/internal/storage"
	"github.com/brocaar/chirpstack-end-device/internal/uplink"
)

func TestParseClass(t *testing.T) {
	tests := []struct {
		Name          string
		Class         string
		ExpectedClass certification.Class
		ExpectedError bool
	}{
		{Name: "empty", Class: "", ExpectedClass: certification.ClassA},
		{Name: "class a", Class: "A", ExpectedClass: certification.ClassA},
		{Name: "class c lower-case", Class: "c", ExpectedClass: certification.ClassC},
		{Name: "class b", Class: "B", ExpectedError: true},
	}

	for _, tst := range tests {
		t.Run(tst.Name, func(t *testing.T) {
			assert := require.New(t)

			class, err := parseClass(tst.Class)
			if tst.ExpectedError {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tst.ExpectedClass, class)
		})
	}
}

func TestIsCapacityError(t *testing.T) {
	assert := require.New(t)

	assert.True(isCapacityError(uplink.ErrAnswerCapacity))
	assert.True(isCapacityError(errors.Wrap(storage.ErrMaxGroups, "setup error")))
	assert.False(isCapacityError(mac.ErrInvalidState))
}

func TestStorageDefaults(t *testing.T) {
	assert := require.New(t)

	// the dev-nonce counter must survive a restart
	assert.Equal("sql", viper.GetString("storage.type"))
	assert.Equal("sqlite3", viper.GetString("storage.sql.driver"))
	assert.True(viper.GetBool("storage.sql.automigrate"))
}
