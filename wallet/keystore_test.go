package wallet

import (
	"path/filepath"
	"testing"

	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	"github.com/stretchr/testify/require"
)

func TestSaveKeyLoadKeyRoundTrips(t *testing.T) {
	priv := secp256k1.GenPrivKey()
	path := filepath.Join(t.TempDir(), "relayer.key")

	require.NoError(t, SaveKey(path, "correct horse", priv))

	loaded, err := LoadKey(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, priv.Bytes(), loaded.Bytes())
}

func TestLoadKeyRejectsWrongPassword(t *testing.T) {
	priv := secp256k1.GenPrivKey()
	path := filepath.Join(t.TempDir(), "relayer.key")

	require.NoError(t, SaveKey(path, "correct horse", priv))

	_, err := LoadKey(path, "wrong password")
	require.Error(t, err)
}

func TestLoadKeyRejectsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayer.key")
	require.NoError(t, SaveKey(path, "correct horse", secp256k1.GenPrivKey()))

	require.Error(t, func() error {
		_, err := LoadKey(path+"-missing", "correct horse")
		return err
	}())
}

func TestSaveKeyTwiceYieldsIndependentlyLoadableFiles(t *testing.T) {
	priv := secp256k1.GenPrivKey()
	path1 := filepath.Join(t.TempDir(), "a.key")
	path2 := filepath.Join(t.TempDir(), "b.key")

	require.NoError(t, SaveKey(path1, "pw", priv))
	require.NoError(t, SaveKey(path2, "pw", priv))

	loaded1, err := LoadKey(path1, "pw")
	require.NoError(t, err)
	loaded2, err := LoadKey(path2, "pw")
	require.NoError(t, err)
	require.Equal(t, loaded1.Bytes(), loaded2.Bytes())
}
