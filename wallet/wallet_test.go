package wallet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestService(t *testing.T) *Service {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "wallet.dat"))
	require.NoError(t, err)
	return s
}

func TestCreateReturnsAFreshAddressEachTime(t *testing.T) {
	s := openTestService(t)

	a1, err := s.Create()
	require.NoError(t, err)
	a2, err := s.Create()
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)

	addrs, err := s.ListAddresses()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a1, a2}, addrs)
}

func TestGetReturnsErrNotFoundForUnknownAddress(t *testing.T) {
	s := openTestService(t)
	_, err := s.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.dat")

	s1, err := Open(path)
	require.NoError(t, err)
	addr, err := s1.Create()
	require.NoError(t, err)

	s2, err := Open(path)
	require.NoError(t, err)
	w, err := s2.Get(addr)
	require.NoError(t, err)
	require.Equal(t, addr, w.Address)

	list, err := s2.ListAddresses()
	require.NoError(t, err)
	require.Equal(t, []string{addr}, list)
}

func TestLockThenUnlockRoundTripsWallets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.dat")

	s1, err := Open(path)
	require.NoError(t, err)
	addr, err := s1.Create()
	require.NoError(t, err)
	require.NoError(t, s1.Lock("correct horse battery staple"))

	s2, err := Open(path)
	require.NoError(t, err)

	_, err = s2.Get(addr)
	require.ErrorIs(t, err, ErrLocked)

	err = s2.Unlock("wrong passphrase")
	require.ErrorIs(t, err, ErrWrongPassphrase)

	require.NoError(t, s2.Unlock("correct horse battery staple"))
	w, err := s2.Get(addr)
	require.NoError(t, err)
	require.Equal(t, addr, w.Address)
}

func TestLockedServiceRejectsCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.dat")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Create()
	require.NoError(t, err)
	require.NoError(t, s1.Lock("hunter2"))

	s2, err := Open(path)
	require.NoError(t, err)
	_, err = s2.Create()
	require.ErrorIs(t, err, ErrLocked)
}
