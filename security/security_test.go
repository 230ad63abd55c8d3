package security

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testKeyBits keeps RSA generation fast; production uses DefaultKeyBits.
const testKeyBits = 1024

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	require.NoError(t, err)
	return priv
}

func TestKeyStoreAddGetRemove(t *testing.T) {
	ks := NewKeyStore()
	key := PublicKey("key-a")
	require.NoError(t, ks.Add("alice", key))

	got, ok := ks.Get("alice")
	require.True(t, ok)
	require.Equal(t, key, got)

	ks.Remove("alice")
	_, ok = ks.Get("alice")
	require.False(t, ok)
}

func TestKeyStoreAddRejectsDuplicateKeyUnderOtherName(t *testing.T) {
	ks := NewKeyStore()
	key := PublicKey("shared-key")
	require.NoError(t, ks.Add("alice", key))
	err := ks.Add("bob", key)
	require.ErrorIs(t, err, ErrAmbiguousPeer)
}

func TestKeyStoreAddSameNameOverwrites(t *testing.T) {
	ks := NewKeyStore()
	require.NoError(t, ks.Add("alice", PublicKey("key-a")))
	require.NoError(t, ks.Add("alice", PublicKey("key-b")))

	got, ok := ks.Get("alice")
	require.True(t, ok)
	require.Equal(t, PublicKey("key-b"), got)
}

func TestKeyStoreLookup(t *testing.T) {
	ks := NewKeyStore()
	key := PublicKey("key-a")
	require.NoError(t, ks.Add("alice", key))

	name, found, ambiguous := ks.Lookup(key)
	require.True(t, found)
	require.False(t, ambiguous)
	require.Equal(t, "alice", name)

	_, found, _ = ks.Lookup(PublicKey("unknown"))
	require.False(t, found)
}

func TestKeyStoreNames(t *testing.T) {
	ks := NewKeyStore()
	require.NoError(t, ks.Add("alice", PublicKey("a")))
	require.NoError(t, ks.Add("bob", PublicKey("b")))
	require.ElementsMatch(t, []string{"alice", "bob"}, ks.Names())
}

func TestPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	priv := genKey(t)
	der := EncodePublicKey(&priv.PublicKey)
	pub, err := ParsePublicKey(der)
	require.NoError(t, err)
	require.Equal(t, priv.PublicKey.N, pub.N)
}

func TestLoadOrGenerateKeyPairPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "meshrpc.key")

	priv, err := loadOrGenerateKeyPairForTest(path)
	require.NoError(t, err)
	require.NotNil(t, priv)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, info.IsDir())

	reloaded, err := loadOrGenerateKeyPairForTest(path)
	require.NoError(t, err)
	require.Equal(t, priv.N, reloaded.N)
}

// loadOrGenerateKeyPairForTest generates a small key directly rather than
// through LoadOrGenerateKeyPair's DefaultKeyBits, keeping the test fast.
func loadOrGenerateKeyPairForTest(path string) (*rsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return decodeTestKey(path)
	}
	priv := genKeyNoT()
	if err := persistPrivateKey(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func genKeyNoT() *rsa.PrivateKey {
	priv, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	if err != nil {
		panic(err)
	}
	return priv
}

func decodeTestKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodePrivateKey(raw)
}

func TestHandshakeInitiateAcceptSharesSeed(t *testing.T) {
	aliceKey := genKey(t)
	bobKey := genKey(t)

	aliceKeys := NewKeyStore()
	bobKeys := NewKeyStore()
	require.NoError(t, bobKeys.Add("alice", EncodePublicKey(&aliceKey.PublicKey)))

	alice := NewHandshaker(aliceKey, aliceKeys)
	bob := NewHandshaker(bobKey, bobKeys)

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	type acceptResult struct {
		outcome *Outcome
		err     error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		outcome, err := bob.Accept(connB)
		acceptCh <- acceptResult{outcome, err}
	}()

	initiated, err := alice.Initiate(connA, bob.PublicKey)
	require.NoError(t, err)

	res := <-acceptCh
	require.NoError(t, res.err)
	require.Equal(t, "alice", res.outcome.PeerName)
	require.Equal(t, initiated.Seed, res.outcome.Seed)
	require.Len(t, initiated.Seed, SeedSize)
}

func TestHandshakeAcceptRejectsUntrustedPeer(t *testing.T) {
	aliceKey := genKey(t)
	bobKey := genKey(t)

	alice := NewHandshaker(aliceKey, NewKeyStore())
	bob := NewHandshaker(bobKey, NewKeyStore()) // bob never trusts alice's key

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := bob.Accept(connB)
		connB.Close() // bob never acks; unblock alice's pending read
		errc <- err
	}()

	_, err := alice.Initiate(connA, bob.PublicKey)
	require.Error(t, err) // bob never acks, so alice's read fails

	require.ErrorIs(t, <-errc, ErrUntrustedPeer)
}

func TestHandshakeAcceptRejectsAmbiguousPeer(t *testing.T) {
	aliceKey := genKey(t)
	bobKey := genKey(t)

	bobKeys := NewKeyStore()
	bobKeys.byName["alice"] = EncodePublicKey(&aliceKey.PublicKey)
	bobKeys.byName["alice-dup"] = EncodePublicKey(&aliceKey.PublicKey)

	alice := NewHandshaker(aliceKey, NewKeyStore())
	bob := NewHandshaker(bobKey, bobKeys)

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := bob.Accept(connB)
		connB.Close() // bob never acks; unblock alice's pending read
		errc <- err
	}()

	_, _ = alice.Initiate(connA, bob.PublicKey)
	require.ErrorIs(t, <-errc, ErrAmbiguousHandshakePeer)
}
