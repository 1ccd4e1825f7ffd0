package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonaspfi/ledgernode/crypto"
	"github.com/jonaspfi/ledgernode/ledger"
)

type keyring struct {
	keys map[string]crypto.PrivateKey
}

func newKeyring() *keyring {
	return &keyring{keys: map[string]crypto.PrivateKey{}}
}

func (k *keyring) add(t *testing.T, name string) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	k.keys[name] = priv
	return priv
}

func (k *keyring) PublicKey(_ context.Context, name string) ([]byte, error) {
	priv, ok := k.keys[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return priv.Public().PEM(), nil
}

type errNotFound string

func (e errNotFound) Error() string { return "no such key: " + string(e) }

func signedTransfer(t *testing.T, k *keyring, tip ledger.Transaction, sender, recipient string, amount float64) ledger.Transaction {
	t.Helper()
	tx := ledger.Transaction{
		Index:        tip.Index + 1,
		Sender:       sender,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: tip.CurrentHash,
	}
	tx.CurrentHash = tx.Hash()
	senderSig, err := crypto.Sign(k.keys[sender], []byte(tx.CurrentHash))
	require.NoError(t, err)
	tx.SenderSignature = senderSig
	recipientSig, err := crypto.Sign(k.keys[recipient], []byte(tx.CurrentHash))
	require.NoError(t, err)
	tx.RecipientSignature = recipientSig
	return tx
}

func TestVerifyTransactionAcceptsValid(t *testing.T) {
	k := newKeyring()
	k.add(t, "alice")
	k.add(t, "bob")

	c := ledger.NewChain()
	tip := c.Genesis()
	k.add(t, "authority-1")

	tx := signedTransfer(t, k, tip, "alice", "bob", 10)
	require.NoError(t, c.VerifyTransaction(context.Background(), tx, k))
}

func TestVerifyTransactionRejectsBadSignature(t *testing.T) {
	k := newKeyring()
	k.add(t, "alice")
	k.add(t, "bob")
	k.add(t, "mallory")

	c := ledger.NewChain()
	tip := c.Genesis()

	tx := signedTransfer(t, k, tip, "alice", "bob", 10)
	tx.SenderSignature, _ = crypto.Sign(k.keys["mallory"], []byte(tx.CurrentHash))
	require.Error(t, c.VerifyTransaction(context.Background(), tx, k))
}

func TestVerifyAuthorityTransactionRequiresKnownAuthoritySig(t *testing.T) {
	k := newKeyring()
	k.add(t, "alice")
	k.add(t, "bob")
	authPriv := k.add(t, "authority-1")

	c := ledger.NewChain()
	tip := c.Genesis()

	tx := signedTransfer(t, k, tip, "alice", "bob", 10)
	require.Error(t, c.VerifyAuthorityTransaction(context.Background(), tx, []string{"authority-1"}, k))

	authSig, err := crypto.Sign(authPriv, []byte(tx.CurrentHash))
	require.NoError(t, err)
	tx.AuthoritySignature = authSig
	require.NoError(t, c.VerifyAuthorityTransaction(context.Background(), tx, []string{"authority-1"}, k))
}
