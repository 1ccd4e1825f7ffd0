package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonaspfi/ledgernode/crypto"
	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/transport"
)

// network routes fake HTTP calls directly to the target Authority's
// handlers, keyed by node name, so multi-authority protocol flows can be
// exercised without a real listener.
type network struct {
	authorities map[string]*Authority
	keys        map[string]crypto.PublicKey
	down        map[string]bool
}

func newNetwork() *network {
	return &network{
		authorities: map[string]*Authority{},
		keys:        map[string]crypto.PublicKey{},
		down:        map[string]bool{},
	}
}

func (n *network) Post(_ context.Context, rawURL string, body any) ([]byte, int, error) {
	name, path, err := splitURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	if n.down[name] {
		return nil, 0, fmt.Errorf("network: %s unreachable", name)
	}
	auth, ok := n.authorities[name]
	if !ok {
		return nil, 404, nil
	}

	switch path {
	case "prepare_transaction":
		var req PrepareRequest
		if err := remarshal(body, &req); err != nil {
			return nil, 0, err
		}
		reply := auth.HandlePrepareTransaction(req)
		return encodePrepareReply(reply), 200, nil
	case "add_to_chain":
		var tx ledger.Transaction
		if err := remarshal(body, &tx); err != nil {
			return nil, 0, err
		}
		msg, err := auth.HandleAddToChain(context.Background(), tx)
		if err != nil {
			return nil, 500, err
		}
		return []byte(fmt.Sprintf(`{"message":%q}`, msg)), 200, nil
	case "unlock_transaction":
		auth.HandleUnlockTransaction()
		return []byte(`{"message":"unlocked"}`), 200, nil
	case "verify_transaction":
		var tx ledger.Transaction
		if err := remarshal(body, &tx); err != nil {
			return nil, 0, err
		}
		msg, err := auth.VerifyTransaction(context.Background(), tx)
		if err != nil {
			return nil, 500, err
		}
		return []byte(fmt.Sprintf(`{"message":%q}`, msg)), 200, nil
	case "synchronize":
		var req struct {
			Transactions []ledger.Transaction `json:"transactions"`
		}
		if err := remarshal(body, &req); err != nil {
			return nil, 0, err
		}
		msg, err := auth.HandleSynchronize(context.Background(), req.Transactions)
		if err != nil {
			return nil, 0, err
		}
		return []byte(fmt.Sprintf(`{"message":%q}`, msg)), 200, nil
	default:
		return nil, 404, nil
	}
}

func (n *network) Get(_ context.Context, rawURL string) ([]byte, int, error) {
	name, path, err := splitURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	if path != "public_key" {
		return nil, 404, nil
	}
	pub, ok := n.keys[name]
	if !ok {
		return nil, 404, nil
	}
	return []byte(fmt.Sprintf(`{"public_key":%q}`, string(pub.PEM()))), 200, nil
}

func (n *network) PublicKey(ctx context.Context, name string) ([]byte, error) {
	data, status, err := n.Get(ctx, fmt.Sprintf("http://%s:8000/public_key", name))
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("no key for %s", name)
	}
	var resp struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return []byte(resp.PublicKey), nil
}

func splitURL(raw string) (name, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	return u.Hostname(), strings.TrimPrefix(u.Path, "/"), nil
}

func remarshal(body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func encodePrepareReply(r PrepareReply) []byte {
	switch r.Kind {
	case PrepareAccepted:
		return []byte(`{"status":"accepted"}`)
	case PrepareNeedSync:
		return []byte(fmt.Sprintf(`{"message":%q,"current_index":%d}`, msgNeedSync, r.CurrentIndex))
	case PrepareBusy:
		return []byte(fmt.Sprintf(`{"message":%q,"blocker":%q}`, msgBusy, r.Blocker))
	default:
		return []byte(`{}`)
	}
}

func setupAuthorities(t *testing.T, names ...string) (*network, map[string]*Authority, *ledger.Chain) {
	t.Helper()
	n := newNetwork()
	chain := ledger.NewChain()
	chain.Genesis()

	auths := map[string]*Authority{}
	clock := transport.NewFakeClock(time.Unix(0, 0))
	for _, name := range names {
		priv, pub, err := crypto.GenerateKeypair()
		require.NoError(t, err)
		n.keys[name] = pub

		a := NewAuthority(name, names, priv, chain, transport.NewPeerAdapter(n), n, clock)
		auths[name] = a
		n.authorities[name] = a
	}
	return n, auths, chain
}

func depositTx(t *testing.T, chain *ledger.Chain, priv crypto.PrivateKey, name string, amount float64) ledger.Transaction {
	t.Helper()
	tip, err := chain.Tip()
	require.NoError(t, err)
	tx := ledger.Transaction{
		Index:        tip.Index + 1,
		Sender:       name,
		Recipient:    name,
		Amount:       amount,
		PreviousHash: tip.CurrentHash,
	}
	tx.CurrentHash = tx.Hash()
	sig, err := crypto.Sign(priv, []byte(tx.CurrentHash))
	require.NoError(t, err)
	tx.SenderSignature = sig
	tx.RecipientSignature = sig
	return tx
}

func TestVerifyTransactionCommitsAcrossAllAuthorities(t *testing.T) {
	_, auths, chain := setupAuthorities(t, "auth1", "auth2", "auth3")

	alicePriv, alicePub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	for _, a := range auths {
		a.resolver.(*network).keys["alice"] = alicePub
	}

	tx := depositTx(t, chain, alicePriv, "alice", 100)
	msg, err := auths["auth1"].VerifyTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, "transaction accepted", msg)
	require.Equal(t, 2, chain.Len())
	require.Equal(t, float64(100), chain.Balance("alice"))
}

func TestVerifyTransactionTryAgainWhenLocked(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	auths["auth1"].tryAcquire()

	msg, err := auths["auth1"].VerifyTransaction(context.Background(), ledger.Transaction{})
	require.NoError(t, err)
	require.Equal(t, "try again", msg)
}

func TestVerifyTransactionInsufficientBalance(t *testing.T) {
	_, auths, chain := setupAuthorities(t, "auth1", "auth2")

	alicePriv, alicePub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	_, bobPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	for _, a := range auths {
		a.resolver.(*network).keys["alice"] = alicePub
		a.resolver.(*network).keys["bob"] = bobPub
	}

	tip, _ := chain.Tip()
	tx := ledger.Transaction{Index: tip.Index + 1, Sender: "alice", Recipient: "bob", Amount: 50, PreviousHash: tip.CurrentHash}
	tx.CurrentHash = tx.Hash()
	sig, _ := crypto.Sign(alicePriv, []byte(tx.CurrentHash))
	tx.SenderSignature = sig

	msg, err := auths["auth1"].VerifyTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, "Insufficient balance", msg)
	require.Equal(t, 1, chain.Len())
}

func TestWatchdogClearsStaleLock(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	a := auths["auth1"]
	a.tryAcquire()
	require.Equal(t, "auth1", a.currentBlocker())

	fc := a.clock.(*transport.FakeClock)
	fc.Advance(6 * time.Second)
	a.checkDeadline()

	require.Equal(t, none, a.currentBlocker())
}

func TestWatchdogLeavesFreshLockAlone(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	a := auths["auth1"]
	a.tryAcquire()

	fc := a.clock.(*transport.FakeClock)
	fc.Advance(2 * time.Second)
	a.checkDeadline()

	require.Equal(t, "auth1", a.currentBlocker())
}

func TestHandlePrepareTransactionBusyWhenLocked(t *testing.T) {
	_, auths, chain := setupAuthorities(t, "auth1", "auth2")
	a := auths["auth1"]
	a.tryAcquire()

	tip, _ := chain.Tip()
	reply := a.HandlePrepareTransaction(PrepareRequest{Transaction: ledger.Transaction{Index: tip.Index + 1}, ContainerName: "auth2"})
	require.Equal(t, PrepareBusy, reply.Kind)
	require.Equal(t, "auth1", reply.Blocker)
}

func TestHandlePrepareTransactionNeedsSyncOnIndexMismatch(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	a := auths["auth1"]

	reply := a.HandlePrepareTransaction(PrepareRequest{Transaction: ledger.Transaction{Index: 99}, ContainerName: "auth2"})
	require.Equal(t, PrepareNeedSync, reply.Kind)
}

func TestHandleAddToChainIsIdempotent(t *testing.T) {
	_, auths, chain := setupAuthorities(t, "auth1", "auth2")
	alicePriv, alicePub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	for _, a := range auths {
		a.resolver.(*network).keys["alice"] = alicePub
	}

	tx := depositTx(t, chain, alicePriv, "alice", 10)
	tx.AuthoritySignature, err = crypto.Sign(auths["auth1"].priv, []byte(tx.CurrentHash))
	require.NoError(t, err)

	msg, err := auths["auth1"].HandleAddToChain(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, "transaction added", msg)

	msg, err = auths["auth1"].HandleAddToChain(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, "transaction was already processed", msg)
}

func TestJoinPushesChainAndRecordsParticipant(t *testing.T) {
	n, auths, _ := setupAuthorities(t, "auth1")

	received := make(chan []ledger.Transaction, 1)
	n2 := &recordingNetwork{network: n, received: received}
	auths["auth1"].peers = transport.NewPeerAdapter(n2)

	err := auths["auth1"].HandleJoin(context.Background(), "participant-1")
	require.NoError(t, err)
	require.Contains(t, auths["auth1"].state.connectedNodes, "participant-1")

	select {
	case txs := <-received:
		require.Len(t, txs, 1)
	case <-time.After(time.Second):
		t.Fatal("synchronize was not called")
	}
}

type recordingNetwork struct {
	*network
	received chan []ledger.Transaction
}

func (r *recordingNetwork) Post(ctx context.Context, rawURL string, body any) ([]byte, int, error) {
	name, path, err := splitURL(rawURL)
	if err != nil {
		return nil, 0, err
	}
	if path == "synchronize" {
		var req struct {
			Transactions []ledger.Transaction `json:"transactions"`
		}
		if err := remarshal(body, &req); err != nil {
			return nil, 0, err
		}
		r.received <- req.Transactions
		return []byte(`{"message":"synchronized"}`), 200, nil
	}
	if _, ok := r.authorities[name]; ok {
		return r.network.Post(ctx, rawURL, body)
	}
	return nil, 404, nil
}

func TestHandleSynchronizeAdoptsLongerValidChain(t *testing.T) {
	n, auths, chain := setupAuthorities(t, "auth1")

	xPriv, xPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	n.keys["x"] = xPub

	extra := depositTx(t, chain, xPriv, "x", 5)
	authSig, err := crypto.Sign(auths["auth1"].priv, []byte(extra.CurrentHash))
	require.NoError(t, err)
	extra.AuthoritySignature = authSig

	msg, err := auths["auth1"].HandleSynchronize(context.Background(), append(chain.All(), extra))
	require.NoError(t, err)
	require.Equal(t, "synchronized", msg)
	require.Equal(t, 2, chain.Len())
}

func TestSeedWelcomeGrantProducesAVerifiableMint(t *testing.T) {
	_, auths, chain := setupAuthorities(t, "auth1")
	a := auths["auth1"]
	a.SetWelcomeGrant(1000)

	require.NoError(t, a.seedWelcomeGrant("participant-1"))
	require.Equal(t, float64(1000), chain.Balance("participant-1"))

	require.NoError(t, ledger.VerifyWholeChain(context.Background(), chain.All(), a.authorities, a.resolver))
}

func TestInitiateLockReleaseElectsLexicographicallySmallest(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	a1 := auths["auth1"]
	a2 := auths["auth2"]

	a1.tryAcquire()
	a2.tryAcquire()
	// A driver's prepare to itself comes back busy with its own name, so
	// auth1's competing-blocker list holds its own name as well as auth2's.
	a1.recordCompetingBlocker("auth1")
	a1.recordCompetingBlocker("auth2")
	a2.recordCompetingBlocker("auth1")

	// auth1 is the smallest entry in its own list: it broadcasts unlock,
	// clearing both its own lock and auth2's.
	a1.initiateLockRelease(context.Background(), "round-1")
	require.Equal(t, none, a1.currentBlocker())
	require.Equal(t, none, a2.currentBlocker())
}

func TestInitiateLockReleaseDoesNothingWhenNotElected(t *testing.T) {
	_, auths, _ := setupAuthorities(t, "auth1", "auth2")
	a1 := auths["auth1"]
	a2 := auths["auth2"]

	a1.tryAcquire()
	a2.tryAcquire()
	a2.recordCompetingBlocker("auth1")

	// auth2 sees only "auth1" as a competing blocker, which is smaller than
	// "auth2", so auth2 does not broadcast; both locks remain held.
	a2.initiateLockRelease(context.Background(), "round-2")
	require.Equal(t, "auth1", a1.currentBlocker())
	require.Equal(t, "auth2", a2.currentBlocker())
}
