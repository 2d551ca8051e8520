package qortalnode

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/internal/core/ports"
)

const (
	testAPIKey     = "secret"
	atAddress      = "AYtX9VHF5f3EJJ3CGCyBgWwSGZDLNb8z1m"
	testHeight     = 42
	blockSignature = "3ZkzJd2p1hLbbGbCtbGwe3MSxzcy"
)

var (
	ctx       = context.Background()
	stateHash = []byte{1, 2, 3, 4}
	stateData = []byte{5, 6, 7, 8}
)

type nodeServer struct {
	*httptest.Server
	messages []messageJSON
	deployed []deployATJSON
}

func newNodeServer(t *testing.T) *nodeServer {
	ns := &nodeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/height", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != testAPIKey {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "%d", testHeight)
	})
	mux.HandleFunc(fmt.Sprintf("/blocks/byheight/%d/ats", testHeight), func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(blockJSON{
			Height:    testHeight,
			Signature: blockSignature,
			Timestamp: 1600000000000,
			DeployedATs: []atJSON{{
				Address:        atAddress,
				CodeHash:       base58.Encode([]byte{9, 9}),
				CreationHeight: testHeight,
				IsExecutable:   true,
			}},
			ATStates: []atStateJSON{{
				Address:   atAddress,
				Height:    testHeight,
				Creation:  1600000000000,
				StateHash: base58.Encode(stateHash),
				StateData: base58.Encode(stateData),
				Fees:      10,
				IsInitial: true,
			}},
		})
	})
	mux.HandleFunc("/blocks/byheight/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "block unknown", http.StatusNotFound)
	})
	mux.HandleFunc("/at/deploy", func(w http.ResponseWriter, r *http.Request) {
		var req deployATJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ns.deployed = append(ns.deployed, req)
		w.Write([]byte(`{"signature":"deploysig"}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			var msg messageJSON
			if err := json.Unmarshal(body, &msg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ns.messages = append(ns.messages, msg)
			w.Write([]byte(`{"signature":"msgsig"}`))
			return
		}
		if r.URL.Query().Get("recipient") != atAddress || r.URL.Query().Get("since") != "1000" {
			w.Write([]byte(`[]`))
			return
		}
		json.NewEncoder(w).Encode([]messageJSON{{
			Sender:    "QSender",
			Recipient: atAddress,
			Data:      base58.Encode([]byte("hello")),
			Timestamp: 2000,
			Height:    40,
			Signature: "sig1",
		}})
	})

	ns.Server = httptest.NewServer(mux)
	t.Cleanup(ns.Close)
	return ns
}

func newTestClient(t *testing.T, endpoint, apiKey string) *client {
	node, err := NewClient(endpoint, apiKey, 5*time.Second)
	require.NoError(t, err)
	c := node.(*client)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestClient(t *testing.T) {
	srv := newNodeServer(t)
	c := newTestClient(t, srv.URL+"/", testAPIKey)

	t.Run("chain height", func(t *testing.T) {
		height, err := c.GetChainHeight(ctx)
		require.NoError(t, err)
		require.Equal(t, testHeight, height)

		unauthorized := newTestClient(t, srv.URL, "")
		_, err = unauthorized.GetChainHeight(ctx)
		require.Error(t, err)
	})

	t.Run("get block", func(t *testing.T) {
		block, err := c.GetBlock(ctx, testHeight)
		require.NoError(t, err)
		require.NotNil(t, block)
		require.Equal(t, blockSignature, block.Signature)
		require.Len(t, block.DeployedATs, 1)
		require.Equal(t, []byte{9, 9}, block.DeployedATs[0].CodeHash)
		require.Len(t, block.ATStates, 1)
		require.Equal(t, stateHash, block.ATStates[0].StateHash)
		require.Equal(t, stateData, block.ATStates[0].StateData)

		block, err = c.GetBlock(ctx, testHeight+1)
		require.NoError(t, err)
		require.Nil(t, block)
	})

	t.Run("deploy AT", func(t *testing.T) {
		signature, err := c.DeployAT(ctx, ports.DeployATRequest{
			Name:       "QORT/LTC ACCT",
			ACCTName:   "LitecoinACCTv3",
			CodeHash:   []byte{9, 9},
			DataBytes:  []byte{1, 2, 3},
			QortAmount: 100,
		})
		require.NoError(t, err)
		require.Equal(t, "deploysig", signature)
		require.Len(t, srv.deployed, 1)
		require.Equal(t, []byte{1, 2, 3}, base58.Decode(srv.deployed[0].DataBytes))
	})

	t.Run("send message", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		signature, err := c.SendMessage(ctx, priv, atAddress, []byte("hello"))
		require.NoError(t, err)
		require.Equal(t, "msgsig", signature)
		require.Len(t, srv.messages, 1)

		msg := srv.messages[0]
		require.Equal(t, pub, ed25519.PublicKey(base58.Decode(msg.SenderPublicKey)))
		require.Equal(t, int64(1700000000000), msg.Timestamp)
		signed := messageSigningBytes(atAddress, []byte("hello"), msg.Timestamp)
		require.True(t, ed25519.Verify(pub, signed, base58.Decode(msg.Signature)))
	})

	t.Run("get messages", func(t *testing.T) {
		messages, err := c.GetMessages(ctx, atAddress, 1000)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		require.Equal(t, []byte("hello"), messages[0].Data)
		require.Equal(t, "QSender", messages[0].Sender)

		messages, err = c.GetMessages(ctx, "QOther", 1000)
		require.NoError(t, err)
		require.Empty(t, messages)
	})
}

func TestNewClient(t *testing.T) {
	for _, endpoint := range []string{"", "localhost", "://bad"} {
		_, err := NewClient(endpoint, "", 0)
		require.Error(t, err, endpoint)
	}
}

func TestDecodeInvalidState(t *testing.T) {
	_, err := blockJSON{
		Height:   1,
		ATStates: []atStateJSON{{Address: atAddress, StateHash: "0OIl"}},
	}.toPort()
	require.ErrorIs(t, err, ErrInvalidEncoding)
}
