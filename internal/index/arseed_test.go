package index_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeMPC/stealth-sap/internal/index"
	"github.com/SafeMPC/stealth-sap/internal/types"
)

const wallet = "0x4F5f175d7626778DD48eE95409231868D7ACD39B"

func newArseed(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/bundle/orders/"+wallet, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"itemId":"manifest-1"},{"itemId":"manifest-0"}]`)
	})
	mux.HandleFunc("/manifest-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"endBlockAll":"300","indexList":[
			{"arHash":"batch-a","startBlock":1,"endBlock":100,"count":"2"},
			{"arHash":"batch-b","startBlock":"101","endBlock":"200","count":1,"sourceChain":97,"targetChain":11155111},
			{"arHash":"batch-c","startBlock":201,"endBlock":300,"count":0}]}`)
	})
	mux.HandleFunc("/batch-a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"cipher":"0x0102","saDest":"0x1111111111111111111111111111111111111111","amount":"1000","token":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE","block":5,"txHash":"0x0000000000000000000000000000000000000000000000000000000000000001"},
			{"cipher":"zz","saDest":"0x2222222222222222222222222222222222222222","amount":"7","token":"0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE","block":"6","type":"Bridge"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestArseedLatestAndBatch(t *testing.T) {
	srv := newArseed(t)
	c := index.NewArseedClient(srv.URL+"/", srv.URL+"/bundle/orders/", map[uint64]common.Address{
		11155111: common.HexToAddress(wallet),
	})
	ctx := context.Background()

	m, err := c.Latest(ctx, 11155111)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, index.Uint64(300), m.EndBlockAll)
	require.Len(t, m.Entries, 3)
	assert.True(t, m.Entries[1].Bridged())
	assert.False(t, m.Entries[0].Bridged())

	from := m.From(150)
	require.Len(t, from, 2)
	assert.Equal(t, "batch-b", from[0].Hash)
	assert.Empty(t, m.From(300))

	items, err := c.Batch(ctx, "batch-a")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []byte{0x01, 0x02}, items[0].Ciphertext)
	assert.Equal(t, int64(1000), items[0].Amount.Int64())
	assert.Equal(t, uint64(5), items[0].BlockNumber)
	assert.Nil(t, items[1].Ciphertext)
	assert.Equal(t, types.ChainTagBridge, items[1].Tag)
}

func TestArseedLatestWithoutWallet(t *testing.T) {
	srv := newArseed(t)
	c := index.NewArseedClient(srv.URL+"/", srv.URL+"/bundle/orders/", map[uint64]common.Address{})
	m, err := c.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestArseedBatchFailure(t *testing.T) {
	srv := newArseed(t)
	c := index.NewArseedClient(srv.URL+"/", srv.URL+"/bundle/orders/", nil)
	_, err := c.Batch(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrChainQueryFailed)
}
