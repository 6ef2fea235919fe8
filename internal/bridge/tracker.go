package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// StateSuccess 消息已在目标链执行
const StateSuccess = 2

// Message CCIP 消息状态
type Message struct {
	State               int         `json:"state"`
	DestTransactionHash common.Hash `json:"destTransactionHash"`
	MessageID           string      `json:"messageId,omitempty"`
}

// Tracker CCIP 消息查询接口
type Tracker interface {
	Lookup(ctx context.Context, txHash common.Hash) (*Message, error)
}

// HTTPTracker 通过消息浏览器查询跨链交易
type HTTPTracker struct {
	baseURL string
	client  *http.Client
}

var _ Tracker = (*HTTPTracker)(nil)

func NewHTTPTracker(baseURL string) *HTTPTracker {
	return &HTTPTracker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type trackerResponse struct {
	Data struct {
		TransactionHash struct {
			Nodes []Message `json:"nodes"`
		} `json:"transactionHash"`
	} `json:"data"`
}

// Lookup 查询交易对应的跨链消息，未执行完成时返回 ErrBridgeTxPending
func (t *HTTPTracker) Lookup(ctx context.Context, txHash common.Hash) (*Message, error) {
	if t.baseURL == "" {
		return nil, errors.New("bridge tracker url not configured")
	}
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bridge tracker url")
	}
	q := u.Query()
	q.Set("variables", fmt.Sprintf(`{"msgIdOrTxnHash":%q}`, txHash.Hex()))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(types.ErrChainQueryFailed, "bridge tracker: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(types.ErrChainQueryFailed, "bridge tracker: unexpected HTTP status %d", resp.StatusCode)
	}

	var body trackerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode bridge tracker response")
	}
	if len(body.Data.TransactionHash.Nodes) == 0 {
		return nil, errors.Errorf("transaction %s not found on bridge", txHash.Hex())
	}

	msg := body.Data.TransactionHash.Nodes[0]
	if msg.State < StateSuccess {
		return nil, errors.Wrapf(types.ErrBridgeTxPending, "%s", txHash.Hex())
	}
	return &msg, nil
}
