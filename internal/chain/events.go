package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/SafeMPC/stealth-sap/internal/types"
)

// DecodeTransferLog 解析 SATransaction 事件
func DecodeTransferLog(l ethtypes.Log) (*types.Announcement, error) {
	if len(l.Topics) != 3 || l.Topics[0] != SATransactionTopic {
		return nil, errors.Errorf("log %s is not a SATransaction event", l.TxHash.Hex())
	}
	vals, err := clientABI.Unpack("SATransaction", l.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack SATransaction")
	}
	amount, ok1 := vals[0].(*big.Int)
	cipher, ok2 := vals[1].([]byte)
	if !ok1 || !ok2 {
		return nil, errors.New("unexpected SATransaction field types")
	}
	return &types.Announcement{
		StealthAddress: common.BytesToAddress(l.Topics[1].Bytes()),
		Token:          common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:         amount,
		Ciphertext:     cipher,
		BlockNumber:    l.BlockNumber,
		TxHash:         l.TxHash,
		Tag:            types.ChainTagTransfer,
	}, nil
}

// DecodeBridgeLog 解析源链 SAMessageSent 事件，代币仍为源链地址
func DecodeBridgeLog(l ethtypes.Log, sourceChainID uint64) (*types.Announcement, error) {
	if len(l.Topics) != 4 || l.Topics[0] != SAMessageSentTopic {
		return nil, errors.Errorf("log %s is not a SAMessageSent event", l.TxHash.Hex())
	}
	vals, err := bridgeABI.Unpack("SAMessageSent", l.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack SAMessageSent")
	}
	token, ok1 := vals[0].(common.Address)
	amount, ok2 := vals[1].(*big.Int)
	cipher, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.New("unexpected SAMessageSent field types")
	}
	return &types.Announcement{
		StealthAddress: common.BytesToAddress(l.Topics[3].Bytes()),
		Token:          token,
		Amount:         amount,
		Ciphertext:     cipher,
		BlockNumber:    l.BlockNumber,
		TxHash:         l.TxHash,
		Tag:            types.ChainTagBridge,
		SourceChainID:  sourceChainID,
	}, nil
}

// SelectorTopic 将链选择器编码为事件 topic
func SelectorTopic(selector uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(selector))
}

// AddressTopic 将地址编码为事件 topic
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// EncodeTransferLog 构造 SATransaction 事件日志
func EncodeTransferLog(contract common.Address, a *types.Announcement) (ethtypes.Log, error) {
	data, err := clientABI.Events["SATransaction"].Inputs.NonIndexed().Pack(a.Amount, a.Ciphertext)
	if err != nil {
		return ethtypes.Log{}, errors.Wrap(err, "failed to pack SATransaction")
	}
	return ethtypes.Log{
		Address:     contract,
		Topics:      []common.Hash{SATransactionTopic, AddressTopic(a.StealthAddress), AddressTopic(a.Token)},
		Data:        data,
		BlockNumber: a.BlockNumber,
		TxHash:      a.TxHash,
	}, nil
}

// EncodeBridgeLog 构造 SAMessageSent 事件日志
func EncodeBridgeLog(contract common.Address, selector uint64, messageID common.Hash, a *types.Announcement) (ethtypes.Log, error) {
	data, err := bridgeABI.Events["SAMessageSent"].Inputs.NonIndexed().Pack(a.Token, a.Amount, a.Ciphertext, common.Address{}, big.NewInt(0))
	if err != nil {
		return ethtypes.Log{}, errors.Wrap(err, "failed to pack SAMessageSent")
	}
	return ethtypes.Log{
		Address:     contract,
		Topics:      []common.Hash{SAMessageSentTopic, messageID, SelectorTopic(selector), AddressTopic(a.StealthAddress)},
		Data:        data,
		BlockNumber: a.BlockNumber,
		TxHash:      a.TxHash,
	}, nil
}
